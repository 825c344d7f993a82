// Package planner performs static analysis of a task collection: it
// partitions tasks into ordered parallel groups ("waves"), detects dependency
// cycles and dangling references, finds the critical path, and validates plan
// definitions before they are stored.
//
// Nothing in this package mutates task status. The live executor reacts to
// real completion events; [Groups] answers the capacity-planning question of
// how a plan would run if every task took the same time.
//
// Usage:
//
//	groups, err := planner.Groups(p.Tasks)
//	if errors.Is(err, errors.ErrUnschedulable) {
//	    // cycle or dangling need
//	}
//
//	if err := planner.ValidatePlan(p).Err(); err != nil {
//	    return err
//	}
package planner
