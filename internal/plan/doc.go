// Package plan defines the data model shared by every planrunner component:
// plans (reusable task templates), instances (one execution run of a plan)
// and the task and instance state machines.
//
// A [Plan] is created once and may be updated explicitly. Each call to
// [NewInstance] produces an independent copy of the plan's tasks so that runs
// never share status. Instances are mutated only through the resolver
// package; the types here carry no locking of their own.
//
// Usage:
//
//	p := &plan.Plan{ProjectID: "proj", Name: "release", Tasks: tasks}
//	p.Normalize(time.Now())
//
//	inst := plan.NewInstance(p, "", time.Now())
//	counts := inst.Counts()
package plan
