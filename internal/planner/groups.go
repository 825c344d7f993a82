package planner

import (
	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/plan"
)

// Groups partitions tasks into ordered groups such that every task appears in
// exactly one group and always in a later group than each of its needs. Each
// group holds every task whose needs were all placed in earlier groups, so
// the partition is by longest dependency path. Within a group, ids keep
// collection order.
//
// When no further group can be formed while tasks remain, Groups returns the
// groups computed so far together with an *errors.UnschedulableError listing
// the remaining tasks. That happens for cycles and for needs that reference
// ids absent from the collection.
func Groups(tasks []plan.Task) ([][]string, error) {
	order, byID := index(tasks)
	assigned := make(map[string]bool, len(order))

	var groups [][]string
	for len(assigned) < len(order) {
		var group []string
		for _, id := range order {
			if assigned[id] {
				continue
			}
			if allAssigned(byID[id].Needs, assigned) {
				group = append(group, id)
			}
		}

		if len(group) == 0 {
			return groups, unschedulable(order, byID, assigned)
		}

		// Marked after the scan so tasks in the same group never satisfy each other.
		for _, id := range group {
			assigned[id] = true
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// GroupIndex returns, for each task id, the index of the group it belongs to.
func GroupIndex(groups [][]string) map[string]int {
	idx := make(map[string]int)
	for i, group := range groups {
		for _, id := range group {
			idx[id] = i
		}
	}
	return idx
}

// MaxParallelism returns the size of the largest group, the number of workers
// beyond which a run of these tasks gains nothing.
func MaxParallelism(groups [][]string) int {
	largest := 0
	for _, g := range groups {
		if len(g) > largest {
			largest = len(g)
		}
	}
	return largest
}

// index returns task ids in collection order and a lookup by id. A repeated
// id keeps its first definition.
func index(tasks []plan.Task) ([]string, map[string]*plan.Task) {
	order := make([]string, 0, len(tasks))
	byID := make(map[string]*plan.Task, len(tasks))
	for i := range tasks {
		id := tasks[i].ID
		if _, dup := byID[id]; dup {
			continue
		}
		byID[id] = &tasks[i]
		order = append(order, id)
	}
	return order, byID
}

func allAssigned(needs []string, assigned map[string]bool) bool {
	for _, dep := range needs {
		if !assigned[dep] {
			return false
		}
	}
	return true
}

func unschedulable(order []string, byID map[string]*plan.Task, assigned map[string]bool) *errors.UnschedulableError {
	var remaining []string
	missing := make(map[string][]string)
	for _, id := range order {
		if assigned[id] {
			continue
		}
		remaining = append(remaining, id)
		for _, dep := range byID[id].Needs {
			if _, ok := byID[dep]; !ok {
				missing[id] = append(missing[id], dep)
			}
		}
	}

	err := errors.NewUnschedulableError(remaining)
	if len(missing) > 0 {
		err.Missing = missing
	}
	return err
}
