package planner

import "github.com/Iron-Ham/planrunner/internal/plan"

// CriticalPath returns the longest chain of dependent tasks, ordered from the
// first task to run to the last. Ties are broken by collection order. It
// returns the same error as Groups when the collection is unschedulable.
func CriticalPath(tasks []plan.Task) ([]string, error) {
	groups, err := Groups(tasks)
	if err != nil {
		return nil, err
	}
	_, byID := index(tasks)

	depth := make(map[string]int)
	prev := make(map[string]string)
	var tail string
	for _, group := range groups {
		for _, id := range group {
			depth[id] = 1
			for _, dep := range byID[id].Needs {
				if depth[dep]+1 > depth[id] {
					depth[id] = depth[dep] + 1
					prev[id] = dep
				}
			}
			if tail == "" || depth[id] > depth[tail] {
				tail = id
			}
		}
	}
	if tail == "" {
		return nil, nil
	}

	path := make([]string, depth[tail])
	for i, id := len(path)-1, tail; i >= 0; i-- {
		path[i] = id
		id = prev[id]
	}
	return path, nil
}
