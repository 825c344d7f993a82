package planner

import (
	"reflect"
	"testing"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/plan"
)

func task(id string, needs ...string) plan.Task {
	if needs == nil {
		needs = []string{}
	}
	return plan.Task{ID: id, Name: id, Role: "worker", Needs: needs}
}

func TestGroups(t *testing.T) {
	tests := []struct {
		name  string
		tasks []plan.Task
		want  [][]string
	}{
		{
			name:  "empty",
			tasks: nil,
			want:  nil,
		},
		{
			name:  "independent tasks share one group",
			tasks: []plan.Task{task("a"), task("b"), task("c")},
			want:  [][]string{{"a", "b", "c"}},
		},
		{
			name:  "linear chain",
			tasks: []plan.Task{task("a"), task("b", "a"), task("c", "b")},
			want:  [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name:  "diamond",
			tasks: []plan.Task{task("1"), task("2", "1"), task("3", "1"), task("4", "2", "3")},
			want:  [][]string{{"1"}, {"2", "3"}, {"4"}},
		},
		{
			name:  "longest path decides the level",
			tasks: []plan.Task{task("a"), task("b", "a"), task("c", "a", "b"), task("d")},
			want:  [][]string{{"a", "d"}, {"b"}, {"c"}},
		},
		{
			name:  "collection order kept when dependents come first",
			tasks: []plan.Task{task("z", "y"), task("y"), task("x")},
			want:  [][]string{{"y", "x"}, {"z"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Groups(tt.tasks)
			if err != nil {
				t.Fatalf("Groups() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Groups() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroups_DependenciesInEarlierGroups(t *testing.T) {
	tasks := []plan.Task{
		task("fetch"),
		task("lint", "fetch"),
		task("build", "fetch"),
		task("unit", "build"),
		task("integration", "build", "lint"),
		task("package", "unit", "integration"),
		task("docs"),
	}

	groups, err := Groups(tasks)
	if err != nil {
		t.Fatalf("Groups() error = %v", err)
	}

	idx := GroupIndex(groups)
	if len(idx) != len(tasks) {
		t.Fatalf("expected every task assigned once, got %d of %d", len(idx), len(tasks))
	}
	for _, tk := range tasks {
		for _, dep := range tk.Needs {
			if idx[tk.ID] <= idx[dep] {
				t.Errorf("task %s (group %d) not after dependency %s (group %d)", tk.ID, idx[tk.ID], dep, idx[dep])
			}
		}
	}
	if got := MaxParallelism(groups); got != 2 {
		t.Errorf("MaxParallelism() = %d, want 2", got)
	}
}

func TestGroups_Unschedulable(t *testing.T) {
	t.Run("dangling need", func(t *testing.T) {
		groups, err := Groups([]plan.Task{task("a"), task("x", "y")})

		if !errors.Is(err, errors.ErrUnschedulable) {
			t.Fatalf("expected ErrUnschedulable, got %v", err)
		}
		var unsched *errors.UnschedulableError
		if !errors.As(err, &unsched) {
			t.Fatalf("expected *UnschedulableError, got %T", err)
		}
		if !reflect.DeepEqual(unsched.TaskIDs, []string{"x"}) {
			t.Errorf("TaskIDs = %v, want [x]", unsched.TaskIDs)
		}
		if !reflect.DeepEqual(unsched.Missing, map[string][]string{"x": {"y"}}) {
			t.Errorf("Missing = %v", unsched.Missing)
		}
		if !reflect.DeepEqual(groups, [][]string{{"a"}}) {
			t.Errorf("partial groups = %v, want [[a]]", groups)
		}
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := Groups([]plan.Task{task("a"), task("b", "c"), task("c", "b"), task("d", "c")})

		var unsched *errors.UnschedulableError
		if !errors.As(err, &unsched) {
			t.Fatalf("expected *UnschedulableError, got %v", err)
		}
		if !reflect.DeepEqual(unsched.TaskIDs, []string{"b", "c", "d"}) {
			t.Errorf("TaskIDs = %v, want [b c d]", unsched.TaskIDs)
		}
		if unsched.Missing != nil {
			t.Errorf("cycle should report no missing needs, got %v", unsched.Missing)
		}
	})

	t.Run("self dependency", func(t *testing.T) {
		_, err := Groups([]plan.Task{task("a", "a")})
		if !errors.Is(err, errors.ErrUnschedulable) {
			t.Fatalf("expected ErrUnschedulable, got %v", err)
		}
	})
}

func TestCriticalPath(t *testing.T) {
	tests := []struct {
		name  string
		tasks []plan.Task
		want  []string
	}{
		{"empty", nil, nil},
		{"single", []plan.Task{task("a")}, []string{"a"}},
		{
			name:  "diamond",
			tasks: []plan.Task{task("1"), task("2", "1"), task("3", "1"), task("4", "2", "3")},
			want:  []string{"1", "2", "4"},
		},
		{
			name:  "longest branch wins",
			tasks: []plan.Task{task("a"), task("b"), task("c", "b"), task("d", "c"), task("e", "a")},
			want:  []string{"b", "c", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CriticalPath(tt.tasks)
			if err != nil {
				t.Fatalf("CriticalPath() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CriticalPath() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := CriticalPath([]plan.Task{task("x", "missing")}); !errors.Is(err, errors.ErrUnschedulable) {
		t.Errorf("expected ErrUnschedulable, got %v", err)
	}
}
