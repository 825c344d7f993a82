package performer

import (
	"context"
	"testing"

	"github.com/Iron-Ham/planrunner/internal/executor"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/sharedctx"
)

func constant(output string) executor.PerformerFunc {
	return func(context.Context, plan.Task, sharedctx.Store) (executor.Result, error) {
		return executor.Result{Status: executor.ResultSuccess, Output: output}, nil
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter(constant("fallback"))
	r.HandleFunc("review", constant("review"))
	r.Handle("build", constant("build"))

	tests := []struct {
		role string
		want string
	}{
		{"review", "review"},
		{"build", "build"},
		{"unknown", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			res, err := r.Perform(context.Background(), plan.Task{ID: "t", Role: tt.role}, nil)
			if err != nil {
				t.Fatalf("Perform: %v", err)
			}
			if res.Output != tt.want {
				t.Errorf("output = %v, want %s", res.Output, tt.want)
			}
		})
	}
}

func TestRouter_NoFallback(t *testing.T) {
	r := NewRouter(nil)
	res, err := r.Perform(context.Background(), plan.Task{ID: "t", Role: "ghost"}, nil)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if res.Status != executor.ResultFailure || res.Message != `no performer for role "ghost"` {
		t.Errorf("result = %+v", res)
	}
}
