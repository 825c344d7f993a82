package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestIsSnapshot(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/s/p/plan/instance.json", true},
		{"/s/p/plan/instances/abc.json", true},
		{"/s/p/plan/plan.json", false},
		{"/s/p/plan/.lock", false},
		{"/s/p/plan/instances/.tmp-123", false},
		{"/s/p/plan/instances/abc.txt", false},
	}
	for _, tt := range tests {
		if got := IsSnapshot(tt.path); got != tt.want {
			t.Errorf("IsSnapshot(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcher_ReportsSnapshotChanges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj", "plan")
	w, err := New(WithDebounce(20 * time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.AddPlanDir(dir); err != nil {
		t.Fatalf("AddPlanDir: %v", err)
	}
	// Adding twice is harmless.
	if err := w.AddPlanDir(dir); err != nil {
		t.Fatalf("AddPlanDir again: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]int{}
	got := make(chan struct{}, 16)
	go func() {
		_ = w.Run(ctx, func(path string) {
			mu.Lock()
			seen[filepath.Base(path)]++
			mu.Unlock()
			got <- struct{}{}
		})
	}()

	// Write via temp file and rename, like the file store.
	tmp := filepath.Join(dir, "instances", ".tmp-1")
	if err := os.WriteFile(tmp, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "instances", "i1.json")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plan.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["i1.json"] == 0 {
		t.Errorf("instance snapshot not reported: %v", seen)
	}
	if seen["plan.json"] != 0 || seen[".tmp-1"] != 0 {
		t.Errorf("non-snapshot files reported: %v", seen)
	}
}

func TestWatcher_StopsOnContext(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx, func(string) {}); err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
