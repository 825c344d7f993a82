// Package executor runs plan instances with bounded parallelism.
//
// The Executor owns a single loop goroutine that is the only caller of the
// resolver for the instance being run. Ready tasks are marked RUNNING and
// handed to a sourcegraph/conc pool limited to Config.MaxParallel
// goroutines; each performer outcome comes back over one channel and is
// applied by the loop, which then dispatches whatever became ready.
//
// # Basic Usage
//
//	exec := executor.New(executor.DefaultConfig(), res, performer.NewCommand())
//	report, err := exec.Run(ctx, inst)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(report.Status, report.Blocked)
package executor
