// Package logging provides structured logging for planrunner.
//
// The package wraps Go's log/slog to emit JSON records that carry the plan,
// instance and task they relate to, so a run can be reconstructed from the
// log after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/lib/planrunner/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLogger := logger.WithPlan("p-42").WithInstance("7f3c")
//	runLogger.WithTask("build").Info("task completed", "duration_ms", 150)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"task completed","plan_id":"p-42","instance_id":"7f3c","task_id":"build","duration_ms":150}
//
// # Testing
//
// Components default to [NopLogger] when no logger is injected. Tests that
// want to assert on log output can use [NewLoggerWithWriter] with a buffer.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
package logging
