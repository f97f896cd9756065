// Package nplog provides a small, leveled logging interface for the
// pipeline engine (spec §4.10).
//
// # Log levels
//
//   - LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError: the four
//     message levels, from most to least verbose
//   - LogLevelNone: disables all logging
//
// The pipeline Runner logs run start and completion at LogLevelInfo and
// run failure at LogLevelError. Node lifecycle, retries, circuit-breaker
// transitions, queue drops and late window items are not logged.
//
// # Implementations
//
// DefaultLogger wraps the standard library's log package and backs the
// package-level Debug/Info/Warn/Error functions; the pipeline Runner
// uses NoOpLogger when RunnerOptions.Logger is nil. GologLogger wraps
// github.com/kataras/golog for callers who want golog's structured
// output and level filtering:
//
//	glogger := golog.New()
//	logger := nplog.NewGologLogger(glogger)
//	logger.SetLevel(nplog.LogLevelDebug)
//
// NoOpLogger discards everything and is useful in tests that assert on
// observer behavior rather than log output.
//
// RunnerOptions.Logger accepts any Logger implementation; callers
// needing structured fields or log aggregation can provide their own.
package nplog
