// Package logging provides a minimal logging interface and adapters for the
// agentic chat runtime.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the control loop, runner and transports use. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ChatLogger carrying component, thread and run context
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	r := runner.New(loop, runner.WithLogger(logger))
package logging
