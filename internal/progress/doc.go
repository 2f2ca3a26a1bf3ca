// Package progress carries monitor-run progress events from the monitor
// engine to pluggable sinks. Events are batched on a background goroutine so
// that emitting never blocks a monitoring loop.
package progress
