// Package sinks implements progress consumers for monitor runs: structured
// logging and Prometheus collectors. Each sink satisfies progress.Sink.
package sinks
