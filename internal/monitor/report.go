package monitor

import (
	"errors"
	"fmt"

	"github.com/watercrawl/watercrawl-mcp/internal/watercrawl"
)

// Errors reported before any upstream call is made.
var (
	ErrUnknownKind    = errors.New("unknown monitor type")
	ErrInvalidTimeout = errors.New("timeout must be a positive number of seconds")
	ErrMissingJobID   = errors.New("request id is required")
)

// ReportStatus is how a monitor call ended.
type ReportStatus string

// Report statuses. A timeout is a normal outcome, not an error.
const (
	StatusCompleted ReportStatus = "completed"
	StatusTimeout   ReportStatus = "timeout"
)

// Options tune a single monitor call.
type Options struct {
	// Download asks the client to inline result payloads.
	Download bool
	// TimeoutSeconds is the wall-clock budget for the whole call.
	TimeoutSeconds int
}

// DefaultOptions returns download on and a 30 second budget.
func DefaultOptions() Options {
	return Options{Download: true, TimeoutSeconds: 30}
}

// Report is the outcome of a monitor call. Events holds every event pulled
// from the stream, in arrival order, including the one that ended the run.
type Report struct {
	Status  ReportStatus       `json:"status"`
	Message string             `json:"message,omitempty"`
	Events  []watercrawl.Event `json:"events"`
}

func completedReport(events []watercrawl.Event) Report {
	return Report{Status: StatusCompleted, Events: events}
}

func timeoutReport(seconds int, events []watercrawl.Event) Report {
	return Report{
		Status:  StatusTimeout,
		Message: fmt.Sprintf("Monitoring timed out after %d seconds", seconds),
		Events:  events,
	}
}
