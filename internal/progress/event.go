package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Stage denotes the milestone of a monitor run represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageMonitorStart   Stage = "MONITOR_START"
	StageMonitorEvent   Stage = "MONITOR_EVENT"
	StageMonitorDone    Stage = "MONITOR_DONE"
	StageMonitorTimeout Stage = "MONITOR_TIMEOUT"
	StageMonitorError   Stage = "MONITOR_ERROR"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	switch s {
	case StageMonitorDone, StageMonitorTimeout, StageMonitorError:
		return true
	default:
		return false
	}
}

// Event captures one step of a monitor run.
type Event struct {
	// RunID identifies a single monitor invocation in ULID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Kind is the monitored job kind, crawl or search.
	Kind string
	// JobID is the upstream request id being monitored.
	JobID string
	// EventType is the upstream event type for MONITOR_EVENT.
	EventType string
	// JobStatus is the upstream job status when the event carried one.
	JobStatus string
	// Events counts stream events collected so far.
	Events int
	// Dur is the elapsed run time.
	Dur time.Duration
	// Note holds low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Kind == "" {
		return errors.New("kind is required")
	}
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	switch e.Stage {
	case StageMonitorStart, StageMonitorDone, StageMonitorTimeout, StageMonitorError:
	case StageMonitorEvent:
		if e.EventType == "" {
			return errors.New("monitor event requires event type")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Events < 0 {
		return errors.New("events must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunULID converts the binary run id back to a ulid.ULID.
func (e Event) RunULID() ulid.ULID {
	return ulid.ULID(e.RunID)
}
