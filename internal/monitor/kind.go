package monitor

import (
	"context"
	"fmt"

	"github.com/watercrawl/watercrawl-mcp/internal/watercrawl"
)

// JobKind selects which upstream status stream a monitor call follows.
type JobKind string

// Supported job kinds.
const (
	KindCrawl  JobKind = "crawl"
	KindSearch JobKind = "search"
)

// Kinds lists the accepted kind names in a stable order.
func Kinds() []string {
	return []string{string(KindCrawl), string(KindSearch)}
}

// ParseJobKind maps a caller-supplied name onto a JobKind.
func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(s)
	if _, ok := policies[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// kindPolicy is everything that differs between job kinds: how to open the
// stream and which events end the run.
type kindPolicy struct {
	open     func(ctx context.Context, c JobClient, id string, download bool) (watercrawl.EventSource, error)
	terminal func(evt watercrawl.Event, stopOnResult bool) bool
}

var policies = map[JobKind]kindPolicy{
	KindCrawl: {
		open: func(ctx context.Context, c JobClient, id string, download bool) (watercrawl.EventSource, error) {
			return c.MonitorCrawlRequest(ctx, id, download)
		},
		terminal: func(evt watercrawl.Event, stopOnResult bool) bool {
			if evt.Type == watercrawl.EventResult {
				return stopOnResult
			}
			return terminalState(evt)
		},
	},
	KindSearch: {
		open: func(ctx context.Context, c JobClient, id string, download bool) (watercrawl.EventSource, error) {
			return c.MonitorSearchRequest(ctx, id, download)
		},
		terminal: func(evt watercrawl.Event, _ bool) bool {
			return terminalState(evt)
		},
	},
}

func terminalState(evt watercrawl.Event) bool {
	return evt.Type == watercrawl.EventState && watercrawl.IsTerminalStatus(evt.Status())
}
