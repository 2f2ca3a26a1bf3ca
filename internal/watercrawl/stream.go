package watercrawl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// EventSource is a pull-based, single-pass sequence of status events.
// Next returns io.EOF once the stream is exhausted. Close releases the
// underlying connection and is safe to call more than once.
type EventSource interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// sseStream decodes a text/event-stream body where every event's data is a
// JSON-encoded Event.
type sseStream struct {
	op       string
	body     io.ReadCloser
	reader   *bufio.Reader
	resolve  func(context.Context, json.RawMessage) (json.RawMessage, error)
	closeErr error
	once     sync.Once
	done     bool
}

func newSSEStream(op string, body io.ReadCloser) *sseStream {
	return &sseStream{
		op:     op,
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Next blocks until the next event arrives. Blank keep-alive frames and
// comment lines are skipped.
func (s *sseStream) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, fmt.Errorf("watercrawl %s stream: %w", s.op, err)
		}
		if s.done {
			return Event{}, io.EOF
		}
		data, err := s.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				if len(data) == 0 {
					return Event{}, io.EOF
				}
			} else {
				return Event{}, fmt.Errorf("watercrawl %s stream: %w", s.op, err)
			}
		}
		if len(data) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return Event{}, fmt.Errorf("watercrawl %s stream: decode event: %w", s.op, err)
		}
		if evt.Type == EventResult && s.resolve != nil {
			resolved, err := s.resolve(ctx, evt.Data)
			if err != nil {
				return Event{}, fmt.Errorf("watercrawl %s stream: %w", s.op, err)
			}
			evt.Data = resolved
		}
		return evt, nil
	}
}

// readFrame collects the data lines of one event. It returns io.EOF together
// with any data accumulated before the body ended.
func (s *sseStream) readFrame() ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := s.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if err == nil && buf.Len() > 0 {
				return buf.Bytes(), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		if err != nil {
			return buf.Bytes(), err
		}
		if line == "" && buf.Len() == 0 {
			return nil, nil
		}
	}
}

// Close closes the response body.
func (s *sseStream) Close() error {
	s.once.Do(func() {
		s.done = true
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// openStream starts a status stream at path. With download set the API is
// asked to inline results and any result still given as a link is fetched.
func (c *Client) openStream(ctx context.Context, op, path string, download bool) (EventSource, error) {
	query := url.Values{"prefetched": []string{strconv.FormatBool(download)}}
	resp, err := c.send(ctx, op, http.MethodGet, c.endpoint(path, query), nil, "text/event-stream")
	if err != nil {
		return nil, err
	}
	stream := newSSEStream(op, resp.Body)
	if download {
		stream.resolve = c.resolveResult
	}
	return stream, nil
}

// SliceSource replays a fixed list of events. It is useful as a stand-in
// EventSource.
type SliceSource struct {
	events []Event
	pos    int
	closed bool
}

// NewSliceSource returns a source that yields events in order, then io.EOF.
func NewSliceSource(events ...Event) *SliceSource {
	return &SliceSource{events: events}
}

// Next returns the next event or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.closed || s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	evt := s.events[s.pos]
	s.pos++
	return evt, nil
}

// Close marks the source exhausted.
func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *SliceSource) Closed() bool {
	return s.closed
}
