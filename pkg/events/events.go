// Package events carries the tagged server-sent events of one chat request
// from the pipeline to the HTTP layer.
package events

import "sync"

// Type tags an event for the client.
type Type string

// Event types, in rough emission order for a streamed request.
const (
	TypeThought    Type = "thought"
	TypePlan       Type = "plan"
	TypeTaskResult Type = "task_result"
	TypeTasksDone  Type = "tasks_done"
	TypeChunk      Type = "chunk"
	TypeDone       Type = "done"
	TypeError      Type = "error"
)

// Event is one tagged payload.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// Stream is a closable event channel for one request. Publishing after close
// is a silent no-op so producers never race the client disconnecting.
type Stream struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewStream builds a stream with the given buffer.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan Event, buffer)}
}

// Publish sends the event unless the stream is closed or the buffer is
// full. Slow clients lose events rather than stalling the pipeline.
func (s *Stream) Publish(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// Events returns the receive side.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close terminates the stream. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
