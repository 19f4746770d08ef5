package graph

import "time"

// EventKind is the lifecycle stage of a node
type EventKind string

const (
	NodeStarted  EventKind = "node_started"
	NodeFinished EventKind = "node_finished"
	NodeFailed   EventKind = "node_failed"
)

// Event reports node progress during a run
type Event struct {
	RunID   string        `json:"run_id"`
	Node    string        `json:"node"`
	Kind    EventKind     `json:"kind"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns,omitempty"`
	At      time.Time     `json:"at"`
}

// ProgressSink receives events. Emit is called from several goroutines
// and must not block for long.
type ProgressSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to ProgressSink
type SinkFunc func(Event)

// Emit calls f
func (f SinkFunc) Emit(e Event) { f(e) }

// Fanout emits to every non-nil sink
type Fanout []ProgressSink

// Emit forwards e
func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}
