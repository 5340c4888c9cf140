package bulk

import "sync"

// Event names a notification channel on a Job or Batch. Handlers registered
// with On fire synchronously, in registration order, alongside the error or
// result returned to the direct caller.
type Event string

const (
	// EventOpen fires with the *JobInfo of a successfully opened job.
	EventOpen Event = "open"

	// EventClose fires with the *JobInfo of a closed job.
	EventClose Event = "close"

	// EventAbort fires with the *JobInfo of an aborted job.
	EventAbort Event = "abort"

	// EventQueue fires with the *BatchInfo once the remote assigns the
	// batch its identity.
	EventQueue Event = "queue"

	// EventProgress fires with the latest *BatchInfo on every non-terminal
	// poll tick.
	EventProgress Event = "progress"

	// EventResponse fires with the decoded *Result of a batch.
	EventResponse Event = "response"

	// EventError fires with the error of a failed state-changing operation
	// or a failed batch.
	EventError Event = "error"
)

// Handler receives an event payload.
type Handler func(payload any)

// emitter is a typed listener list shared by Job and Batch.
type emitter struct {
	mu       sync.Mutex
	handlers map[Event][]Handler
}

// On registers a handler for the named event.
func (e *emitter) On(ev Event, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[Event][]Handler)
	}
	e.handlers[ev] = append(e.handlers[ev], h)
}

func (e *emitter) emit(ev Event, payload any) {
	e.mu.Lock()
	hs := make([]Handler, len(e.handlers[ev]))
	copy(hs, e.handlers[ev])
	e.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}
