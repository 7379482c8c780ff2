package tracker

import "time"

// Event types published to subscribers.
const (
	EventStarted = "started"
	EventSample  = "sample"
	EventAlert   = "alert"
	EventStopped = "stopped"
	EventDeleted = "deleted"
)

// Event is a change in tracker state. A sample event without latency
// stands for a failed probe.
type Event struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Latency *int      `json:"latency,omitempty"`
	Session string    `json:"session,omitempty"`
}

// Subscribe registers fn for every event and returns a function removing
// it. fn is called synchronously and must not block or call back into the
// tracker.
func (t *Tracker) Subscribe(fn func(Event)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.listeners[id] = fn

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) publish(ev Event) {
	t.mu.Lock()
	fns := make([]func(Event), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
