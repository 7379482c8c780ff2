package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrAlreadyRunning is returned when starting while a session is open.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrNotRunning is returned when no session is open.
	ErrNotRunning = errors.New("no session running")

	// ErrStale is returned for samples that belong to a session which has
	// already been closed.
	ErrStale = errors.New("sample belongs to a closed session")
)

// Store persists closed sessions.
type Store interface {
	// NextID derives the identity for a session closed at t.
	NextID(t time.Time) string
	Save(s *Session) error
}

// LiveView is a snapshot of the open session for display.
type LiveView struct {
	Running bool
	Started time.Time
	// Samples are ordered newest first.
	Samples []Sample
}

type openSession struct {
	epoch   uint64
	started time.Time
	samples []Sample
}

// Recorder owns the lifecycle of the single open session and hands
// finished sessions to a Store.
type Recorder struct {
	store   Store
	now     func() time.Time
	mu      sync.Mutex
	epoch   uint64
	open    *openSession
	pending []*Session
}

// NewRecorder returns a Recorder persisting to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store: store,
		now:   time.Now,
	}
}

// StartSession opens a new empty session and returns its epoch, which
// identifies the session for RecordSampleFor.
func (r *Recorder) StartSession() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open != nil {
		return 0, ErrAlreadyRunning
	}

	r.epoch++
	r.open = &openSession{
		epoch:   r.epoch,
		started: r.now(),
	}

	return r.epoch, nil
}

// RecordSample appends s to the open session.
func (r *Recorder) RecordSample(s Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		return ErrNotRunning
	}
	r.open.samples = append(r.open.samples, s)

	return nil
}

// RecordSampleFor appends s only if the open session is the one started
// with epoch.
func (r *Recorder) RecordSampleFor(epoch uint64, s Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		return ErrNotRunning
	}
	if r.open.epoch != epoch {
		return ErrStale
	}
	r.open.samples = append(r.open.samples, s)

	return nil
}

// StopSession closes the open session and persists it. A session without
// samples is discarded and (nil, nil) is returned. If persisting fails the
// closed session is kept for RetryPending and returned along with the error.
func (r *Recorder) StopSession() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		return nil, ErrNotRunning
	}

	samples := r.open.samples
	r.open = nil

	if len(samples) == 0 {
		return nil, nil
	}

	s := &Session{
		ID:      r.store.NextID(r.now()),
		Samples: samples,
	}
	if err := r.store.Save(s); err != nil {
		r.pending = append(r.pending, s)
		return s, fmt.Errorf("cannot persist session %s: %w", s.ID, err)
	}

	return s, nil
}

// Running reports whether a session is open.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.open != nil
}

// Live returns a snapshot of the open session.
func (r *Recorder) Live() LiveView {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		return LiveView{}
	}

	n := len(r.open.samples)
	v := LiveView{
		Running: true,
		Started: r.open.started,
		Samples: make([]Sample, n),
	}
	for i, s := range r.open.samples {
		v.Samples[n-1-i] = s
	}

	return v
}

// Pending returns closed sessions whose persistence failed.
func (r *Recorder) Pending() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*Session(nil), r.pending...)
}

// RetryPending tries to persist every pending session again. Sessions that
// still fail stay pending.
func (r *Recorder) RetryPending() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	remaining := r.pending[:0]
	for _, s := range r.pending {
		if err := r.store.Save(s); err != nil {
			errs = append(errs, fmt.Errorf("cannot persist session %s: %w", s.ID, err))
			remaining = append(remaining, s)
		}
	}
	r.pending = remaining

	return errors.Join(errs...)
}
