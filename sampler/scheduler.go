// Package sampler drives periodic probing while a session is active.
package sampler

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRunning is returned by Start when the scheduler is already running.
var ErrRunning = errors.New("scheduler already running")

// Tick is one scheduled invocation. It remembers the generation of the
// scheduler run that issued it.
type Tick struct {
	Seq    int
	Issued time.Time
	gen    uint64
}

// Scheduler invokes a callback at a fixed delay until stopped. Every Start
// begins a new generation; results of ticks from an older generation are
// rejected by Deliver.
type Scheduler struct {
	mu      sync.Mutex
	gen     uint64
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New returns a stopped Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Start invokes onTick every interval, the first time one interval after
// Start. The next tick is armed when onTick returns, so onTick must hand
// slow work to another goroutine.
func (s *Scheduler) Start(interval time.Duration, onTick func(Tick)) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %v", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunning
	}

	s.gen++
	s.running = true
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go s.run(s.gen, interval, s.stop, onTick)

	return nil
}

func (s *Scheduler) run(gen uint64, interval time.Duration, stop chan struct{}, onTick func(Tick)) {
	defer s.wg.Done()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for seq := 1; ; seq++ {
		select {
		case <-stop:
			return
		case now := <-timer.C:
			select {
			case <-stop:
				return
			default:
			}

			onTick(Tick{Seq: seq, Issued: now, gen: gen})
			timer.Reset(interval)
		}
	}
}

// Stop halts the scheduler and waits for the tick loop to exit. Calling
// Stop on a stopped scheduler has no effect. Stop must not be called from
// onTick or from a function passed to Deliver.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.gen++
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether the scheduler is running.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Current reports whether t was issued by the current run.
func (s *Scheduler) Current(t Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current(t)
}

func (s *Scheduler) current(t Tick) bool {
	return s.running && t.gen == s.gen
}

// Deliver runs fn if t was issued by the current run and reports whether it
// did. Stop blocks while fn runs, so a result is either delivered before the
// scheduler stops or discarded.
func (s *Scheduler) Deliver(t Tick, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(t) {
		return false
	}
	fn()

	return true
}
