// Package tracker runs tracking sessions: it probes on a schedule, records
// samples, raises alerts and persists finished sessions.
package tracker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/ping_tracker/notify"
	"github.com/czerwonk/ping_tracker/probe"
	"github.com/czerwonk/ping_tracker/sampler"
	"github.com/czerwonk/ping_tracker/session"
	"github.com/czerwonk/ping_tracker/sink"
)

// DefaultThreshold is the default alert threshold in milliseconds.
const DefaultThreshold = 150

const notifyTimeout = 10 * time.Second

// Store persists closed sessions.
type Store interface {
	session.Store
	List() ([]*session.Session, error)
	DeleteAll() error
	Count() (int, error)
}

// Options configure a Tracker.
type Options struct {
	Interval       time.Duration
	Timeout        time.Duration
	Threshold      int
	RecordFailures bool
	Notifier       notify.Notifier
	Sinks          []sink.Sink
}

// Stats are counters since the tracker was created.
type Stats struct {
	Probes        uint64
	ProbeFailures uint64
	Alerts        uint64
	Discarded     uint64
}

// Status describes the open session and the most recent measurement.
type Status struct {
	Running   bool             `json:"running"`
	Started   *time.Time       `json:"started,omitempty"`
	Latency   *int             `json:"latency"`
	Threshold int              `json:"threshold"`
	Samples   []session.Sample `json:"-"`
}

// Tracker drives one session at a time.
type Tracker struct {
	prober         probe.Prober
	store          Store
	rec            *session.Recorder
	sched          *sampler.Scheduler
	policy         session.AlertPolicy
	notifier       notify.Notifier
	sinks          []sink.Sink
	interval       time.Duration
	timeout        time.Duration
	recordFailures bool
	threshold      atomic.Int64
	now            func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// ctl serializes Start and Stop
	ctl sync.Mutex

	mu        sync.Mutex
	last      *int
	listeners map[int]func(Event)
	nextID    int

	probes    atomic.Uint64
	failures  atomic.Uint64
	alerts    atomic.Uint64
	discarded atomic.Uint64
}

// New returns a stopped Tracker.
func New(p probe.Prober, store Store, opts Options) *Tracker {
	if opts.Timeout <= 0 {
		opts.Timeout = opts.Interval
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		prober:         p,
		store:          store,
		rec:            session.NewRecorder(store),
		sched:          sampler.New(),
		notifier:       opts.Notifier,
		sinks:          opts.Sinks,
		interval:       opts.Interval,
		timeout:        opts.Timeout,
		recordFailures: opts.RecordFailures,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		listeners:      make(map[int]func(Event)),
	}
	t.threshold.Store(int64(opts.Threshold))

	return t
}

// Target returns the probed target.
func (t *Tracker) Target() string {
	return t.prober.Target()
}

// Probe runs a single probe outside of any session.
func (t *Tracker) Probe(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	return t.prober.Probe(ctx)
}

// Start opens a session and starts probing. It returns
// session.ErrAlreadyRunning while a session is open.
func (t *Tracker) Start() error {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	epoch, err := t.rec.StartSession()
	if err != nil {
		return err
	}

	if err := t.sched.Start(t.interval, t.onTick(epoch)); err != nil {
		t.rec.StopSession()
		return err
	}

	log.Infof("started tracking %s (interval=%s, threshold=%dms)", t.prober.Target(), t.interval, t.Threshold())
	t.publish(Event{Type: EventStarted, Time: t.now()})

	return nil
}

// Stop ends the open session and persists it. Probes still in flight are
// discarded. The returned session is nil if nothing was recorded. On a
// persistence error the session is returned and kept for Retry.
func (t *Tracker) Stop() (*session.Session, error) {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	t.sched.Stop()

	s, err := t.rec.StopSession()
	if errors.Is(err, session.ErrNotRunning) {
		return nil, err
	}
	if err != nil {
		log.Errorf("could not save session: %v", err)
	}

	ev := Event{Type: EventStopped, Time: t.now()}
	if s != nil {
		ev.Session = s.ID
		log.Infof("stopped tracking, session %s with %d samples", s.ID, s.Len())
	} else {
		log.Infoln("stopped tracking, no samples recorded")
	}
	t.publish(ev)

	return s, err
}

func (t *Tracker) onTick(epoch uint64) func(sampler.Tick) {
	return func(tick sampler.Tick) {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.measure(epoch, tick)
		}()
	}
}

func (t *Tracker) measure(epoch uint64, tick sampler.Tick) {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	rtt, err := t.prober.Probe(ctx)
	t.probes.Add(1)

	var s session.Sample
	if err != nil {
		t.failures.Add(1)
		log.Debugf("tick %d: %v", tick.Seq, err)
		s = session.FailedSample(t.now())
	} else {
		s = session.NewSample(t.now(), probe.Millis(rtt))
	}

	recorded := false
	delivered := t.sched.Deliver(tick, func() {
		recorded = t.deliver(epoch, s)
	})
	if !delivered {
		t.discarded.Add(1)
		log.Debugf("tick %d: discarding result of stopped session", tick.Seq)
		return
	}

	if recorded {
		t.export(s)
	}
}

// deliver runs while the scheduler cannot be stopped.
func (t *Tracker) deliver(epoch uint64, s session.Sample) bool {
	t.mu.Lock()
	t.last = s.Latency
	t.mu.Unlock()

	if s.Failed() && !t.recordFailures {
		t.publish(Event{Type: EventSample, Time: s.TakenAt})
		return false
	}

	if err := t.rec.RecordSampleFor(epoch, s); err != nil {
		t.discarded.Add(1)
		log.Debugf("discarding sample: %v", err)
		return false
	}
	t.publish(Event{Type: EventSample, Time: s.TakenAt, Latency: s.Latency})

	if t.policy.Evaluate(s, t.Threshold()) {
		t.alerts.Add(1)
		t.publish(Event{Type: EventAlert, Time: s.TakenAt, Latency: s.Latency})
		t.alert()
	}

	return true
}

func (t *Tracker) alert() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(t.ctx, notifyTimeout)
		defer cancel()

		if err := t.notifier.Notify(ctx); err != nil {
			log.Warnf("could not play alert: %v", err)
		}
	}()
}

// export sends s to every sink. Each send gets a full timeout of its own.
func (t *Tracker) export(s session.Sample) {
	for _, sk := range t.sinks {
		ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
		if err := sk.Send(ctx, t.prober.Target(), s); err != nil {
			log.Warnf("could not export sample: %v", err)
		}
		cancel()
	}
}

// Running reports whether a session is open.
func (t *Tracker) Running() bool {
	return t.rec.Running()
}

// Threshold returns the alert threshold in milliseconds.
func (t *Tracker) Threshold() int {
	return int(t.threshold.Load())
}

// SetThreshold changes the alert threshold for subsequent samples.
func (t *Tracker) SetThreshold(ms int) {
	if old := t.threshold.Swap(int64(ms)); old != int64(ms) {
		log.Infof("alert threshold changed from %dms to %dms", old, ms)
	}
}

// Status returns the open session and the latest latency.
func (t *Tracker) Status() Status {
	v := t.rec.Live()

	t.mu.Lock()
	last := t.last
	t.mu.Unlock()

	st := Status{
		Running:   v.Running,
		Latency:   last,
		Threshold: t.Threshold(),
		Samples:   v.Samples,
	}
	if v.Running {
		started := v.Started
		st.Started = &started
	}

	return st
}

// Sessions returns the stored sessions, newest first.
func (t *Tracker) Sessions() ([]*session.Session, error) {
	return t.store.List()
}

// StoredCount returns the number of stored sessions.
func (t *Tracker) StoredCount() (int, error) {
	return t.store.Count()
}

// DeleteAll removes every stored session. The open session is not affected.
func (t *Tracker) DeleteAll() error {
	if err := t.store.DeleteAll(); err != nil {
		return err
	}

	log.Infoln("deleted all stored sessions")
	t.publish(Event{Type: EventDeleted, Time: t.now()})

	return nil
}

// Pending returns closed sessions that could not be persisted.
func (t *Tracker) Pending() []*session.Session {
	return t.rec.Pending()
}

// Retry persists pending sessions again.
func (t *Tracker) Retry() error {
	return t.rec.RetryPending()
}

// Stats returns the tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Probes:        t.probes.Load(),
		ProbeFailures: t.failures.Load(),
		Alerts:        t.alerts.Load(),
		Discarded:     t.discarded.Load(),
	}
}

// Close stops an open session, waits for outstanding probes and alerts and
// releases the prober and sinks.
func (t *Tracker) Close() error {
	if _, err := t.Stop(); err != nil && !errors.Is(err, session.ErrNotRunning) {
		log.Errorf("could not stop session on close: %v", err)
	}

	t.cancel()
	t.wg.Wait()

	var errs []error
	for _, sk := range t.sinks {
		errs = append(errs, sk.Close())
	}
	if c, ok := t.prober.(io.Closer); ok {
		errs = append(errs, c.Close())
	}

	return errors.Join(errs...)
}
