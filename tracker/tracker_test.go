package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/czerwonk/ping_tracker/logstore"
	"github.com/czerwonk/ping_tracker/notify"
	"github.com/czerwonk/ping_tracker/session"
	"github.com/czerwonk/ping_tracker/sink"
)

// scriptedProber returns the scripted latencies in order and then blocks
// until the probe context ends.
type scriptedProber struct {
	mu     sync.Mutex
	script []time.Duration
	calls  int
}

func (p *scriptedProber) Target() string { return "scripted" }

func (p *scriptedProber) Probe(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	p.calls++
	if len(p.script) > 0 {
		d := p.script[0]
		p.script = p.script[1:]
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	<-ctx.Done()
	return 0, ctx.Err()
}

type funcProber func(ctx context.Context) (time.Duration, error)

func (f funcProber) Target() string { return "func" }

func (f funcProber) Probe(ctx context.Context) (time.Duration, error) { return f(ctx) }

func newStore(t *testing.T) *logstore.Store {
	t.Helper()
	s, err := logstore.NewInLocation(t.TempDir(), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func countingNotifier(n *atomic.Int64) notify.Notifier {
	return notify.Func(func(context.Context) error {
		n.Add(1)
		return nil
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func latencies(samples []session.Sample) []int {
	res := make([]int, 0, len(samples))
	for _, s := range samples {
		ms, ok := s.LatencyMs()
		if !ok {
			ms = -1
		}
		res = append(res, ms)
	}
	return res
}

func TestEndToEnd(t *testing.T) {
	store := newStore(t)
	var notified atomic.Int64
	p := &scriptedProber{script: []time.Duration{
		80 * time.Millisecond,
		200 * time.Millisecond,
		95 * time.Millisecond,
	}}

	tr := New(p, store, Options{
		Interval:       2 * time.Millisecond,
		Timeout:        time.Hour,
		Threshold:      150,
		RecordFailures: true,
		Notifier:       countingNotifier(&notified),
	})

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "three samples", func() bool { return len(tr.Status().Samples) == 3 })

	s, err := tr.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	if got := latencies(s.Samples); len(got) != 3 || got[0] != 80 || got[1] != 200 || got[2] != 95 {
		t.Errorf("session samples = %v, want [80 200 95]", got)
	}
	if n := notified.Load(); n != 1 {
		t.Errorf("notifier fired %d times, want 1", n)
	}
	if n := tr.Stats().Alerts; n != 1 {
		t.Errorf("Stats().Alerts = %d, want 1", n)
	}

	stored, err := tr.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d sessions, want 1", len(stored))
	}
	if got := latencies(stored[0].Samples); len(got) != 3 || got[0] != 80 || got[1] != 200 || got[2] != 95 {
		t.Errorf("stored samples = %v, want [80 200 95]", got)
	}
	if stored[0].ID != s.ID {
		t.Errorf("stored ID = %q, want %q", stored[0].ID, s.ID)
	}

	if err := tr.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	if n, err := tr.StoredCount(); err != nil || n != 0 {
		t.Errorf("StoredCount() = %d, %v, want 0", n, err)
	}
}

func TestStartTwice(t *testing.T) {
	tr := New(&scriptedProber{}, newStore(t), Options{Interval: time.Hour})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(); !errors.Is(err, session.ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want %v", err, session.ErrAlreadyRunning)
	}
	if !tr.Running() {
		t.Error("expected tracker to be running")
	}

	s, err := tr.Stop()
	if err != nil || s != nil {
		t.Errorf("Stop() = %v, %v, want nil, nil for an empty session", s, err)
	}
	if _, err := tr.Stop(); !errors.Is(err, session.ErrNotRunning) {
		t.Errorf("second Stop() = %v, want %v", err, session.ErrNotRunning)
	}
}

func TestLateResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	p := funcProber(func(ctx context.Context) (time.Duration, error) {
		if calls.Add(1) == 1 {
			<-release
			return 50 * time.Millisecond, nil
		}
		return 0, errors.New("unreachable")
	})

	tr := New(p, newStore(t), Options{
		Interval: 2 * time.Millisecond,
		Timeout:  time.Hour,
	})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first probe", func() bool { return calls.Load() >= 1 })

	if _, err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}

	before := tr.Stats().Discarded
	close(release)
	waitFor(t, "late result", func() bool { return tr.Stats().Discarded > before })

	if n := len(tr.Status().Samples); n != 0 {
		t.Errorf("new session has %d samples, want 0", n)
	}
}

func TestProbeFailures(t *testing.T) {
	var notified atomic.Int64
	p := funcProber(func(ctx context.Context) (time.Duration, error) {
		return 0, errors.New("unreachable")
	})

	tr := New(p, newStore(t), Options{
		Interval:       time.Millisecond,
		Threshold:      0,
		RecordFailures: true,
		Notifier:       countingNotifier(&notified),
	})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failed samples", func() bool { return len(tr.Status().Samples) >= 2 })

	if !tr.Running() {
		t.Error("probe failures must not stop tracking")
	}
	st := tr.Status()
	if st.Latency != nil {
		t.Errorf("Status().Latency = %d, want unavailable", *st.Latency)
	}
	for _, s := range st.Samples {
		if !s.Failed() {
			t.Errorf("unexpected successful sample %v", s)
		}
	}

	s, err := tr.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.Len() < 2 {
		t.Errorf("expected failed samples to be stored, got %v", s)
	}
	if notified.Load() != 0 {
		t.Error("failed probes must never alert")
	}
	if st := tr.Stats(); st.ProbeFailures == 0 || st.Alerts != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestProbeFailuresNotRecorded(t *testing.T) {
	p := funcProber(func(ctx context.Context) (time.Duration, error) {
		return 0, errors.New("unreachable")
	})

	tr := New(p, newStore(t), Options{Interval: time.Millisecond})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failed probes", func() bool { return tr.Stats().ProbeFailures >= 3 })

	s, err := tr.Stop()
	if err != nil || s != nil {
		t.Errorf("Stop() = %v, %v, want nil, nil", s, err)
	}
}

func TestNotifierFailureSwallowed(t *testing.T) {
	var calls atomic.Int64
	n := notify.Func(func(context.Context) error {
		calls.Add(1)
		return errors.New("device busy")
	})
	p := funcProber(func(ctx context.Context) (time.Duration, error) {
		return 500 * time.Millisecond, nil
	})

	tr := New(p, newStore(t), Options{Interval: time.Millisecond, Threshold: 150, Notifier: n})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "alerts", func() bool { return calls.Load() >= 2 })

	if !tr.Running() {
		t.Error("notifier failures must not stop tracking")
	}
	if _, err := tr.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestSetThreshold(t *testing.T) {
	var notified atomic.Int64
	p := funcProber(func(ctx context.Context) (time.Duration, error) {
		return 100 * time.Millisecond, nil
	})

	tr := New(p, newStore(t), Options{
		Interval:  time.Millisecond,
		Threshold: 150,
		Notifier:  countingNotifier(&notified),
	})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "samples", func() bool { return len(tr.Status().Samples) >= 2 })
	if tr.Stats().Alerts != 0 {
		t.Fatal("unexpected alert below threshold")
	}

	tr.SetThreshold(50)
	if tr.Threshold() != 50 {
		t.Errorf("Threshold() = %d, want 50", tr.Threshold())
	}
	waitFor(t, "alert", func() bool { return tr.Stats().Alerts >= 1 })
}

type failingStore struct {
	*logstore.Store
	fail atomic.Bool
}

func (s *failingStore) Save(sess *session.Session) error {
	if s.fail.Load() {
		return errors.New("quota exceeded")
	}
	return s.Store.Save(sess)
}

func TestPersistenceFailureRetry(t *testing.T) {
	store := &failingStore{Store: newStore(t)}
	store.fail.Store(true)
	p := &scriptedProber{script: []time.Duration{10 * time.Millisecond}}

	tr := New(p, store, Options{Interval: time.Millisecond, Timeout: time.Hour})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sample", func() bool { return len(tr.Status().Samples) == 1 })

	s, err := tr.Stop()
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if s == nil || len(tr.Pending()) != 1 {
		t.Fatalf("expected session to be kept pending, got %v", tr.Pending())
	}

	store.fail.Store(false)
	if err := tr.Retry(); err != nil {
		t.Fatal(err)
	}
	stored, err := tr.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].ID != s.ID {
		t.Errorf("stored sessions = %v, want [%s]", stored, s.ID)
	}
}

func TestDeleteAllKeepsOpenSession(t *testing.T) {
	p := &scriptedProber{script: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}}
	tr := New(p, newStore(t), Options{Interval: time.Millisecond, Timeout: time.Hour})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "samples", func() bool { return len(tr.Status().Samples) == 2 })

	if err := tr.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	if !tr.Running() || len(tr.Status().Samples) != 2 {
		t.Error("DeleteAll() must not touch the open session")
	}

	s, err := tr.Stop()
	if err != nil {
		t.Fatal(err)
	}
	stored, err := tr.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].ID != s.ID {
		t.Errorf("stored sessions = %v", stored)
	}
}

func TestSubscribe(t *testing.T) {
	p := &scriptedProber{script: []time.Duration{300 * time.Millisecond}}
	tr := New(p, newStore(t), Options{Interval: time.Millisecond, Timeout: time.Hour, Threshold: 150, Notifier: notify.Func(func(context.Context) error { return nil })})
	defer tr.Close()

	var mu sync.Mutex
	var types []string
	cancel := tr.Subscribe(func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sample", func() bool { return len(tr.Status().Samples) == 1 })
	if _, err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := tr.DeleteAll(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventStarted, EventSample, EventAlert, EventStopped}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, types[i], want[i])
		}
	}
}

type recordingSink struct {
	mu      sync.Mutex
	budgets []time.Duration
	samples []session.Sample
	err     error
}

func (s *recordingSink) Send(ctx context.Context, target string, sample session.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	budget := time.Duration(-1)
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline)
	}
	s.budgets = append(s.budgets, budget)
	s.samples = append(s.samples, sample)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestExportGetsFullTimeout(t *testing.T) {
	const timeout = 200 * time.Millisecond

	// answers just before the probe deadline
	p := funcProber(func(ctx context.Context) (time.Duration, error) {
		deadline, _ := ctx.Deadline()
		time.Sleep(time.Until(deadline) - 20*time.Millisecond)
		return 150 * time.Millisecond, nil
	})
	sk := &recordingSink{err: errors.New("influx unavailable")}

	tr := New(p, newStore(t), Options{
		Interval:  time.Millisecond,
		Timeout:   timeout,
		Threshold: 1000,
		Notifier:  notify.Func(func(context.Context) error { return nil }),
		Sinks:     []sink.Sink{sk},
	})

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "three exported samples", func() bool { return sk.sent() >= 3 })
	if _, err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	sk.mu.Lock()
	defer sk.mu.Unlock()
	for i, b := range sk.budgets {
		if b < timeout/2 {
			t.Errorf("send %d: %v left of %v", i, b, timeout)
		}
	}
	for i, s := range sk.samples {
		if ms, ok := s.LatencyMs(); !ok || ms != 150 {
			t.Errorf("send %d: latency = %d/%v, want 150", i, ms, ok)
		}
	}
}
