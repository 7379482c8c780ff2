package sampler

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func collectTicks(n int) (func(Tick), <-chan Tick) {
	ch := make(chan Tick, n)
	return func(t Tick) {
		select {
		case ch <- t:
		default:
		}
	}, ch
}

func waitTick(t *testing.T, ch <-chan Tick) Tick {
	t.Helper()
	select {
	case tick := <-ch:
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
	return Tick{}
}

func TestSchedulerTicks(t *testing.T) {
	s := New()
	onTick, ticks := collectTicks(16)

	if err := s.Start(5*time.Millisecond, onTick); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	prev := 0
	for i := 0; i < 3; i++ {
		tick := waitTick(t, ticks)
		if tick.Seq != prev+1 {
			t.Errorf("tick seq = %d, want %d", tick.Seq, prev+1)
		}
		prev = tick.Seq
	}
}

func TestSchedulerStartTwice(t *testing.T) {
	s := New()
	var mu sync.Mutex
	seqs := map[int]int{}
	onTick := func(t Tick) {
		mu.Lock()
		seqs[t.Seq]++
		mu.Unlock()
	}

	if err := s.Start(5*time.Millisecond, onTick); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(5*time.Millisecond, onTick); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Start() = %v, want %v", err, ErrRunning)
	}

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	for seq, n := range seqs {
		if n != 1 {
			t.Errorf("tick %d issued %d times", seq, n)
		}
	}
}

func TestSchedulerInvalidInterval(t *testing.T) {
	s := New()
	if err := s.Start(0, func(Tick) {}); err == nil {
		t.Error("expected error for zero interval")
	}
	if s.Running() {
		t.Error("scheduler must not run after rejected Start")
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	s := New()
	s.Stop()

	if err := s.Start(time.Hour, func(Tick) {}); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	s.Stop()

	if s.Running() {
		t.Error("expected scheduler to be stopped")
	}
}

func TestSchedulerNoTicksAfterStop(t *testing.T) {
	s := New()
	onTick, ticks := collectTicks(64)

	if err := s.Start(time.Millisecond, onTick); err != nil {
		t.Fatal(err)
	}
	waitTick(t, ticks)
	s.Stop()

	for len(ticks) > 0 {
		<-ticks
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(ticks); n != 0 {
		t.Errorf("%d ticks issued after Stop", n)
	}
}

func TestSchedulerDeliver(t *testing.T) {
	s := New()
	onTick, ticks := collectTicks(4)

	if err := s.Start(time.Millisecond, onTick); err != nil {
		t.Fatal(err)
	}
	tick := waitTick(t, ticks)

	delivered := 0
	if !s.Deliver(tick, func() { delivered++ }) {
		t.Error("expected delivery while running")
	}
	if !s.Current(tick) {
		t.Error("expected tick to be current")
	}

	s.Stop()

	if s.Deliver(tick, func() { delivered++ }) {
		t.Error("expected late result to be discarded")
	}
	if delivered != 1 {
		t.Errorf("fn ran %d times, want 1", delivered)
	}

	// a tick from the previous run must not leak into a new one
	if err := s.Start(time.Hour, func(Tick) {}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if s.Current(tick) {
		t.Error("stale tick reported as current")
	}
	if s.Deliver(tick, func() { delivered++ }) {
		t.Error("stale tick delivered into new run")
	}
}

func TestSchedulerFixedDelay(t *testing.T) {
	s := New()
	onTick, ticks := collectTicks(8)
	interval := 20 * time.Millisecond

	if err := s.Start(interval, onTick); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	first := waitTick(t, ticks)
	second := waitTick(t, ticks)
	if d := second.Issued.Sub(first.Issued); d < interval/2 {
		t.Errorf("ticks issued %v apart, want about %v", d, interval)
	}
}
