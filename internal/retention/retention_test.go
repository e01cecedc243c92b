package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
	err     error
}

func (f *fakePurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n, f.err
}

func (f *fakePurger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestPurgeNowUsesMaxAge(t *testing.T) {
	p := &fakePurger{n: 3}
	s := New(p, Config{Interval: time.Hour, MaxAge: 48 * time.Hour}, zerolog.Nop())
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	n, err := s.PurgeNow(context.Background())
	if err != nil {
		t.Fatalf("PurgeNow failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 purged, got %d", n)
	}
	if !p.cutoffs[0].Equal(now.Add(-48 * time.Hour)) {
		t.Errorf("Unexpected cutoff %v", p.cutoffs[0])
	}
}

func TestPurgeNowReportsErrors(t *testing.T) {
	p := &fakePurger{err: errors.New("disk gone")}
	s := New(p, DefaultConfig(), zerolog.Nop())

	if _, err := s.PurgeNow(context.Background()); err == nil {
		t.Error("Expected the purger error")
	}
}

func TestServicePurgesOnStart(t *testing.T) {
	p := &fakePurger{}
	s := New(p, Config{Interval: time.Hour, MaxAge: time.Hour}, zerolog.Nop())

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for p.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if p.calls() != 1 {
		t.Errorf("Expected one purge on start, got %d", p.calls())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxAge != 30*24*time.Hour {
		t.Errorf("Expected 30 days, got %v", cfg.MaxAge)
	}
}
