// Package health emits the liveness signal the hosting platform probes.
//
// The signal is a sentinel file: its presence and mtime tell the probe
// the agent is alive and making progress. Refreshing is gated on a
// cold-start Gate so the agent is never reported healthy before it has
// observed true fleet state.
package health

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
)

// Gate is the cold-start gate. It starts closed and opens exactly once,
// when the reconciler finishes its first full pass.
type Gate struct {
	once   sync.Once
	opened chan struct{}
}

func NewGate() *Gate {
	return &Gate{opened: make(chan struct{})}
}

// Open opens the gate. Safe to call any number of times from any goroutine.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.opened) })
}

func (g *Gate) Opened() bool {
	select {
	case <-g.opened:
		return true
	default:
		return false
	}
}

// Check is a readiness check: it fails until the gate opens.
func (g *Gate) Check() error {
	if !g.Opened() {
		return fmt.Errorf("first reconciliation pass has not completed")
	}
	return nil
}

// Reporter writes the sentinel file.
type Reporter struct {
	gate     *Gate
	sentinel string
	now      func() time.Time
}

type Option func(*Reporter) *Reporter

// WithClock replaces the wall clock. For testing.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) *Reporter {
		r.now = now
		return r
	}
}

// NewReporter creates a Reporter refreshing the sentinel file at path.
func NewReporter(gate *Gate, sentinel string, options ...Option) *Reporter {
	r := &Reporter{gate: gate, sentinel: sentinel, now: time.Now}
	for _, option := range options {
		r = option(r)
	}
	return r
}

// ReportHealthy writes (or refreshes) the sentinel file.
//
// Before the gate opens this is a no-op, so the external probe keeps
// seeing a stale (or absent) sentinel until the agent is actually ready.
func (r *Reporter) ReportHealthy() error {
	if !r.gate.Opened() {
		return nil
	}
	now := r.now()
	if err := os.WriteFile(r.sentinel, []byte(now.Format(time.RFC3339)+"\n"), 0644); err != nil {
		return err
	}
	// mtime is the signal the probe reads, not the content.
	return os.Chtimes(r.sentinel, now, now)
}

// LastWrittenAt reads the sentinel's mtime. ok is false when the
// sentinel has never been written.
func (r *Reporter) LastWrittenAt() (lastWrittenAt time.Time, ok bool) {
	stat, err := os.Stat(r.sentinel)
	if err != nil {
		return time.Time{}, false
	}
	return stat.ModTime(), true
}

// Fresh is a liveness check: it fails when the sentinel is missing or
// older than staleAfter. Before the gate opens it passes vacuously, so
// the platform does not restart an agent that is still starting up.
func (r *Reporter) Fresh(staleAfter time.Duration) healthcheck.Check {
	return func() error {
		if !r.gate.Opened() {
			return nil
		}
		lastWrittenAt, ok := r.LastWrittenAt()
		if !ok {
			return fmt.Errorf("health sentinel %s is missing", r.sentinel)
		}
		if age := r.now().Sub(lastWrittenAt); staleAfter < age {
			return fmt.Errorf("health sentinel %s is stale (age = %s)", r.sentinel, age)
		}
		return nil
	}
}

// NewHandler builds the HTTP probe endpoints.
//
// Liveness = the sentinel is fresh (and goroutines are not leaking);
// readiness = the cold-start gate has opened.
func NewHandler(gate *Gate, reporter *Reporter, staleAfter time.Duration) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	h.AddLivenessCheck("health-sentinel", reporter.Fresh(staleAfter))
	h.AddReadinessCheck("first-reconcile-pass", gate.Check)
	return h
}
