// Package status collects what the operator needs to see: fatal and
// placement/quota errors that the loops do not retry, and a heartbeat
// per loop. The status API serves it.
package status

import (
	"errors"
	"sync"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
)

// Kind classifies an incident along the error taxonomy.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindNetwork   Kind = "network"
	KindPlacement Kind = "placement"
	KindQuota     Kind = "quota"
	KindError     Kind = "error"
)

func KindOf(err error) Kind {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return KindAuth
	case errors.Is(err, domain.ErrNetwork):
		return KindNetwork
	case errors.Is(err, domain.ErrPlacement):
		return KindPlacement
	case errors.Is(err, domain.ErrQuota):
		return KindQuota
	default:
		return KindError
	}
}

// Incident is one operator-visible failure.
type Incident struct {
	At        time.Time
	Loop      string
	RequestId string
	Kind      Kind
	Message   string
}

// Recorder keeps the last N incidents and the last heartbeat of each loop.
//
// The ring never grows past its capacity; old incidents fall off.
type Recorder struct {
	mu        sync.Mutex
	ring      []Incident
	head      int
	size      int
	heartbeat map[string]time.Time
	now       func() time.Time
}

type Option func(*Recorder) *Recorder

// WithClock replaces the wall clock. For testing.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) *Recorder {
		r.now = now
		return r
	}
}

func NewRecorder(capacity int, options ...Option) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	r := &Recorder{
		ring:      make([]Incident, capacity),
		heartbeat: map[string]time.Time{},
		now:       time.Now,
	}
	for _, option := range options {
		r = option(r)
	}
	return r
}

// Record files an incident. requestId may be empty when the failure is
// not about one particular resource.
func (r *Recorder) Record(loop string, requestId string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.head] = Incident{
		At:        r.now(),
		Loop:      loop,
		RequestId: requestId,
		Kind:      KindOf(err),
		Message:   err.Error(),
	}
	r.head = (r.head + 1) % len(r.ring)
	if r.size < len(r.ring) {
		r.size += 1
	}
}

// Beat marks the loop as alive now.
func (r *Recorder) Beat(loop string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeat[loop] = r.now()
}

// Incidents returns the recorded incidents, oldest first.
func (r *Recorder) Incidents() []Incident {
	r.mu.Lock()
	defer r.mu.Unlock()

	incidents := make([]Incident, 0, r.size)
	start := (r.head - r.size + len(r.ring)) % len(r.ring)
	for i := 0; i < r.size; i++ {
		incidents = append(incidents, r.ring[(start+i)%len(r.ring)])
	}
	return incidents
}

// Heartbeats returns the last beat of each loop.
func (r *Recorder) Heartbeats() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	beats := make(map[string]time.Time, len(r.heartbeat))
	for loop, at := range r.heartbeat {
		beats[loop] = at
	}
	return beats
}
