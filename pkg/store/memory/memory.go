// Package memory provides an in-process resource store.
//
// It backs single-node deployments and tests. Map access is serialized
// on one mutex; a record picked by PickAndSetState stays claimed until
// its state write lands, so each record has a single writer at any
// moment, same as the postgres store's row locks give. The claim is
// held without the map lock, so a slow pick task does not block the
// rest of the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/store"
)

type record struct {
	resource     domain.FleetResource
	suspendUntil time.Time

	// claimed marks a record between PickAndSetState's pick and its
	// state write. Claimed records are invisible to other pickers.
	claimed bool
}

type resourceMem struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

type memStore struct {
	resources *resourceMem
}

type Option func(*resourceMem) *resourceMem

// WithClock replaces the wall clock. For testing.
func WithClock(now func() time.Time) Option {
	return func(m *resourceMem) *resourceMem {
		m.now = now
		return m
	}
}

func New(options ...Option) store.Store {
	m := &resourceMem{
		records: map[string]*record{},
		now:     time.Now,
	}
	for _, option := range options {
		m = option(m)
	}
	return &memStore{resources: m}
}

func (s *memStore) Resources() store.ResourceInterface {
	return s.resources
}

func (s *memStore) Close() error {
	return nil
}

func (m *resourceMem) Insert(ctx context.Context, r domain.FleetResource) (domain.FleetResource, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if found, ok := m.records[r.RequestId]; ok {
		return found.resource, false, nil
	}

	r.UpdatedAt = m.now()
	m.records[r.RequestId] = &record{resource: r}
	return r, true, nil
}

func (m *resourceMem) Get(ctx context.Context, requestIds []string) (map[string]domain.FleetResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := map[string]domain.FleetResource{}
	for _, id := range requestIds {
		if rec, ok := m.records[id]; ok {
			found[id] = rec.resource
		}
	}
	return found, nil
}

func (m *resourceMem) Find(ctx context.Context, query store.ResourceFindQuery) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := []string{}
	for id, rec := range m.records {
		if len(query.States) != 0 {
			hit := false
			for _, s := range query.States {
				if rec.resource.State == s {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		if query.UpdatedBefore != nil && !rec.resource.UpdatedAt.Before(*query.UpdatedBefore) {
			continue
		}
		matched = append(matched, id)
	}
	sort.Strings(matched)
	return matched, nil
}

func (m *resourceMem) SetDesired(ctx context.Context, requestId string, desired domain.ResourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[requestId]
	if !ok {
		return store.ErrMissing
	}
	rec.resource.Desired = desired
	rec.resource.UpdatedAt = m.now()
	return nil
}

func (m *resourceMem) SetExit(ctx context.Context, requestId string, exit domain.ResourceExit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[requestId]
	if !ok {
		return store.ErrMissing
	}
	rec.resource.Exit = &exit
	return nil
}

func (m *resourceMem) PickAndSetState(
	ctx context.Context,
	cursor domain.ResourceCursor,
	task func(domain.FleetResource) (domain.ResourceState, error),
) (domain.ResourceCursor, bool, error) {
	m.mu.Lock()
	rec, ok := m.pick(cursor)
	if !ok {
		m.mu.Unlock()
		return cursor, false, nil
	}

	// cursor is moved!
	cursor = domain.ResourceCursor{
		Head:     rec.resource.RequestId,
		Debounce: cursor.Debounce,
		States:   cursor.States,
	}

	// the task may reach out to the fleet. Claim the record and drop
	// the map lock while it runs, so a slow fleet call does not stall
	// Insert/Find/Get for everyone else.
	rec.claimed = true
	picked := rec.resource
	m.mu.Unlock()

	newState, err := task(picked)

	m.mu.Lock()
	defer m.mu.Unlock()
	rec.claimed = false

	if err != nil {
		return cursor, true, err
	}
	if current, ok := m.records[picked.RequestId]; !ok || current != rec {
		// swept away while the task ran. Nothing left to write.
		return cursor, true, nil
	}
	if !rec.resource.State.CanTransitTo(newState) {
		return cursor, true, domain.NewErrInvalidStateChanging(rec.resource.State, newState)
	}

	now := m.now()
	if rec.resource.State != newState {
		rec.resource.State = newState
		rec.resource.UpdatedAt = now
	}
	rec.resource.LastReconciledAt = now
	rec.suspendUntil = now.Add(cursor.Debounce)
	return cursor, true, nil
}

// pick selects the next candidate after cursor.Head, round robin.
func (m *resourceMem) pick(cursor domain.ResourceCursor) (*record, bool) {
	now := m.now()

	candidates := []string{}
	for id, rec := range m.records {
		if rec.claimed || rec.suspendUntil.After(now) {
			continue
		}
		for _, s := range cursor.States {
			if rec.resource.State == s {
				candidates = append(candidates, id)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Strings(candidates)
	for _, id := range candidates {
		if cursor.Head < id {
			return m.records[id], true
		}
	}
	return m.records[candidates[0]], true
}

func (m *resourceMem) Delete(ctx context.Context, requestId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[requestId]; !ok {
		return store.ErrMissing
	}
	delete(m.records, requestId)
	return nil
}
