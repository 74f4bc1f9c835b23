package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
)

var (
	// requested record is not found.
	ErrMissing = errors.New("missing record")
)

// ResourceFindQuery narrows Find results.
//
// Empty conditions are ignored and do not narrow results.
type ResourceFindQuery struct {
	// States which resources to be found are in.
	States []domain.ResourceState

	// UpdatedBefore, when set, keeps only resources whose last state
	// change is older than this instant.
	UpdatedBefore *time.Time
}

type ResourceInterface interface {
	// Insert records a new resource, first writer wins.
	//
	// Args
	//
	// - context.Context
	//
	// - domain.FleetResource: resource to be recorded.
	//
	// Returns
	//
	// - domain.FleetResource: the record now stored. When another writer
	// got there first, this is that writer's record, not the argument.
	//
	// - bool: true when this call created the record.
	//
	// - error
	Insert(ctx context.Context, r domain.FleetResource) (domain.FleetResource, bool, error)

	// Get retrieves resources identified by requestIds.
	//
	// Returns
	//
	// - map[string]domain.FleetResource: mapping requestId to resource.
	// Missing requestIds are not error, just not in the map.
	//
	// - error
	Get(ctx context.Context, requestIds []string) (map[string]domain.FleetResource, error)

	// Find lists requestIds of resources matching the query.
	Find(ctx context.Context, query ResourceFindQuery) ([]string, error)

	// SetDesired records what the control plane wants for the resource.
	//
	// Returns
	//
	// - error: ErrMissing when no resource is found for requestId.
	SetDesired(ctx context.Context, requestId string, desired domain.ResourceState) error

	// SetExit records how the resource's task ended.
	//
	// Returns
	//
	// - error: ErrMissing when no resource is found for requestId.
	SetExit(ctx context.Context, requestId string, exit domain.ResourceExit) error

	// PickAndSetState picks the next resource after the cursor, and
	// changes its state to the return value of task.
	//
	// The picked resource is locked while task runs; no other
	// PickAndSetState can touch it concurrently. Its
	// LastReconciledAt is bumped whether or not the state changed.
	//
	// Args
	//
	// - context.Context
	//
	// - cursor: where the last pick left off.
	//
	// - task: work to occur along with the state transition.
	// The return value of task is to be the next state of the resource.
	//
	// Returns
	//
	// - domain.ResourceCursor: cursor pointing on the picked resource.
	// If nothing could be picked, the cursor is as it was passed.
	//
	// - bool: true when a resource was picked.
	//
	// - error: domain.ErrInvalidStateChanging when task returns a state
	// the state machine does not permit.
	PickAndSetState(
		ctx context.Context,
		cursor domain.ResourceCursor,
		task func(domain.FleetResource) (domain.ResourceState, error),
	) (domain.ResourceCursor, bool, error)

	// Delete removes the record of the resource.
	//
	// Returns
	//
	// - error: ErrMissing when no resource is found for requestId.
	Delete(ctx context.Context, requestId string) error
}

type Store interface {
	Resources() ResourceInterface
	Close() error
}
