package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetward/fleetward/pkg/utils/cmp"
)

type ResourceState string

const (
	// A FleetResource is recorded, but no fleet task has been issued yet.
	Pending ResourceState = "pending"

	// A run request has been issued to the fleet; the task has not been
	// observed running yet.
	Launching ResourceState = "launching"

	// The fleet task has been observed running.
	Running ResourceState = "running"

	// The workload is on its way out: either it exited and cleanup is
	// pending, or a stop has been issued and the task has not gone yet.
	Draining ResourceState = "draining"

	// The fleet task is gone and the resource wound down cleanly.
	Terminated ResourceState = "terminated"

	// The resource could not be launched, its task failed, or it got
	// stuck past the grace period.
	Failed ResourceState = "failed"
)

func (rs ResourceState) String() string {
	return string(rs)
}

func AsResourceState(s string) (ResourceState, error) {
	switch s {
	case string(Pending):
		return Pending, nil
	case string(Launching):
		return Launching, nil
	case string(Running):
		return Running, nil
	case string(Draining):
		return Draining, nil
	case string(Terminated):
		return Terminated, nil
	case string(Failed):
		return Failed, nil
	default:
		return "", fmt.Errorf("'%s' is not ResourceState", s)
	}
}

// Terminal states are never left once entered.
func (rs ResourceState) Terminal() bool {
	switch rs {
	case Terminated, Failed:
		return true
	default:
		return false
	}
}

// ActiveStates are the states the reconciler keeps watching.
func ActiveStates() []ResourceState {
	return []ResourceState{Pending, Launching, Running, Draining}
}

// TerminalStates are swept by housekeeping after their TTL.
func TerminalStates() []ResourceState {
	return []ResourceState{Terminated, Failed}
}

// CanTransitTo tells whether the state machine permits rs -> to.
//
//	Pending -> Launching -> Running -> (Draining -> Terminated | Failed)
//
// Failed is reachable from every non-terminal state; a state may also
// "transit" to itself (no-op).
func (rs ResourceState) CanTransitTo(to ResourceState) bool {
	if rs == to {
		return true
	}
	switch rs {
	case Pending:
		return to == Launching || to == Terminated || to == Failed
	case Launching:
		return to == Running || to == Draining || to == Failed
	case Running:
		return to == Draining || to == Failed
	case Draining:
		return to == Terminated || to == Failed
	default:
		return false
	}
}

var ErrInvalidStateChanging = errors.New("cannot change resource state")

func NewErrInvalidStateChanging(from, to ResourceState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateChanging, from, to)
}

// ResourceExit records how the fleet task ended.
type ResourceExit struct {
	Code    uint8
	Message string
}

// FleetResource is the record of a workload placed (or to be placed) on
// the fleet. Owned by the resource store; mutated only through
// Launcher inserts and Reconciler state changes.
type FleetResource struct {
	// RequestId of the WorkloadRequest this resource realizes.
	RequestId string

	// Spec is the request as accepted.
	Spec WorkloadRequest

	// TaskRef is the fleet-side name of the task, decided at insert.
	TaskRef string

	// Desired is what the control plane wants: Running or Terminated.
	Desired ResourceState

	// State is the last recorded position in the lifecycle.
	State ResourceState

	// Exit is set when the task has stopped, if its end was observed.
	Exit *ResourceExit

	// UpdatedAt is bumped on every state change.
	UpdatedAt time.Time

	// LastReconciledAt is bumped every time the reconciler picks this
	// resource, whether or not the state changed.
	LastReconciledAt time.Time
}

func (r FleetResource) Equal(other FleetResource) bool {
	return r.RequestId == other.RequestId &&
		r.Spec.Equal(other.Spec) &&
		r.TaskRef == other.TaskRef &&
		r.Desired == other.Desired &&
		r.State == other.State &&
		cmp.PEqEq(r.Exit, other.Exit) &&
		r.UpdatedAt.Equal(other.UpdatedAt) &&
		r.LastReconciledAt.Equal(other.LastReconciledAt)
}

// ResourceCursor drives the reconciler's pick loop.
type ResourceCursor struct {
	// RequestId of the resource picked at last time.
	Head string

	// Debounce keeps the head from being re-picked hot.
	Debounce time.Duration

	// States of resources to be picked.
	States []ResourceState
}

func (c ResourceCursor) Equal(other ResourceCursor) bool {
	return c.Head == other.Head &&
		c.Debounce == other.Debounce &&
		cmp.SliceContentEq(c.States, other.States)
}
