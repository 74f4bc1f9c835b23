// Package launcher places accepted workload requests on the fleet.
package launcher

import (
	"context"
	"errors"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/fleet"
	k8s "github.com/fleetward/fleetward/pkg/fleet/k8s"
	"github.com/fleetward/fleetward/pkg/store"
	"github.com/fleetward/fleetward/pkg/utils/retry"
)

type Launcher struct {
	resources store.ResourceInterface
	cluster   k8s.Cluster
	spec      k8s.TaskSpec
	launchFor time.Duration
	onFailure func(requestId string, err error)
}

type Option func(*Launcher) *Launcher

// WithFailureHook registers a hook called when a launch fails for good
// (placement or quota rejection). The status channel hangs off it.
func WithFailureHook(hook func(requestId string, err error)) Option {
	return func(l *Launcher) *Launcher {
		l.onFailure = hook
		return l
	}
}

func New(
	resources store.ResourceInterface,
	cluster k8s.Cluster,
	spec k8s.TaskSpec,
	launchFor time.Duration,
	options ...Option,
) *Launcher {
	l := &Launcher{
		resources: resources,
		cluster:   cluster,
		spec:      spec,
		launchFor: launchFor,
	}
	for _, option := range options {
		l = option(l)
	}
	return l
}

// Launch records the request as a Pending resource, first writer wins.
// The fleet task itself is placed by a launch worker (see Pool and
// LaunchNext); Launch only claims the requestId.
//
// Launch is idempotent: for a known requestId it returns the stored
// resource untouched, even when callers race. At most one resource
// ever exists per requestId.
//
// Returns
//
// - domain.FleetResource: the resource for the requestId.
//
// - bool: true when this call created it.
//
// - error
func (l *Launcher) Launch(ctx context.Context, req domain.WorkloadRequest) (domain.FleetResource, bool, error) {
	return l.resources.Insert(ctx, domain.FleetResource{
		RequestId: req.RequestId,
		Spec:      req,
		TaskRef:   l.spec.TaskRef(req.RequestId),
		Desired:   domain.Running,
		State:     domain.Pending,
	})
}

// Revoke records that the control plane no longer wants the request
// running. The reconciler drains it on its next pass.
//
// Revoking an unknown requestId is not an error; the resource may have
// been swept already.
func (l *Launcher) Revoke(ctx context.Context, requestId string) error {
	if err := l.resources.SetDesired(ctx, requestId, domain.Terminated); err != nil {
		if errors.Is(err, store.ErrMissing) {
			return nil
		}
		return err
	}
	return nil
}

// LaunchNext picks one Pending resource and places its task on the fleet.
//
// The pick locks the resource, so launch workers running LaunchNext
// concurrently never place the same request twice: a request is
// launched exactly once no matter how many workers race on it.
//
// Returns
//
// - domain.ResourceCursor: cursor to be passed to the next call.
//
// - bool: true when a Pending resource was picked.
//
// - error
func (l *Launcher) LaunchNext(ctx context.Context, cursor domain.ResourceCursor) (domain.ResourceCursor, bool, error) {
	var failure error

	cursor, picked, err := l.resources.PickAndSetState(
		ctx, cursor,
		func(r domain.FleetResource) (domain.ResourceState, error) {
			if r.Desired == domain.Terminated {
				// revoked before it ever launched. nothing to place, nothing to drain.
				return domain.Terminated, nil
			}

			spec, err := l.spec.Build(r.Spec)
			if err != nil {
				failure = err
				return domain.Failed, nil
			}

			lctx, cancel := context.WithTimeout(ctx, l.launchFor)
			defer cancel()

			result := <-l.cluster.NewTask(
				lctx, retry.StaticBackoff(200*time.Millisecond), spec,
			)
			if result.Err != nil {
				switch {
				case errors.Is(result.Err, fleet.ErrConflict):
					// the task is already there. adopt it instead of failing:
					// a previous launch got as far as creating it.
					return domain.Launching, nil
				case errors.Is(result.Err, domain.ErrPlacement), errors.Is(result.Err, domain.ErrQuota):
					failure = result.Err
					return domain.Failed, nil
				default:
					// transient. keep the resource Pending; a later pass retries.
					return domain.Pending, result.Err
				}
			}
			return domain.Launching, nil
		},
	)
	if err != nil {
		return cursor, picked, err
	}
	if picked && failure != nil {
		if err := l.resources.SetExit(ctx, cursor.Head, domain.ResourceExit{
			Code:    1,
			Message: failure.Error(),
		}); err != nil {
			return cursor, picked, err
		}
		if l.onFailure != nil {
			l.onFailure(cursor.Head, failure)
		}
	}
	return cursor, picked, nil
}
