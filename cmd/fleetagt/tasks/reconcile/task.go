// Package reconcile drives each fleet resource along its lifecycle:
// it compares the desired state against what the fleet actually runs
// and issues corrective actions when they diverge.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/fleet"
	k8s "github.com/fleetward/fleetward/pkg/fleet/k8s"
	"github.com/fleetward/fleetward/pkg/health"
	"github.com/fleetward/fleetward/pkg/loop/recurring"
	"github.com/fleetward/fleetward/pkg/status"
	"github.com/fleetward/fleetward/pkg/store"
	"github.com/fleetward/fleetward/pkg/utils/retry"
)

// Seed returns the initial cursor for Task.
//
// Pending resources are left to the launch workers; everything else in
// flight is watched here. The debounce keeps one resource from being
// re-picked hot while others starve.
func Seed(debounce time.Duration) domain.ResourceCursor {
	return domain.ResourceCursor{
		States: []domain.ResourceState{
			domain.Launching, domain.Running, domain.Draining,
		},
		Debounce: debounce,
	}
}

// Task builds the reconcile loop body.
//
// Each cycle picks the resource that has gone longest without a look
// (oldest-stale-first, via the cursor) and decides its next state from
// the observed fleet task. A cycle with nothing to pick means every
// resource has been observed once; that completes a pass and opens the
// cold-start gate.
func Task(
	resources store.ResourceInterface,
	cluster k8s.Cluster,
	spec k8s.TaskSpec,
	gate *health.Gate,
	recorder *status.Recorder,
	grace time.Duration,
	logger *log.Logger,
) recurring.Task[domain.ResourceCursor] {
	rc := &reconciler{
		cluster: cluster, spec: spec, grace: grace,
		recorder: recorder, logger: logger, now: time.Now,
	}

	return func(ctx context.Context, cursor domain.ResourceCursor) (domain.ResourceCursor, bool, error) {
		recorder.Beat(domain.Reconcile.String())

		var observedExit *domain.ResourceExit
		next, picked, err := resources.PickAndSetState(
			ctx, cursor,
			func(r domain.FleetResource) (domain.ResourceState, error) {
				newState, exit, derr := rc.decide(ctx, r)
				observedExit = exit
				return newState, derr
			},
		)

		if err == nil && !picked {
			// every watched resource is either done or inside its
			// debounce window. the pass is complete.
			gate.Open()
		}

		if err == nil && picked && observedExit != nil {
			err = resources.SetExit(ctx, next.Head, *observedExit)
		}

		// cancellation and lost state races are fine to retry later.
		if err == nil ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, domain.ErrInvalidStateChanging) {
			return next, picked, nil
		}
		return next, picked, err
	}
}

type reconciler struct {
	cluster  k8s.Cluster
	spec     k8s.TaskSpec
	grace    time.Duration
	recorder *status.Recorder
	logger   *log.Logger
	now      func() time.Time
}

// decide observes the fleet task behind r and returns r's next state.
func (rc *reconciler) decide(
	ctx context.Context, r domain.FleetResource,
) (domain.ResourceState, *domain.ResourceExit, error) {
	tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	p := <-rc.cluster.GetTask(tctx, retry.StaticBackoff(50*time.Millisecond), r.TaskRef)
	if err := p.Err; err != nil {
		if errors.Is(err, fleet.ErrMissing) {
			return rc.taskGone(ctx, r)
		}
		return r.State, nil, err
	}
	return rc.observe(ctx, r, p.Value)
}

// taskGone decides for a resource whose fleet task is not there.
func (rc *reconciler) taskGone(
	ctx context.Context, r domain.FleetResource,
) (domain.ResourceState, *domain.ResourceExit, error) {
	switch r.State {
	case domain.Draining:
		// cleanup finished.
		return domain.Terminated, nil, nil

	case domain.Launching, domain.Running:
		if r.Desired == domain.Terminated {
			return domain.Draining, nil, nil
		}
		if rc.now().Sub(r.UpdatedAt) <= rc.grace {
			// the listing may lag the launch. wait the grace out.
			return r.State, nil, nil
		}
		if r.State == domain.Launching {
			return rc.giveUp(r, "task never appeared on the fleet")
		}
		// the task vanished under a Running resource: create it again.
		return rc.relaunch(ctx, r)

	default:
		return r.State, nil, nil
	}
}

// observe decides for a resource whose fleet task was found.
func (rc *reconciler) observe(
	ctx context.Context, r domain.FleetResource, task k8s.Task,
) (domain.ResourceState, *domain.ResourceExit, error) {
	if r.Desired == domain.Terminated {
		if err := rc.cluster.StopTask(ctx, r.TaskRef); err != nil {
			return r.State, nil, err
		}
		return domain.Draining, nil, nil
	}

	switch task.Status() {
	case k8s.Running:
		return domain.Running, nil, nil

	case k8s.Succeeded:
		exit := exitOf(task, 0, "")
		if err := rc.cluster.StopTask(ctx, r.TaskRef); err != nil {
			return r.State, nil, err
		}
		return domain.Draining, exit, nil

	case k8s.Failed:
		// the task stays on the fleet for postmortem; housekeeping
		// sweeps it with the resource after the TTL.
		return domain.Failed, exitOf(task, 1, "task failed"), nil

	default: // k8s.Pending
		if r.State == domain.Launching && rc.grace < rc.now().Sub(r.UpdatedAt) {
			if err := rc.cluster.StopTask(ctx, r.TaskRef); err != nil {
				return r.State, nil, err
			}
			return rc.giveUp(r, "task did not start within the grace period")
		}
		return r.State, nil, nil
	}
}

// giveUp fails a resource stuck in Launching and surfaces it.
func (rc *reconciler) giveUp(
	r domain.FleetResource, why string,
) (domain.ResourceState, *domain.ResourceExit, error) {
	err := fmt.Errorf("%s is stuck launching: %s", r.RequestId, why)
	rc.recorder.Record(domain.Reconcile.String(), r.RequestId, err)
	rc.logger.Printf("giving up on %s: %s", r.RequestId, why)
	return domain.Failed, &domain.ResourceExit{Code: 124, Message: why}, nil
}

// relaunch is the create-missing corrective action.
//
// The resource stays Running; the replacement task reuses its TaskRef,
// so a racing relaunch collides into a conflict and is adopted.
func (rc *reconciler) relaunch(
	ctx context.Context, r domain.FleetResource,
) (domain.ResourceState, *domain.ResourceExit, error) {
	taskSpec, err := rc.spec.Build(r.Spec)
	if err != nil {
		rc.recorder.Record(domain.Reconcile.String(), r.RequestId, err)
		return domain.Failed, &domain.ResourceExit{Code: 1, Message: err.Error()}, nil
	}

	lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result := <-rc.cluster.NewTask(lctx, retry.StaticBackoff(200*time.Millisecond), taskSpec)
	if result.Err != nil {
		switch {
		case errors.Is(result.Err, fleet.ErrConflict):
			// someone else already corrected it.
		case errors.Is(result.Err, domain.ErrPlacement), errors.Is(result.Err, domain.ErrQuota):
			rc.recorder.Record(domain.Reconcile.String(), r.RequestId, result.Err)
			return domain.Failed, &domain.ResourceExit{Code: 1, Message: result.Err.Error()}, nil
		default:
			return r.State, nil, result.Err
		}
	}
	rc.logger.Printf("recreated task for %s", r.RequestId)
	return domain.Running, nil, nil
}

func exitOf(task k8s.Task, defaultCode uint8, defaultMessage string) *domain.ResourceExit {
	if code, message, ok := task.ExitCode(); ok {
		return &domain.ResourceExit{Code: code, Message: message}
	}
	return &domain.ResourceExit{Code: defaultCode, Message: defaultMessage}
}
