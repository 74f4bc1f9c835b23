// Package dispatch polls the control plane, hands new work to the
// launcher pool, applies revocations and uploads a status report.
package dispatch

import (
	"context"
	"errors"
	"log"

	"github.com/fleetward/fleetward/pkg/controlplane"
	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/launcher"
	"github.com/fleetward/fleetward/pkg/loop/recurring"
	"github.com/fleetward/fleetward/pkg/status"
	"github.com/fleetward/fleetward/pkg/store"
)

// Launcher is the part of pkg/launcher dispatch drives.
type Launcher interface {
	Launch(ctx context.Context, req domain.WorkloadRequest) (domain.FleetResource, bool, error)
	Revoke(ctx context.Context, requestId string) error
}

// Nudger wakes the launch workers.
type Nudger interface {
	Nudge(ctx context.Context) error
}

// Progress counts what dispatch has done so far. Mostly for logging.
type Progress struct {
	Cycles   int
	Accepted int
	Revoked  int
}

// Seed returns the initial Progress value for Task.
func Seed() Progress {
	return Progress{}
}

// Healthy reports whether the agent should claim health upstream.
type Healthy func() bool

// Task builds the dispatch loop body.
//
// Each cycle: poll the backlog, claim new requests (the launcher pool
// places them), apply revocations, then report resource states.
//
// Network errors bubble up so the loop policy can back off; everything
// the control plane should not see again is absorbed here.
func Task(
	session *controlplane.Session,
	client controlplane.Client,
	l Launcher,
	pool Nudger,
	resources store.ResourceInterface,
	recorder *status.Recorder,
	healthy Healthy,
	logger *log.Logger,
) recurring.Task[Progress] {
	return func(ctx context.Context, progress Progress) (Progress, bool, error) {
		recorder.Beat(domain.Dispatch.String())

		backlog, err := client.Poll(ctx, session)
		if err != nil {
			return progress, false, err
		}

		moved := false
		for _, req := range backlog.Requests {
			_, created, err := l.Launch(ctx, req)
			if err != nil {
				return progress, moved, err
			}
			if !created {
				continue
			}
			progress.Accepted += 1
			moved = true

			if err := pool.Nudge(ctx); err != nil {
				if errors.Is(err, launcher.ErrBusy) {
					// workers are saturated. they will find the
					// Pending resource on their next wakeup.
					logger.Printf("launch queue is full; %s is deferred", req.RequestId)
					continue
				}
				return progress, moved, err
			}
		}

		for _, requestId := range backlog.Revocations {
			if err := l.Revoke(ctx, requestId); err != nil {
				return progress, moved, err
			}
			progress.Revoked += 1
			moved = true
		}

		report, err := composeReport(ctx, resources, healthy())
		if err != nil {
			return progress, moved, err
		}
		if err := client.ReportStatus(ctx, session, report); err != nil {
			return progress, moved, err
		}

		progress.Cycles += 1
		return progress, moved, nil
	}
}

func composeReport(
	ctx context.Context, resources store.ResourceInterface, healthy bool,
) (controlplane.Report, error) {
	requestIds, err := resources.Find(ctx, store.ResourceFindQuery{})
	if err != nil {
		return controlplane.Report{}, err
	}

	report := controlplane.Report{
		Healthy:   healthy,
		Resources: make([]controlplane.ResourceStatus, 0, len(requestIds)),
	}
	if len(requestIds) == 0 {
		return report, nil
	}

	found, err := resources.Get(ctx, requestIds)
	if err != nil {
		return controlplane.Report{}, err
	}
	for _, requestId := range requestIds {
		r, ok := found[requestId]
		if !ok {
			continue
		}
		s := controlplane.ResourceStatus{
			RequestId: r.RequestId,
			State:     r.State,
			Exit:      r.Exit,
		}
		if r.Exit != nil {
			s.Message = r.Exit.Message
		}
		report.Resources = append(report.Resources, s)
	}
	return report, nil
}
