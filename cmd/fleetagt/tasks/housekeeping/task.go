// Package housekeeping sweeps what the other loops leave behind:
// terminal resources past their TTL, and fleet tasks no resource
// claims anymore.
package housekeeping

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	k8s "github.com/fleetward/fleetward/pkg/fleet/k8s"
	"github.com/fleetward/fleetward/pkg/loop/recurring"
	"github.com/fleetward/fleetward/pkg/status"
	"github.com/fleetward/fleetward/pkg/store"
)

// Swept counts what housekeeping has removed so far.
type Swept struct {
	Resources int
	Tasks     int
}

// Seed returns the initial Swept value for Task.
func Seed() Swept {
	return Swept{}
}

// Task builds the housekeeping loop body.
//
// Each cycle removes Terminated/Failed resources older than ttl,
// deletes their fleet tasks, and stops orphan tasks. A task is an
// orphan when no resource records it; since resources are inserted
// before their tasks are created, an unrecorded task can only be a
// leftover.
func Task(
	resources store.ResourceInterface,
	cluster k8s.Cluster,
	spec k8s.TaskSpec,
	ttl time.Duration,
	recorder *status.Recorder,
	logger *log.Logger,
) recurring.Task[Swept] {
	return func(ctx context.Context, swept Swept) (Swept, bool, error) {
		recorder.Beat(domain.Housekeeping.String())

		moved := false

		expiry := time.Now().Add(-ttl)
		expired, err := resources.Find(ctx, store.ResourceFindQuery{
			States:        domain.TerminalStates(),
			UpdatedBefore: &expiry,
		})
		if err != nil {
			return swept, false, err
		}

		if 0 < len(expired) {
			found, err := resources.Get(ctx, expired)
			if err != nil {
				return swept, false, err
			}
			for _, requestId := range expired {
				r, ok := found[requestId]
				if !ok {
					continue
				}
				if err := cluster.StopTask(ctx, r.TaskRef); err != nil {
					return swept, moved, err
				}
				if err := resources.Delete(ctx, requestId); err != nil {
					return swept, moved, err
				}
				logger.Printf("swept %s (%s since %s)", requestId, r.State, r.UpdatedAt)
				swept.Resources += 1
				moved = true
			}
		}

		orphans, err := findOrphans(ctx, resources, cluster, spec.Prefix)
		if err != nil {
			return swept, moved, err
		}
		for _, taskRef := range orphans {
			if err := cluster.StopTask(ctx, taskRef); err != nil {
				return swept, moved, err
			}
			logger.Printf("stopped orphan task %s", taskRef)
			swept.Tasks += 1
			moved = true
		}

		return swept, moved, nil
	}
}

func findOrphans(
	ctx context.Context,
	resources store.ResourceInterface,
	cluster k8s.Cluster,
	prefix string,
) ([]string, error) {
	taskRefs, err := cluster.ListTaskRefs(ctx)
	if err != nil {
		return nil, err
	}
	if len(taskRefs) == 0 {
		return nil, nil
	}

	requestIds := make([]string, 0, len(taskRefs))
	for _, taskRef := range taskRefs {
		requestIds = append(requestIds, strings.TrimPrefix(taskRef, prefix))
	}
	known, err := resources.Get(ctx, requestIds)
	if err != nil {
		return nil, err
	}

	orphans := []string{}
	for i, taskRef := range taskRefs {
		if _, ok := known[requestIds[i]]; !ok {
			orphans = append(orphans, taskRef)
		}
	}
	return orphans, nil
}
