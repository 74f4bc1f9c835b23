package main

import (
	"context"
	"log"
	"time"

	"github.com/fleetward/fleetward/cmd/fleetagt/tasks/dispatch"
	"github.com/fleetward/fleetward/cmd/fleetagt/tasks/housekeeping"
	"github.com/fleetward/fleetward/cmd/fleetagt/tasks/reconcile"
	"github.com/fleetward/fleetward/pkg/controlplane"
	k8s "github.com/fleetward/fleetward/pkg/fleet/k8s"
	"github.com/fleetward/fleetward/pkg/health"
	"github.com/fleetward/fleetward/pkg/launcher"
	"github.com/fleetward/fleetward/pkg/loop"
	"github.com/fleetward/fleetward/pkg/loop/recurring"
	"github.com/fleetward/fleetward/pkg/status"
	"github.com/fleetward/fleetward/pkg/store"
)

type LoggerOptions func(*log.Logger) *log.Logger

func byLogger(l *log.Logger, opt ...LoggerOptions) *log.Logger {
	for _, o := range opt {
		l = o(l)
	}
	return l
}

func Copied() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		return log.New(l.Writer(), l.Prefix(), l.Flags())
	}
}

func WithPrefix(pre string) LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetPrefix(pre)
		return l
	}
}

// Wrapper for monitoring loop tasks.
//
// Logs each execution of the task around actually executing it.
func monitor[T any](logger *log.Logger, task loop.Task[T]) loop.Task[T] {
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		timestamp := time.Now()

		defer func() {
			logger.Printf(
				"cycle #%d (takes %s): with value = %+v",
				counter, time.Since(timestamp), ret,
			)
		}()

		ret, next = task(ctx, t)
		return
	}
}

// Loops is everything the agent's loops share.
type Loops struct {
	Session   *controlplane.Session
	Client    controlplane.Client
	Resources store.ResourceInterface
	Cluster   k8s.Cluster
	Spec      k8s.TaskSpec
	Launcher  *launcher.Launcher
	Pool      *launcher.Pool
	Gate      *health.Gate
	Reporter  *health.Reporter
	Recorder  *status.Recorder
}

func (l Loops) StartDispatchLoop(
	ctx context.Context,
	logger *log.Logger,
	policy recurring.Policy,
) error {
	lg := byLogger(logger, Copied(), WithPrefix("[dispatch loop] "))
	_, err := loop.Start(
		ctx, dispatch.Seed(),
		monitor(
			lg,
			dispatch.Task(
				l.Session, l.Client, l.Launcher, l.Pool,
				l.Resources, l.Recorder, l.Healthy, lg,
			).Applied(policy),
		),
		loop.WithTimeout(60*time.Second),
	)
	return err
}

// Healthy is what dispatch reports upstream: liveness as the external
// probe would see it, gated on the first reconciliation pass.
func (l Loops) Healthy() bool {
	if !l.Gate.Opened() {
		return false
	}
	lastWrittenAt, ok := l.Reporter.LastWrittenAt()
	return ok && !lastWrittenAt.IsZero()
}

func (l Loops) StartReconcileLoop(
	ctx context.Context,
	logger *log.Logger,
	policy recurring.Policy,
	debounce time.Duration,
	grace time.Duration,
) error {
	lg := byLogger(logger, Copied(), WithPrefix("[reconcile loop] "))
	_, err := loop.Start(
		ctx, reconcile.Seed(debounce),
		monitor(
			lg,
			reconcile.Task(
				l.Resources, l.Cluster, l.Spec, l.Gate, l.Recorder, grace, lg,
			).Applied(policy),
		),
		loop.WithTimeout(60*time.Second),
	)
	return err
}

func (l Loops) StartHousekeepingLoop(
	ctx context.Context,
	logger *log.Logger,
	policy recurring.Policy,
	ttl time.Duration,
) error {
	lg := byLogger(logger, Copied(), WithPrefix("[housekeeping loop] "))
	_, err := loop.Start(
		ctx, housekeeping.Seed(),
		monitor(
			lg,
			housekeeping.Task(
				l.Resources, l.Cluster, l.Spec, ttl, l.Recorder, lg,
			).Applied(policy),
		),
		loop.WithTimeout(60*time.Second),
	)
	return err
}

func (l Loops) StartHealthLoop(
	ctx context.Context,
	logger *log.Logger,
	interval time.Duration,
) error {
	lg := byLogger(logger, Copied(), WithPrefix("[health loop] "))
	refresh := recurring.Task[struct{}](
		func(ctx context.Context, v struct{}) (struct{}, bool, error) {
			if err := l.Reporter.ReportHealthy(); err != nil {
				lg.Printf("could not refresh the health sentinel: %s", err)
			}
			return v, false, nil
		},
	)
	_, err := loop.Start(
		ctx, struct{}{},
		refresh.Applied(recurring.Forever(interval)),
	)
	return err
}
