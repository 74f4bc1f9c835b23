package launcher

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/loop"
)

// launch queue has no room, and nobody took a slot within the wait.
var ErrBusy = errors.New("launch queue is full")

// Pool runs a fixed number of launch workers.
//
// Each worker drains Pending resources via Launcher.LaunchNext.
// Dispatch nudges the pool when it accepts new requests; workers also
// wake on their own every wakeEvery, so a missed nudge only delays a
// launch, never loses it.
type Pool struct {
	launcher    *Launcher
	workers     int
	nudge       chan struct{}
	enqueueWait time.Duration
	wakeEvery   time.Duration
	logger      *log.Logger
}

func NewPool(
	launcher *Launcher,
	workers int,
	queue int,
	enqueueWait time.Duration,
	wakeEvery time.Duration,
	logger *log.Logger,
) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	return &Pool{
		launcher:    launcher,
		workers:     workers,
		nudge:       make(chan struct{}, queue),
		enqueueWait: enqueueWait,
		wakeEvery:   wakeEvery,
		logger:      logger,
	}
}

// Nudge wakes a launch worker.
//
// It waits at most enqueueWait for queue room, then gives up with
// ErrBusy. A busy queue means workers are already awake and draining,
// so the caller may treat ErrBusy as "will be handled anyway".
func (p *Pool) Nudge(ctx context.Context) error {
	select {
	case p.nudge <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t := time.NewTimer(p.enqueueWait)
	defer t.Stop()
	select {
	case p.nudge <- struct{}{}:
		return nil
	case <-t.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until ctx is cancelled, running all workers.
//
// Shutdown is graceful: a worker finishes the launch it is in the
// middle of before stopping, so no task is half-placed.
func (p *Pool) Run(ctx context.Context) error {
	wg := sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cursor := domain.ResourceCursor{
				States: []domain.ResourceState{domain.Pending},
			}
			if _, err := loop.Start(ctx, cursor, p.work); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Printf("launch worker stopped: %s", err)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) work(ctx context.Context, cursor domain.ResourceCursor) (domain.ResourceCursor, loop.Next) {
	t := time.NewTimer(p.wakeEvery)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return cursor, loop.Break(nil)
	case <-p.nudge:
	case <-t.C:
	}

	for {
		next, picked, err := p.launcher.LaunchNext(ctx, cursor)
		cursor = next
		if err != nil {
			p.logger.Printf("launch failed (will retry): %s", err)
			break
		}
		if !picked {
			break
		}
	}
	return cursor, loop.Continue(0)
}
