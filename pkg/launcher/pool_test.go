package launcher_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/launcher"
	"github.com/fleetward/fleetward/pkg/store"
	"github.com/fleetward/fleetward/pkg/utils/try"
	kubebatch "k8s.io/api/batch/v1"
)

var poolLogger = log.New(io.Discard, "", 0)

func waitForState(
	t *testing.T, resources store.ResourceInterface,
	requestId string, state domain.ResourceState,
) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got := try.To(resources.Get(ctx, []string{requestId})).OrFatal(t)
		if r, ok := got[requestId]; ok && r.State == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s did not reach %s in time", requestId, state)
}

func TestPool(t *testing.T) {
	t.Run("one nudge drains every pending resource", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		l, resources, client := newTestee(t)
		client.Impl.CreateJob = func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
			return spec, nil
		}
		for _, id := range []string{"req-1", "req-2", "req-3"} {
			if _, _, err := l.Launch(ctx, requestFixture(id)); err != nil {
				t.Fatal(err)
			}
		}

		pool := launcher.NewPool(l, 1, 4, 10*time.Millisecond, time.Hour, poolLogger)
		done := make(chan error, 1)
		go func() { done <- pool.Run(ctx) }()

		if err := pool.Nudge(ctx); err != nil {
			t.Fatal(err)
		}
		for _, id := range []string{"req-1", "req-2", "req-3"} {
			waitForState(t, resources, id, domain.Launching)
		}

		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected stop reason: %s", err)
		}
	})

	t.Run("workers wake on their own when a nudge was missed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		l, resources, client := newTestee(t)
		client.Impl.CreateJob = func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
			return spec, nil
		}
		if _, _, err := l.Launch(ctx, requestFixture("req-1")); err != nil {
			t.Fatal(err)
		}

		pool := launcher.NewPool(l, 1, 1, 10*time.Millisecond, 10*time.Millisecond, poolLogger)
		go pool.Run(ctx)

		waitForState(t, resources, "req-1", domain.Launching)
	})

	t.Run("Nudge gives up with ErrBusy when the queue stays full", func(t *testing.T) {
		ctx := context.Background()
		l, _, _ := newTestee(t)

		// no Run: nobody drains the queue.
		pool := launcher.NewPool(l, 1, 1, 10*time.Millisecond, time.Hour, poolLogger)
		if err := pool.Nudge(ctx); err != nil {
			t.Fatal(err)
		}
		if err := pool.Nudge(ctx); !errors.Is(err, launcher.ErrBusy) {
			t.Errorf("expected ErrBusy, got: %v", err)
		}
	})
}
