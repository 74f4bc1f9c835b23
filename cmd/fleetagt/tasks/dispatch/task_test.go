package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/fleetward/fleetward/cmd/fleetagt/tasks/dispatch"
	"github.com/fleetward/fleetward/pkg/controlplane"
	cpmock "github.com/fleetward/fleetward/pkg/controlplane/mock"
	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/launcher"
	"github.com/fleetward/fleetward/pkg/status"
	"github.com/fleetward/fleetward/pkg/store"
	"github.com/fleetward/fleetward/pkg/store/mocks"
	"github.com/fleetward/fleetward/pkg/utils/cmp"
)

type fakeLauncher struct {
	Impl struct {
		Launch func(ctx context.Context, req domain.WorkloadRequest) (domain.FleetResource, bool, error)
		Revoke func(ctx context.Context, requestId string) error
	}
	Calls struct {
		Launch []domain.WorkloadRequest
		Revoke []string
	}
}

func (f *fakeLauncher) Launch(ctx context.Context, req domain.WorkloadRequest) (domain.FleetResource, bool, error) {
	f.Calls.Launch = append(f.Calls.Launch, req)
	if f.Impl.Launch == nil {
		return domain.FleetResource{}, false, errors.New("[MOCK] Launch should not be called")
	}
	return f.Impl.Launch(ctx, req)
}

func (f *fakeLauncher) Revoke(ctx context.Context, requestId string) error {
	f.Calls.Revoke = append(f.Calls.Revoke, requestId)
	if f.Impl.Revoke == nil {
		return errors.New("[MOCK] Revoke should not be called")
	}
	return f.Impl.Revoke(ctx, requestId)
}

type fakeNudger struct {
	Impl  func(ctx context.Context) error
	Calls int
}

func (f *fakeNudger) Nudge(ctx context.Context) error {
	f.Calls += 1
	if f.Impl == nil {
		return nil
	}
	return f.Impl(ctx)
}

var discard = log.New(io.Discard, "", 0)

func emptyStore() *mocks.ResourceInterface {
	mckResources := mocks.NewResourceInterface()
	mckResources.Impl.Find = func(ctx context.Context, query store.ResourceFindQuery) ([]string, error) {
		return []string{}, nil
	}
	return mckResources
}

func TestTask(t *testing.T) {
	session := &controlplane.Session{AgentId: "agent-1", Token: "session-token"}

	t.Run("it claims new requests and wakes the launch workers", func(t *testing.T) {
		ctx := context.Background()

		mckClient := cpmock.New()
		mckClient.Impl.Poll = func(ctx context.Context, s *controlplane.Session) (controlplane.Backlog, error) {
			return controlplane.Backlog{
				Requests: []domain.WorkloadRequest{
					{RequestId: "req-1", Image: "repo.invalid/app:v1"},
					{RequestId: "req-2", Image: "repo.invalid/app:v1"},
				},
			}, nil
		}
		mckClient.Impl.ReportStatus = func(ctx context.Context, s *controlplane.Session, report controlplane.Report) error {
			return nil
		}

		l := &fakeLauncher{}
		l.Impl.Launch = func(ctx context.Context, req domain.WorkloadRequest) (domain.FleetResource, bool, error) {
			// req-2 is already known.
			return domain.FleetResource{RequestId: req.RequestId}, req.RequestId == "req-1", nil
		}
		pool := &fakeNudger{}

		testee := dispatch.Task(
			session, mckClient, l, pool, emptyStore(),
			status.NewRecorder(1), func() bool { return true }, discard,
		)

		progress, moved, err := testee(ctx, dispatch.Seed())
		if err != nil {
			t.Fatal(err)
		}
		if !moved {
			t.Error("claiming a request should count as progress")
		}
		if progress.Accepted != 1 {
			t.Errorf("unexpected accepted count: %d", progress.Accepted)
		}
		if len(l.Calls.Launch) != 2 {
			t.Errorf("both requests should be offered to the launcher: %d", len(l.Calls.Launch))
		}
		if pool.Calls != 1 {
			t.Errorf("only the new request should nudge the workers: %d", pool.Calls)
		}
	})

	t.Run("it applies revocations", func(t *testing.T) {
		ctx := context.Background()

		mckClient := cpmock.New()
		mckClient.Impl.Poll = func(ctx context.Context, s *controlplane.Session) (controlplane.Backlog, error) {
			return controlplane.Backlog{Revocations: []string{"req-1", "req-2"}}, nil
		}
		mckClient.Impl.ReportStatus = func(ctx context.Context, s *controlplane.Session, report controlplane.Report) error {
			return nil
		}

		l := &fakeLauncher{}
		l.Impl.Revoke = func(ctx context.Context, requestId string) error { return nil }

		testee := dispatch.Task(
			session, mckClient, l, &fakeNudger{}, emptyStore(),
			status.NewRecorder(1), func() bool { return true }, discard,
		)

		progress, _, err := testee(ctx, dispatch.Seed())
		if err != nil {
			t.Fatal(err)
		}
		if progress.Revoked != 2 {
			t.Errorf("unexpected revoked count: %d", progress.Revoked)
		}
		if !cmp.SliceEq(l.Calls.Revoke, []string{"req-1", "req-2"}) {
			t.Errorf("unexpected revocations: %v", l.Calls.Revoke)
		}
	})

	t.Run("it reports resource states upstream", func(t *testing.T) {
		ctx := context.Background()

		mckResources := mocks.NewResourceInterface()
		mckResources.Impl.Find = func(ctx context.Context, query store.ResourceFindQuery) ([]string, error) {
			return []string{"req-1", "req-2"}, nil
		}
		mckResources.Impl.Get = func(ctx context.Context, requestIds []string) (map[string]domain.FleetResource, error) {
			return map[string]domain.FleetResource{
				"req-1": {RequestId: "req-1", State: domain.Running},
				"req-2": {
					RequestId: "req-2", State: domain.Failed,
					Exit: &domain.ResourceExit{Code: 1, Message: "no placement"},
				},
			}, nil
		}

		uploaded := []controlplane.Report{}
		mckClient := cpmock.New()
		mckClient.Impl.Poll = func(ctx context.Context, s *controlplane.Session) (controlplane.Backlog, error) {
			return controlplane.Backlog{}, nil
		}
		mckClient.Impl.ReportStatus = func(ctx context.Context, s *controlplane.Session, report controlplane.Report) error {
			uploaded = append(uploaded, report)
			return nil
		}

		testee := dispatch.Task(
			session, mckClient, &fakeLauncher{}, &fakeNudger{}, mckResources,
			status.NewRecorder(1), func() bool { return true }, discard,
		)

		if _, _, err := testee(ctx, dispatch.Seed()); err != nil {
			t.Fatal(err)
		}

		if len(uploaded) != 1 {
			t.Fatalf("unexpected upload count: %d", len(uploaded))
		}
		report := uploaded[0]
		if !report.Healthy {
			t.Error("the report should claim health")
		}
		if !cmp.SliceEqWith(
			report.Resources,
			[]controlplane.ResourceStatus{
				{RequestId: "req-1", State: domain.Running},
				{
					RequestId: "req-2", State: domain.Failed,
					Exit:    &domain.ResourceExit{Code: 1, Message: "no placement"},
					Message: "no placement",
				},
			},
			func(a, b controlplane.ResourceStatus) bool {
				return a.RequestId == b.RequestId && a.State == b.State &&
					cmp.PEqEq(a.Exit, b.Exit) && a.Message == b.Message
			},
		) {
			t.Errorf("unexpected report: %+v", report.Resources)
		}
	})

	t.Run("a poll failure bubbles up for the policy to back off", func(t *testing.T) {
		ctx := context.Background()

		expected := fmt.Errorf("%w: control plane down", domain.ErrNetwork)
		mckClient := cpmock.New()
		mckClient.Impl.Poll = func(ctx context.Context, s *controlplane.Session) (controlplane.Backlog, error) {
			return controlplane.Backlog{}, expected
		}

		l := &fakeLauncher{}
		testee := dispatch.Task(
			session, mckClient, l, &fakeNudger{}, mocks.NewResourceInterface(),
			status.NewRecorder(1), func() bool { return true }, discard,
		)

		_, moved, err := testee(ctx, dispatch.Seed())
		if !errors.Is(err, domain.ErrNetwork) {
			t.Errorf("unexpected error: %v", err)
		}
		if moved {
			t.Error("a failed cycle is no progress")
		}
		if len(l.Calls.Launch) != 0 {
			t.Error("nothing should be launched")
		}
	})

	t.Run("a saturated launch queue defers, not fails", func(t *testing.T) {
		ctx := context.Background()

		mckClient := cpmock.New()
		mckClient.Impl.Poll = func(ctx context.Context, s *controlplane.Session) (controlplane.Backlog, error) {
			return controlplane.Backlog{
				Requests: []domain.WorkloadRequest{{RequestId: "req-1"}, {RequestId: "req-2"}},
			}, nil
		}
		mckClient.Impl.ReportStatus = func(ctx context.Context, s *controlplane.Session, report controlplane.Report) error {
			return nil
		}

		l := &fakeLauncher{}
		l.Impl.Launch = func(ctx context.Context, req domain.WorkloadRequest) (domain.FleetResource, bool, error) {
			return domain.FleetResource{RequestId: req.RequestId}, true, nil
		}
		pool := &fakeNudger{
			Impl: func(ctx context.Context) error { return launcher.ErrBusy },
		}

		testee := dispatch.Task(
			session, mckClient, l, pool, emptyStore(),
			status.NewRecorder(1), func() bool { return true }, discard,
		)

		progress, _, err := testee(ctx, dispatch.Seed())
		if err != nil {
			t.Fatal(err)
		}
		if progress.Accepted != 2 {
			t.Errorf("both requests should be claimed even when the queue is full: %d", progress.Accepted)
		}
		if pool.Calls != 2 {
			t.Errorf("unexpected nudge count: %d", pool.Calls)
		}
	})

	t.Run("each cycle beats the dispatch heartbeat", func(t *testing.T) {
		ctx := context.Background()

		mckClient := cpmock.New()
		mckClient.Impl.Poll = func(ctx context.Context, s *controlplane.Session) (controlplane.Backlog, error) {
			return controlplane.Backlog{}, nil
		}
		mckClient.Impl.ReportStatus = func(ctx context.Context, s *controlplane.Session, report controlplane.Report) error {
			return nil
		}

		recorder := status.NewRecorder(1)
		testee := dispatch.Task(
			session, mckClient, &fakeLauncher{}, &fakeNudger{}, emptyStore(),
			recorder, func() bool { return true }, discard,
		)

		if _, _, err := testee(ctx, dispatch.Seed()); err != nil {
			t.Fatal(err)
		}

		if _, ok := recorder.Heartbeats()[domain.Dispatch.String()]; !ok {
			t.Error("the dispatch heartbeat should be recorded")
		}
	})
}
