package health_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetward/fleetward/pkg/health"
)

func TestGate(t *testing.T) {
	t.Run("it starts closed", func(t *testing.T) {
		gate := health.NewGate()
		if gate.Opened() {
			t.Error("a new gate should be closed")
		}
		if gate.Check() == nil {
			t.Error("the readiness check should fail while the gate is closed")
		}
	})

	t.Run("once opened, it stays open", func(t *testing.T) {
		gate := health.NewGate()
		gate.Open()
		gate.Open() // no panic on re-open

		if !gate.Opened() {
			t.Error("the gate should be open")
		}
		if err := gate.Check(); err != nil {
			t.Errorf("the readiness check should pass: %v", err)
		}
	})
}

func TestReporter(t *testing.T) {
	t.Run("it does not write the sentinel before the gate opens", func(t *testing.T) {
		sentinel := filepath.Join(t.TempDir(), "healthy")
		gate := health.NewGate()
		testee := health.NewReporter(gate, sentinel)

		if err := testee.ReportHealthy(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(sentinel); !os.IsNotExist(err) {
			t.Errorf("the sentinel should not exist yet: %v", err)
		}
		if _, ok := testee.LastWrittenAt(); ok {
			t.Error("LastWrittenAt should report no sentinel")
		}
	})

	t.Run("it refreshes the sentinel once the gate opens", func(t *testing.T) {
		sentinel := filepath.Join(t.TempDir(), "healthy")
		gate := health.NewGate()

		fakeNow := time.Date(2021, 10, 11, 12, 13, 14, 0, time.Local)
		testee := health.NewReporter(
			gate, sentinel,
			health.WithClock(func() time.Time { return fakeNow }),
		)

		gate.Open()
		if err := testee.ReportHealthy(); err != nil {
			t.Fatal(err)
		}

		written, ok := testee.LastWrittenAt()
		if !ok {
			t.Fatal("the sentinel should exist")
		}
		if !written.Equal(fakeNow) {
			t.Errorf("unexpected mtime: %s (expected: %s)", written, fakeNow)
		}

		fakeNow = fakeNow.Add(30 * time.Second)
		if err := testee.ReportHealthy(); err != nil {
			t.Fatal(err)
		}
		refreshed, _ := testee.LastWrittenAt()
		if !refreshed.Equal(fakeNow) {
			t.Errorf("the mtime should be refreshed: %s (expected: %s)", refreshed, fakeNow)
		}
	})
}

func TestFresh(t *testing.T) {
	sentinel := filepath.Join(t.TempDir(), "healthy")
	gate := health.NewGate()

	fakeNow := time.Date(2021, 10, 11, 12, 13, 14, 0, time.Local)
	testee := health.NewReporter(
		gate, sentinel,
		health.WithClock(func() time.Time { return fakeNow }),
	)
	check := testee.Fresh(1 * time.Minute)

	t.Run("it passes while the gate is closed", func(t *testing.T) {
		if err := check(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it fails when the sentinel is missing", func(t *testing.T) {
		gate.Open()
		if check() == nil {
			t.Error("a missing sentinel should fail the check")
		}
	})

	t.Run("it passes while the sentinel is fresh", func(t *testing.T) {
		if err := testee.ReportHealthy(); err != nil {
			t.Fatal(err)
		}
		fakeNow = fakeNow.Add(30 * time.Second)
		if err := check(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it fails when the sentinel goes stale", func(t *testing.T) {
		fakeNow = fakeNow.Add(2 * time.Minute)
		if check() == nil {
			t.Error("a stale sentinel should fail the check")
		}
	})
}

func TestNewHandler(t *testing.T) {
	sentinel := filepath.Join(t.TempDir(), "healthy")
	gate := health.NewGate()
	reporter := health.NewReporter(gate, sentinel)
	handler := health.NewHandler(gate, reporter, 1*time.Minute)

	probe := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	t.Run("readiness fails before the first reconciliation pass", func(t *testing.T) {
		if code := probe("/ready"); code != http.StatusServiceUnavailable {
			t.Errorf("unexpected status code: %d", code)
		}
	})

	t.Run("liveness and readiness pass once the agent is up", func(t *testing.T) {
		gate.Open()
		if err := reporter.ReportHealthy(); err != nil {
			t.Fatal(err)
		}
		if code := probe("/ready"); code != http.StatusOK {
			t.Errorf("unexpected readiness status: %d", code)
		}
		if code := probe("/live"); code != http.StatusOK {
			t.Errorf("unexpected liveness status: %d", code)
		}
	})
}
