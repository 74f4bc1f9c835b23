package agent_test

import (
	"testing"
	"time"

	kconf "github.com/fleetward/fleetward/pkg/configs/agent"
)

func TestConfigMarshall(t *testing.T) {
	t.Run("it loads config from yaml: ", func(t *testing.T) {
		agentYml := []byte(`
identity:
  organization: acme
  deployment: data-prod
  token: fake-agent-token
controlPlane:
  url: https://control.example.com
  pollInterval: 7s
  backoff:
    initial: 2s
    max: 90s
fleet:
  namespace: fleetward-workloads
  domain: fleet.example.internal
  taskPrefix: wl-
  defaultShape:
    cpu: 250m
    memory: 512Mi
launcher:
  workers: 8
  queue: 32
  launchTimeout: 45s
reconcile:
  gracePeriod: 3m
  debounce: 20s
  ttl: 2h
health:
  sentinel: /var/run/fleetagt/alive
  interval: 5s
  port: 9090
`)
		result, err := kconf.Unmarshal(agentYml)

		if err != nil {
			t.Fatalf("failed to parse config.: %v", err)
		}

		t.Run(".identity.organization", func(t *testing.T) {
			actual := result.Identity().Organization()
			expected := "acme"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".identity.deployment", func(t *testing.T) {
			actual := result.Identity().Deployment()
			expected := "data-prod"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".identity.token", func(t *testing.T) {
			actual := result.Identity().Token()
			expected := "fake-agent-token"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".controlPlane.url", func(t *testing.T) {
			actual := result.ControlPlane().URL()
			expected := "https://control.example.com"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".controlPlane.pollInterval", func(t *testing.T) {
			actual := result.ControlPlane().PollInterval()
			expected := 7 * time.Second
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".controlPlane.backoff", func(t *testing.T) {
			if actual, expected := result.ControlPlane().Backoff().Initial(), 2*time.Second; actual != expected {
				t.Errorf("initial mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
			if actual, expected := result.ControlPlane().Backoff().Max(), 90*time.Second; actual != expected {
				t.Errorf("max mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".fleet.namespace", func(t *testing.T) {
			actual := result.Fleet().Namespace()
			expected := "fleetward-workloads"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".fleet.domain", func(t *testing.T) {
			actual := result.Fleet().Domain()
			expected := "fleet.example.internal"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".fleet.taskPrefix", func(t *testing.T) {
			actual := result.Fleet().TaskPrefix()
			expected := "wl-"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".fleet.defaultShape", func(t *testing.T) {
			shape := result.Fleet().DefaultShape()
			if shape.CPU != "250m" || shape.Memory != "512Mi" {
				t.Errorf("mismatch. actual = %+v", shape)
			}
		})

		t.Run(".launcher", func(t *testing.T) {
			if actual := result.Launcher().Workers(); actual != 8 {
				t.Errorf("workers mismatch. actual = %d", actual)
			}
			if actual := result.Launcher().Queue(); actual != 32 {
				t.Errorf("queue mismatch. actual = %d", actual)
			}
			if actual := result.Launcher().LaunchFor(); actual != 45*time.Second {
				t.Errorf("launchTimeout mismatch. actual = %s", actual)
			}
		})

		t.Run(".reconcile", func(t *testing.T) {
			if actual := result.Reconcile().GracePeriod(); actual != 3*time.Minute {
				t.Errorf("gracePeriod mismatch. actual = %s", actual)
			}
			if actual := result.Reconcile().Debounce(); actual != 20*time.Second {
				t.Errorf("debounce mismatch. actual = %s", actual)
			}
			if actual := result.Reconcile().TTL(); actual != 2*time.Hour {
				t.Errorf("ttl mismatch. actual = %s", actual)
			}
		})

		t.Run(".health", func(t *testing.T) {
			if actual := result.Health().Sentinel(); actual != "/var/run/fleetagt/alive" {
				t.Errorf("sentinel mismatch. actual = %s", actual)
			}
			if actual := result.Health().Interval(); actual != 5*time.Second {
				t.Errorf("interval mismatch. actual = %s", actual)
			}
			if actual := result.Health().Port(); actual != int32(9090) {
				t.Errorf("port mismatch. actual = %d", actual)
			}
		})
	})

	t.Run("it applies defaults for omitted optional sections: ", func(t *testing.T) {
		agentYml := []byte(`
identity:
  organization: acme
  deployment: data-prod
  token: fake-agent-token
controlPlane:
  url: https://control.example.com
fleet:
  namespace: fleetward-workloads
health:
  sentinel: /var/run/fleetagt/alive
`)
		result, err := kconf.Unmarshal(agentYml)
		if err != nil {
			t.Fatalf("failed to parse config.: %v", err)
		}

		if actual := result.ControlPlane().PollInterval(); actual != 5*time.Second {
			t.Errorf("pollInterval default mismatch. actual = %s", actual)
		}
		if actual := result.ControlPlane().Backoff().Max(); actual != 1*time.Minute {
			t.Errorf("backoff.max default mismatch. actual = %s", actual)
		}
		if actual := result.Fleet().Domain(); actual != "cluster.local" {
			t.Errorf("domain default mismatch. actual = %s", actual)
		}
		if actual := result.Fleet().TaskPrefix(); actual != "task-req-" {
			t.Errorf("taskPrefix default mismatch. actual = %s", actual)
		}
		if actual := result.Launcher().Workers(); actual != 4 {
			t.Errorf("workers default mismatch. actual = %d", actual)
		}
		if actual := result.Reconcile().GracePeriod(); actual != 2*time.Minute {
			t.Errorf("gracePeriod default mismatch. actual = %s", actual)
		}
		if actual := result.Health().Port(); actual != int32(8080) {
			t.Errorf("port default mismatch. actual = %d", actual)
		}
	})

	t.Run("it panics when required fields are missing: ", func(t *testing.T) {
		agentYml := []byte(`
identity:
  organization: acme
  deployment: data-prod
controlPlane:
  url: https://control.example.com
fleet:
  namespace: fleetward-workloads
health:
  sentinel: /var/run/fleetagt/alive
`)
		defer func() {
			if recover() == nil {
				t.Error("panic is expected for missing token, but not raised")
			}
		}()
		kconf.Unmarshal(agentYml)
	})
}
