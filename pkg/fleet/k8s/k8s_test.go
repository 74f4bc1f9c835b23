package k8s_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/fleet"
	k8s "github.com/fleetward/fleetward/pkg/fleet/k8s"
	"github.com/fleetward/fleetward/pkg/fleet/k8s/mock"
	"github.com/fleetward/fleetward/pkg/utils/retry"
	"github.com/fleetward/fleetward/pkg/utils/try"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func jobSpecFixture(name string) *kubebatch.Job {
	return &kubebatch.Job{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				k8s.LabelManaged:   "true",
				k8s.LabelRequestId: "req-1",
			},
		},
		Spec: kubebatch.JobSpec{
			Selector: &kubeapimeta.LabelSelector{
				MatchLabels: map[string]string{"job-name": name},
			},
		},
	}
}

func backoffForTest() retry.Backoff {
	return retry.StaticBackoff(1 * time.Millisecond)
}

func TestNewTask(t *testing.T) {
	t.Run("when the job is created, it resolves a Task", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.CreateJob = func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
			if namespace != cluster.Namespace() {
				t.Errorf("unexpected namespace: %s", namespace)
			}
			return spec, nil
		}

		ctx := context.Background()
		result := <-cluster.NewTask(ctx, backoffForTest(), jobSpecFixture("task-req-req-1"))

		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Value.Name() != "task-req-req-1" {
			t.Errorf("unexpected task name: %s", result.Value.Name())
		}
		if result.Value.RequestId() != "req-1" {
			t.Errorf("unexpected requestId: %s", result.Value.RequestId())
		}
	})

	t.Run("when the created job carries no selector yet, pods are found by the template labels", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.CreateJob = func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
			return spec, nil
		}
		var selected k8s.LabelSelector
		client.Impl.FindPods = func(ctx context.Context, namespace string, labels k8s.LabelSelector) ([]kubecore.Pod, error) {
			selected = labels
			return []kubecore.Pod{}, nil
		}

		// a freshly built spec has Spec.Selector unset; the api server
		// fills it, a test double echoing the spec does not.
		spec := k8s.TaskSpec{
			Prefix:       "task-req-",
			DefaultShape: domain.ResourceShape{CPU: "500m", Memory: "256Mi"},
		}
		job := try.To(spec.Build(domain.WorkloadRequest{
			RequestId: "req-1",
			Image:     "repo.invalid/app:v1",
		})).OrFatal(t)
		if job.Spec.Selector != nil {
			t.Fatal("premise broken: built spec should not carry a selector")
		}

		result := <-cluster.NewTask(context.Background(), backoffForTest(), job)
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Value.RequestId() != "req-1" {
			t.Errorf("unexpected requestId: %s", result.Value.RequestId())
		}
		if sel, ok := selected[k8s.LabelRequestId].(k8s.EqualityBased); !ok || sel != "req-1" {
			t.Errorf("pods are not selected by the request id label: %+v", selected)
		}
	})

	t.Run("when the job already exists, it fails with ErrConflict", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.CreateJob = func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
			return nil, kubeerr.NewAlreadyExists(
				schema.GroupResource{Group: "batch", Resource: "jobs"}, spec.Name,
			)
		}

		result := <-cluster.NewTask(context.Background(), backoffForTest(), jobSpecFixture("task-req-req-1"))

		if !errors.Is(result.Err, fleet.ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", result.Err)
		}
	})

	t.Run("when the cluster rejects the spec, it fails with ErrPlacement", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.CreateJob = func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
			return nil, kubeerr.NewBadRequest("no node matches the selector")
		}

		result := <-cluster.NewTask(context.Background(), backoffForTest(), jobSpecFixture("task-req-req-1"))

		if !errors.Is(result.Err, domain.ErrPlacement) {
			t.Errorf("expected ErrPlacement, got: %v", result.Err)
		}
	})

	t.Run("when the namespace quota is exhausted, it fails with ErrQuota", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.CreateJob = func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
			return nil, kubeerr.NewForbidden(
				schema.GroupResource{Group: "batch", Resource: "jobs"},
				spec.Name,
				errors.New("exceeded quota: compute-resources"),
			)
		}

		result := <-cluster.NewTask(context.Background(), backoffForTest(), jobSpecFixture("task-req-req-1"))

		if !errors.Is(result.Err, domain.ErrQuota) {
			t.Errorf("expected ErrQuota, got: %v", result.Err)
		}
	})

	t.Run("it waits for requirements to be satisfied", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.CreateJob = func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
			return spec, nil
		}
		polled := 0
		client.Impl.GetJob = func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
			polled += 1
			job := jobSpecFixture(name)
			if 3 <= polled {
				job.Status.Active = 1
			}
			return job, nil
		}

		result := <-cluster.NewTask(
			context.Background(), backoffForTest(),
			jobSpecFixture("task-req-req-1"),
			k8s.TaskHasStarted,
		)

		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if polled < 3 {
			t.Errorf("requirement should be polled until satisfied (polled = %d)", polled)
		}
	})
}

func TestGetTask(t *testing.T) {
	t.Run("when the job is not found, it fails with ErrMissing", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.GetJob = func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
			return nil, kubeerr.NewNotFound(
				schema.GroupResource{Group: "batch", Resource: "jobs"}, name,
			)
		}

		result := <-cluster.GetTask(context.Background(), backoffForTest(), "task-req-req-1")

		if !errors.Is(result.Err, fleet.ErrMissing) {
			t.Errorf("expected ErrMissing, got: %v", result.Err)
		}
	})

	t.Run("it reads status from job conditions and pods", func(t *testing.T) {
		for name, testcase := range map[string]struct {
			conditions []kubebatch.JobCondition
			podPhase   *kubecore.PodPhase
			expected   k8s.TaskStatus
		}{
			"completed job is Succeeded": {
				conditions: []kubebatch.JobCondition{
					{Type: kubebatch.JobComplete, Status: "True"},
				},
				expected: k8s.Succeeded,
			},
			"failed job is Failed": {
				conditions: []kubebatch.JobCondition{
					{Type: kubebatch.JobFailed, Status: "True"},
				},
				expected: k8s.Failed,
			},
			"job with a running pod is Running": {
				podPhase: func() *kubecore.PodPhase { p := kubecore.PodRunning; return &p }(),
				expected: k8s.Running,
			},
			"job without started pods is Pending": {
				expected: k8s.Pending,
			},
		} {
			t.Run(name, func(t *testing.T) {
				cluster, client := mock.NewCluster()
				client.Impl.GetJob = func(ctx context.Context, namespace string, jobName string) (*kubebatch.Job, error) {
					job := jobSpecFixture(jobName)
					job.Status.Conditions = testcase.conditions
					return job, nil
				}
				if testcase.podPhase != nil {
					client.Impl.FindPods = func(ctx context.Context, namespace string, labels k8s.LabelSelector) ([]kubecore.Pod, error) {
						return []kubecore.Pod{
							{Status: kubecore.PodStatus{Phase: *testcase.podPhase}},
						}, nil
					}
				}

				result := <-cluster.GetTask(context.Background(), backoffForTest(), "task-req-req-1")

				if result.Err != nil {
					t.Fatalf("unexpected error: %v", result.Err)
				}
				if actual := result.Value.Status(); actual != testcase.expected {
					t.Errorf("status mismatch. (actual, expected) = (%s, %s)", actual, testcase.expected)
				}
			})
		}
	})

	t.Run("it exposes the exit code of the workload container", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.GetJob = func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
			job := jobSpecFixture(name)
			job.Status.Conditions = []kubebatch.JobCondition{
				{Type: kubebatch.JobFailed, Status: "True"},
			}
			return job, nil
		}
		client.Impl.FindPods = func(ctx context.Context, namespace string, labels k8s.LabelSelector) ([]kubecore.Pod, error) {
			return []kubecore.Pod{
				{
					Status: kubecore.PodStatus{
						Phase: kubecore.PodFailed,
						ContainerStatuses: []kubecore.ContainerStatus{
							{
								Name: k8s.ContainerMain,
								State: kubecore.ContainerState{
									Terminated: &kubecore.ContainerStateTerminated{
										ExitCode: 137, Reason: "OOMKilled",
									},
								},
							},
						},
					},
				},
			}, nil
		}

		result := <-cluster.GetTask(context.Background(), backoffForTest(), "task-req-req-1")
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}

		code, reason, ok := result.Value.ExitCode()
		if !ok {
			t.Fatal("exit code should be known for a stopped task")
		}
		if code != 137 || reason != "OOMKilled" {
			t.Errorf("unexpected exit: (code, reason) = (%d, %s)", code, reason)
		}
	})
}

func TestStopTask(t *testing.T) {
	t.Run("it deletes the job", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.DeleteJob = func(ctx context.Context, namespace string, name string) error {
			return nil
		}

		if err := cluster.StopTask(context.Background(), "task-req-req-1"); err != nil {
			t.Fatal(err)
		}
		if len(client.Calls.DeleteJob) != 1 || client.Calls.DeleteJob[0] != "task-req-req-1" {
			t.Errorf("unexpected delete calls: %+v", client.Calls.DeleteJob)
		}
	})

	t.Run("stopping a task which does not exist is not an error", func(t *testing.T) {
		cluster, client := mock.NewCluster()
		client.Impl.DeleteJob = func(ctx context.Context, namespace string, name string) error {
			return kubeerr.NewNotFound(
				schema.GroupResource{Group: "batch", Resource: "jobs"}, name,
			)
		}

		if err := cluster.StopTask(context.Background(), "task-req-req-1"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestListTaskRefs(t *testing.T) {
	cluster, client := mock.NewCluster()
	client.Impl.FindJobs = func(ctx context.Context, namespace string, labels k8s.LabelSelector) ([]kubebatch.Job, error) {
		if labels.QueryString() != k8s.LabelManaged+"=true" {
			t.Errorf("unexpected selector: %s", labels.QueryString())
		}
		return []kubebatch.Job{
			*jobSpecFixture("task-req-req-1"),
			*jobSpecFixture("task-req-req-2"),
		}, nil
	}

	refs, err := cluster.ListTaskRefs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 || refs[0] != "task-req-req-1" || refs[1] != "task-req-req-2" {
		t.Errorf("unexpected refs: %+v", refs)
	}
}
