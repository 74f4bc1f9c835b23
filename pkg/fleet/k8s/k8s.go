// Package k8s runs fleet tasks as Kubernetes Jobs.
package k8s

import (
	"context"
	"errors"

	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/fleet"
	"github.com/fleetward/fleetward/pkg/utils"
	"github.com/fleetward/fleetward/pkg/utils/retry"
)

const (
	// label on every task this agent manages.
	LabelManaged = "fleetward.dev/managed"

	// label carrying the requestId the task realizes.
	LabelRequestId = "fleetward.dev/request-id"

	// node label pinning tasks to a network segment.
	LabelSubnet = "fleetward.dev/subnet"

	// the container running the workload image.
	ContainerMain = "main"
)

// subset of k8s.Clientset
type FleetClient interface {
	GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
	CreateJob(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error
	FindJobs(ctx context.Context, namespace string, labelSelector LabelSelector) ([]kubebatch.Job, error)
	FindPods(ctx context.Context, namespace string, labelSelector LabelSelector) ([]kubecore.Pod, error)
}

// A wrapper for the type k8s.Clientset; because it does not prefer method chain-style invocations of that type.
type fleetClient struct {
	client *k8s.Clientset
}

var _ FleetClient = &fleetClient{}

func (k *fleetClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *fleetClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Create(ctx, job, kubeapimeta.CreateOptions{})
}

func (k *fleetClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	foreground := kubeapimeta.DeletePropagationForeground
	zero := int64(0)
	return k.client.BatchV1().Jobs(namespace).Delete(ctx, name, kubeapimeta.DeleteOptions{
		GracePeriodSeconds: &zero,
		PropagationPolicy:  &foreground,
	})
}

func (k *fleetClient) FindJobs(ctx context.Context, namespace string, labels LabelSelector) ([]kubebatch.Job, error) {
	resp, err := k.client.BatchV1().Jobs(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labels.QueryString(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *fleetClient) FindPods(ctx context.Context, namespace string, labels LabelSelector) ([]kubecore.Pod, error) {
	resp, err := k.client.CoreV1().Pods(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labels.QueryString(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func WrapFleetClient(c *k8s.Clientset) FleetClient {
	return &fleetClient{client: c}
}

type TaskStatus string

const (
	// no pods have been started.
	Pending TaskStatus = "Pending"

	// at least one pod has started, and the task has not completed.
	Running TaskStatus = "Running"

	// the task is succeeded.
	Succeeded TaskStatus = "Succeeded"

	// the task is failed.
	Failed TaskStatus = "Failed"
)

// abstraction of a fleet task backed by a k8s Job.
type Task interface {
	// the name of the task
	Name() string

	// the namespace where the task is placed in
	Namespace() string

	// the requestId this task realizes, read from its labels.
	RequestId() string

	// how does the task progress, at least
	//
	// This value is just a SNAPSHOT of the task when you get the instance.
	// To refresh, get a new instance with Cluster.GetTask.
	Status() TaskStatus

	// ExitCode returns the exit code of the workload container.
	//
	// # Return
	//
	// - exitCode : the exit code of the container.
	//
	// - reason: the reason of the termination.
	//
	// - ok : true if the task has been stopped, false otherwise.
	ExitCode() (uint8, string, bool)

	// destroy the task. If it is running or pending, it is aborted.
	Close() error
}

type task struct {
	job   *kubebatch.Job
	pods  []kubecore.Pod
	close func() error
}

var _ Task = &task{}

func (t *task) Name() string {
	return t.job.Name
}

func (t *task) Namespace() string {
	return t.job.Namespace
}

func (t *task) RequestId() string {
	return t.job.Labels[LabelRequestId]
}

func (t *task) Status() TaskStatus {
	for _, sc := range t.job.Status.Conditions {
		if sc.Status != "True" {
			continue
		}
		switch sc.Type {
		case kubebatch.JobComplete:
			return Succeeded
		case kubebatch.JobFailed:
			return Failed
		}
	}

	for _, p := range t.pods {
		// if at least one pod has been run, the task has been run.
		switch p.Status.Phase {
		case kubecore.PodRunning, kubecore.PodSucceeded, kubecore.PodFailed:
			return Running
		}
	}

	return Pending
}

func (t *task) ExitCode() (uint8, string, bool) {
	for _, p := range t.pods {
		for _, c := range p.Status.ContainerStatuses {
			if c.Name != ContainerMain {
				continue
			}
			if term := c.State.Terminated; term != nil {
				return uint8(term.ExitCode), term.Reason, true
			}
			break
		}
	}
	return 0, "", false
}

func (t *task) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// Requirement is a function that checks if a created k8s resource satisfies the requirement.
//
// # Return
//
// - error: When the value satisfies the requirement, return nil.
// If it is waiting to satisfy the requirement, return `retry.ErrRetry`.
// Otherwise, return error.
type Requirement[T any] func(value T) error

func satisfyAll[T any](value T, req []Requirement[T]) error {
	for _, r := range req {
		if err := r(value); err != nil {
			return err
		}
	}
	return nil
}

var TaskHaveBeenCreated Requirement[*kubebatch.Job] = func(value *kubebatch.Job) error {
	return nil
}

// TaskHasStarted waits until the Job's pods have been scheduled and run.
var TaskHasStarted Requirement[*kubebatch.Job] = func(value *kubebatch.Job) error {
	if value.Status.Active+value.Status.Succeeded+value.Status.Failed <= 0 {
		return retry.ErrRetry
	}
	return nil
}

type Cluster interface {
	Namespace() string
	Domain() string

	// Create a new task and wait for it to satisfy all requirements.
	//
	// Args
	//
	// - ctx context.Context
	//
	// - backoff retry.Backoff: backoff policy to wait for the task satisfy all requirements.
	//
	// - spec *kubebatch.Job: spec of wanted task
	//
	// - requirements ...Requirement[*kubebatch.Job]: requirements for the task.
	// If not given, TaskHaveBeenCreated is used as default.
	//
	// Return
	//
	// - retry.Promise[Task]
	//
	// Promise which is resolved when the task is created & satisfied requirements.
	//
	// The Promise may have Error below:
	//
	// - fleet.ErrConflict: task is already created.
	//
	// - fleet.ErrMissing: task is missing after created until meets requirements.
	//
	// - domain.ErrPlacement: the cluster rejected the spec as unplaceable.
	//
	// - domain.ErrQuota: the namespace's quota has no room for the task.
	//
	// - other errors come from Requirements and context.Context
	//
	// Whether or not the Promise has Error, the task can be created.
	// So, you may need to Close() it.
	NewTask(context.Context, retry.Backoff, *kubebatch.Job, ...Requirement[*kubebatch.Job]) retry.Promise[Task]

	// Get an existing task
	//
	// Args
	//
	// - context.Context
	//
	// - backoff retry.Backoff: backoff policy to wait for the task satisfy all requirements.
	//
	// - string: name of the task
	//
	// - requirements ...Requirement[*kubebatch.Job]: requirements for the task.
	// If not given, TaskHaveBeenCreated is used as default.
	//
	// Return
	//
	// - retry.Promise[Task]
	//
	// The Promise may have Error below:
	//
	// - fleet.ErrMissing: task is not found.
	//
	// - other errors come from Requirements and context.Context
	GetTask(context.Context, retry.Backoff, string, ...Requirement[*kubebatch.Job]) retry.Promise[Task]

	// ListTaskRefs lists names of all tasks this agent manages in its namespace.
	ListTaskRefs(ctx context.Context) ([]string, error)

	// StopTask removes the task and its pods.
	//
	// Removing a task which does not exist is not an error.
	StopTask(ctx context.Context, name string) error
}

type k8sCluster struct {
	client    FleetClient
	namespace string
	domain    string
}

var _ Cluster = &k8sCluster{}

// Attach kubernetes cluster.
//
// args:
//   - client: k8s clientset subset
//   - namespace: k8s namespace tasks are placed in
//   - domain: k8s-internal domain name. If empty string is passed, it uses "cluster.local" as default.
func AttachCluster(client FleetClient, namespace string, domain string) Cluster {
	if domain == "" {
		domain = "cluster.local"
	}
	return &k8sCluster{client: client, namespace: namespace, domain: domain}
}

func (c *k8sCluster) Namespace() string {
	return c.namespace
}

func (c *k8sCluster) Domain() string {
	return c.domain
}

// podSelector chooses the labels a task's pods are found by.
//
// The api server fills Spec.Selector when it admits a job, but a job
// just echoed back from creation may not carry it yet. Fall back to
// the pod template labels the task spec stamps.
func podSelector(job *kubebatch.Job) LabelSelector {
	if s := job.Spec.Selector; s != nil {
		return LabelsToSelector(s.MatchLabels)
	}
	return LabelsToSelector(job.Spec.Template.ObjectMeta.Labels)
}

// asLaunchError maps k8s api errors onto the agent's error taxonomy.
func asLaunchError(err error) error {
	switch {
	case kubeerr.IsInvalid(err) || kubeerr.IsBadRequest(err):
		return domain.NewErrPlacement(err)
	case kubeerr.IsForbidden(err):
		// quota rejections come back as 403 from the quota admission plugin.
		return domain.NewErrQuota(err)
	default:
		return err
	}
}

func (c *k8sCluster) NewTask(
	ctx context.Context, backoff retry.Backoff, spec *kubebatch.Job,
	requirements ...Requirement[*kubebatch.Job],
) retry.Promise[Task] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubebatch.Job]{TaskHaveBeenCreated}
	}

	select {
	case <-ctx.Done():
		return retry.Failed[Task](ctx.Err())
	default:
	}

	created, err := c.client.CreateJob(ctx, c.namespace, spec)
	if err != nil {
		if kubeerr.IsAlreadyExists(err) {
			return retry.Failed[Task](fleet.NewConflictCausedBy("", err))
		}
		return retry.Failed[Task](asLaunchError(err))
	}
	_close := func() error {
		return c.client.DeleteJob(
			context.Background(), // close should run even if given ctx has closed.
			c.namespace,
			created.ObjectMeta.Name,
		)
	}

	if err := satisfyAll(created, requirements); err == nil {
		pods, err := c.client.FindPods(
			ctx, c.namespace, podSelector(created),
		)
		if err != nil {
			pods = []kubecore.Pod{}
		}
		return retry.Ok[Task](&task{job: created, pods: pods, close: _close})
	} else if !errors.Is(err, retry.ErrRetry) {
		return retry.Failed[Task](err)
	}

	return c.GetTask(ctx, backoff, created.ObjectMeta.Name, requirements...)
}

func (c *k8sCluster) GetTask(
	ctx context.Context, backoff retry.Backoff, name string,
	requirements ...Requirement[*kubebatch.Job],
) retry.Promise[Task] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubebatch.Job]{TaskHaveBeenCreated}
	}
	_close := func() error {
		return c.client.DeleteJob(context.Background(), c.namespace, name)
	}

	return retry.Go(ctx, backoff, func() (Task, error) {
		job, err := c.client.GetJob(ctx, c.namespace, name)
		ret := &task{job: job, close: _close}

		if err != nil {
			if kubeerr.IsNotFound(err) {
				return ret, fleet.NewMissingCausedBy("", err)
			}
			return ret, err
		}

		if err := satisfyAll(job, requirements); err != nil {
			return ret, err
		}

		pods, err := c.client.FindPods(
			ctx, c.namespace, podSelector(job),
		)
		if err == nil {
			ret.pods = pods
		}
		return ret, nil
	})
}

func (c *k8sCluster) ListTaskRefs(ctx context.Context) ([]string, error) {
	jobs, err := c.client.FindJobs(ctx, c.namespace, LabelSelector{
		LabelManaged: EqualityBased("true"),
	})
	if err != nil {
		return nil, err
	}
	return utils.Map(jobs, func(j kubebatch.Job) string { return j.Name }), nil
}

func (c *k8sCluster) StopTask(ctx context.Context, name string) error {
	if err := c.client.DeleteJob(ctx, c.namespace, name); err != nil {
		if kubeerr.IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}
