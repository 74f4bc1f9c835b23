// this package provides "mock" implementation of the fleet client for testing.
package mock

import (
	"context"
	"errors"

	k8s "github.com/fleetward/fleetward/pkg/fleet/k8s"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
)

// get mocked k8s.Cluster
//
// # returns
//
//   - k8s.Cluster : using *MockClient as base client
//   - *MockClient : mock object.
//     you can fake fleet behaviours or spy its usage.
func NewCluster() (k8s.Cluster, *MockClient) {
	client := NewMockClient()

	namespace := "fake-namespace"
	domain := "fake.local"

	return k8s.AttachCluster(client, namespace, domain), client
}

type MockClient struct {
	Impl struct {
		GetJob    func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
		CreateJob func(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error)
		DeleteJob func(ctx context.Context, namespace string, name string) error
		FindJobs  func(ctx context.Context, namespace string, labels k8s.LabelSelector) ([]kubebatch.Job, error)
		FindPods  func(ctx context.Context, namespace string, labels k8s.LabelSelector) ([]kubecore.Pod, error)
	}

	Calls struct {
		GetJob    []string
		CreateJob []*kubebatch.Job
		DeleteJob []string
	}
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

var _ k8s.FleetClient = &MockClient{}

func (m *MockClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	m.Calls.GetJob = append(m.Calls.GetJob, name)
	if m.Impl.GetJob == nil {
		return nil, errors.New("[MOCK] GetJob should not be called")
	}
	return m.Impl.GetJob(ctx, namespace, name)
}

func (m *MockClient) CreateJob(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error) {
	m.Calls.CreateJob = append(m.Calls.CreateJob, spec)
	if m.Impl.CreateJob == nil {
		return nil, errors.New("[MOCK] CreateJob should not be called")
	}
	return m.Impl.CreateJob(ctx, namespace, spec)
}

func (m *MockClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	m.Calls.DeleteJob = append(m.Calls.DeleteJob, name)
	if m.Impl.DeleteJob == nil {
		return errors.New("[MOCK] DeleteJob should not be called")
	}
	return m.Impl.DeleteJob(ctx, namespace, name)
}

func (m *MockClient) FindJobs(ctx context.Context, namespace string, labels k8s.LabelSelector) ([]kubebatch.Job, error) {
	if m.Impl.FindJobs == nil {
		return nil, errors.New("[MOCK] FindJobs should not be called")
	}
	return m.Impl.FindJobs(ctx, namespace, labels)
}

func (m *MockClient) FindPods(ctx context.Context, namespace string, labels k8s.LabelSelector) ([]kubecore.Pod, error) {
	if m.Impl.FindPods == nil {
		return []kubecore.Pod{}, nil
	}
	return m.Impl.FindPods(ctx, namespace, labels)
}
