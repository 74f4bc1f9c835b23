package k8s

import (
	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/utils/pointer"
	"github.com/google/go-containerregistry/pkg/name"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapiresource "k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// TaskSpec renders WorkloadRequests into k8s Job manifests.
type TaskSpec struct {
	// Prefix of every task name, so that task names never collide
	// with other tenants of the namespace.
	Prefix string

	// DefaultShape is applied when a request does not carry its own.
	DefaultShape domain.ResourceShape
}

// TaskRef is the fleet-side name for the request. Deterministic, so
// that two launchers racing on the same request build the same name
// and the second create is rejected as a conflict.
func (s TaskSpec) TaskRef(requestId string) string {
	return s.Prefix + requestId
}

// Build renders the request.
//
// Returns
//
// - *kubebatch.Job
//
// - error: domain.ErrPlacement when the request can never be placed:
// unparsable image reference or malformed resource quantities.
func (s TaskSpec) Build(r domain.WorkloadRequest) (*kubebatch.Job, error) {
	if _, err := name.ParseReference(r.Image); err != nil {
		return nil, domain.NewErrPlacement(err)
	}

	shape := r.Shape
	if shape == (domain.ResourceShape{}) {
		shape = s.DefaultShape
	}
	cpu, err := kubeapiresource.ParseQuantity(shape.CPU)
	if err != nil {
		return nil, domain.NewErrPlacement(err)
	}
	memory, err := kubeapiresource.ParseQuantity(shape.Memory)
	if err != nil {
		return nil, domain.NewErrPlacement(err)
	}

	var nodeSelector map[string]string
	if r.Placement.Subnet != "" {
		nodeSelector = map[string]string{LabelSubnet: r.Placement.Subnet}
	}

	labels := map[string]string{
		LabelManaged:   "true",
		LabelRequestId: r.RequestId,
	}

	return &kubebatch.Job{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:   s.TaskRef(r.RequestId),
			Labels: labels,
		},
		Spec: kubebatch.JobSpec{
			Parallelism:  pointer.Ref[int32](1),
			BackoffLimit: pointer.Ref[int32](0),
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels},
				Spec: kubecore.PodSpec{
					RestartPolicy:      kubecore.RestartPolicyNever,
					EnableServiceLinks: pointer.Ref(false),
					NodeSelector:       nodeSelector,
					Containers: []kubecore.Container{
						{
							Name:    ContainerMain,
							Image:   r.Image,
							Command: r.Command,
							Resources: kubecore.ResourceRequirements{
								Requests: kubecore.ResourceList{
									kubecore.ResourceCPU:    cpu,
									kubecore.ResourceMemory: memory,
								},
								Limits: kubecore.ResourceList{
									kubecore.ResourceCPU:    cpu,
									kubecore.ResourceMemory: memory,
								},
							},
						},
					},
				},
			},
		},
	}, nil
}
