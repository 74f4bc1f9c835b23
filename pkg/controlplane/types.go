package controlplane

import (
	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/utils"
)

// wire representations of the control plane API.
//
// These are kept apart from pkg/domain types so that the agent's
// internal model can move without breaking the protocol.

type registrationRequest struct {
	Organization string `json:"organization"`
	Deployment   string `json:"deployment"`
	Assertion    string `json:"assertion"`
}

type registrationResponse struct {
	AgentId      string `json:"agentId"`
	SessionToken string `json:"sessionToken"`
}

type workloadRequest struct {
	RequestId string            `json:"requestId"`
	Image     string            `json:"image"`
	Command   []string          `json:"command,omitempty"`
	Shape     *resourceShape    `json:"shape,omitempty"`
	Placement *networkPlacement `json:"placement,omitempty"`
}

type resourceShape struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

type networkPlacement struct {
	Subnet string `json:"subnet"`
}

type backlogResponse struct {
	Requests    []workloadRequest `json:"requests"`
	Revocations []string          `json:"revocations"`
}

func (w workloadRequest) Binding() domain.WorkloadRequest {
	req := domain.WorkloadRequest{
		RequestId: w.RequestId,
		Image:     w.Image,
		Command:   w.Command,
	}
	if w.Shape != nil {
		req.Shape = domain.ResourceShape{CPU: w.Shape.CPU, Memory: w.Shape.Memory}
	}
	if w.Placement != nil {
		req.Placement = domain.NetworkPlacement{Subnet: w.Placement.Subnet}
	}
	return req
}

func (b backlogResponse) Binding() Backlog {
	return Backlog{
		Requests:    utils.Map(b.Requests, workloadRequest.Binding),
		Revocations: b.Revocations,
	}
}

type resourceStatus struct {
	RequestId string        `json:"requestId"`
	State     string        `json:"state"`
	Exit      *resourceExit `json:"exit,omitempty"`
	Message   string        `json:"message,omitempty"`
}

type resourceExit struct {
	Code    uint8  `json:"code"`
	Message string `json:"message,omitempty"`
}

type statusReport struct {
	Healthy   bool             `json:"healthy"`
	Resources []resourceStatus `json:"resources"`
}

func composeReport(report Report) statusReport {
	return statusReport{
		Healthy: report.Healthy,
		Resources: utils.Map(report.Resources, func(r ResourceStatus) resourceStatus {
			s := resourceStatus{
				RequestId: r.RequestId,
				State:     string(r.State),
				Message:   r.Message,
			}
			if r.Exit != nil {
				s.Exit = &resourceExit{Code: r.Exit.Code, Message: r.Exit.Message}
			}
			return s
		}),
	}
}
