package server

import (
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/status"
)

// AgentStatus is the response of GET /api/status.
type AgentStatus struct {
	Organization string               `json:"organization"`
	Deployment   string               `json:"deployment"`
	AgentId      string               `json:"agentId"`
	Ready        bool                 `json:"ready"`
	Loops        map[string]time.Time `json:"loops"`
	Incidents    []Incident           `json:"incidents"`
}

type Incident struct {
	At        time.Time `json:"at"`
	Loop      string    `json:"loop"`
	RequestId string    `json:"requestId,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

func ComposeIncident(i status.Incident) Incident {
	return Incident{
		At:        i.At,
		Loop:      i.Loop,
		RequestId: i.RequestId,
		Kind:      string(i.Kind),
		Message:   i.Message,
	}
}

// ResourceDetail is one fleet resource as the status API shows it.
type ResourceDetail struct {
	RequestId        string         `json:"requestId"`
	Image            string         `json:"image"`
	Command          []string       `json:"command,omitempty"`
	Shape            ResourceShape  `json:"shape"`
	Placement        Placement      `json:"placement"`
	TaskRef          string         `json:"taskRef"`
	Desired          string         `json:"desired"`
	State            string         `json:"state"`
	Exit             *ResourceExit  `json:"exit,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	LastReconciledAt time.Time      `json:"lastReconciledAt"`
}

type ResourceShape struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
}

type Placement struct {
	Subnet string `json:"subnet,omitempty"`
}

type ResourceExit struct {
	Code    uint8  `json:"code"`
	Message string `json:"message,omitempty"`
}

func ComposeResourceDetail(r domain.FleetResource) ResourceDetail {
	detail := ResourceDetail{
		RequestId:        r.RequestId,
		Image:            r.Spec.Image,
		Command:          r.Spec.Command,
		Shape:            ResourceShape{CPU: r.Spec.Shape.CPU, Memory: r.Spec.Shape.Memory},
		Placement:        Placement{Subnet: r.Spec.Placement.Subnet},
		TaskRef:          r.TaskRef,
		Desired:          r.Desired.String(),
		State:            r.State.String(),
		UpdatedAt:        r.UpdatedAt,
		LastReconciledAt: r.LastReconciledAt,
	}
	if r.Exit != nil {
		detail.Exit = &ResourceExit{Code: r.Exit.Code, Message: r.Exit.Message}
	}
	return detail
}
