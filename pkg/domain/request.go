package domain

import (
	"github.com/fleetward/fleetward/pkg/utils/cmp"
)

// ResourceShape is how large the workload's container should be.
//
// CPU and Memory are quantity strings ("500m", "2Gi", ...),
// parsed when the concrete fleet task is built.
type ResourceShape struct {
	CPU    string
	Memory string
}

// NetworkPlacement pins the workload to a segment of the fleet's network.
type NetworkPlacement struct {
	// Subnet names the network segment. Empty means "anywhere".
	Subnet string
}

// WorkloadRequest is a unit of work issued by the control plane.
//
// Each WorkloadRequest maps to at most one FleetResource at a time.
type WorkloadRequest struct {
	RequestId string
	Image     string
	Command   []string
	Shape     ResourceShape
	Placement NetworkPlacement
}

func (w WorkloadRequest) Equal(other WorkloadRequest) bool {
	return w.RequestId == other.RequestId &&
		w.Image == other.Image &&
		cmp.SliceEq(w.Command, other.Command) &&
		w.Shape == other.Shape &&
		w.Placement == other.Placement
}
