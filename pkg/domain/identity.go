package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoToken        = errors.New("agent token is empty")
	ErrNoOrganization = errors.New("organization is empty")
	ErrNoDeployment   = errors.New("deployment is empty")
)

// AgentIdentity identifies this agent to the control plane.
//
// Immutable once loaded from config.
type AgentIdentity struct {
	// Organization is the control-plane namespace the agent belongs to.
	Organization string

	// Deployment is the name of the deployment this agent serves.
	Deployment string

	// Token is the shared secret issued by the control plane.
	//
	// Never log this value.
	Token string
}

func (id AgentIdentity) Validate() error {
	if id.Token == "" {
		return ErrNoToken
	}
	if id.Organization == "" {
		return ErrNoOrganization
	}
	if id.Deployment == "" {
		return ErrNoDeployment
	}
	return nil
}

func (id AgentIdentity) String() string {
	// token is deliberately omitted.
	return fmt.Sprintf("%s/%s", id.Organization, id.Deployment)
}

func (id AgentIdentity) Equal(other AgentIdentity) bool {
	return id.Organization == other.Organization &&
		id.Deployment == other.Deployment &&
		id.Token == other.Token
}
