// this package provides "mock" implementation of the control plane client for testing.
package mock

import (
	"context"
	"errors"

	"github.com/fleetward/fleetward/pkg/controlplane"
	"github.com/fleetward/fleetward/pkg/domain"
)

type CallLog[T any] []T

func (l CallLog[T]) Times() uint {
	return uint(len(l))
}

type Client struct {
	Impl struct {
		Register     func(ctx context.Context, identity domain.AgentIdentity) (*controlplane.Session, error)
		Poll         func(ctx context.Context, session *controlplane.Session) (controlplane.Backlog, error)
		ReportStatus func(ctx context.Context, session *controlplane.Session, report controlplane.Report) error
	}

	Calls struct {
		Register     CallLog[domain.AgentIdentity]
		Poll         CallLog[*controlplane.Session]
		ReportStatus CallLog[controlplane.Report]
	}
}

func New() *Client {
	return &Client{}
}

var _ controlplane.Client = &Client{}

func (m *Client) Register(ctx context.Context, identity domain.AgentIdentity) (*controlplane.Session, error) {
	m.Calls.Register = append(m.Calls.Register, identity)
	if m.Impl.Register == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Register(ctx, identity)
}

func (m *Client) Poll(ctx context.Context, session *controlplane.Session) (controlplane.Backlog, error) {
	m.Calls.Poll = append(m.Calls.Poll, session)
	if m.Impl.Poll == nil {
		return controlplane.Backlog{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Poll(ctx, session)
}

func (m *Client) ReportStatus(ctx context.Context, session *controlplane.Session, report controlplane.Report) error {
	m.Calls.ReportStatus = append(m.Calls.ReportStatus, report)
	if m.Impl.ReportStatus == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.ReportStatus(ctx, session, report)
}
