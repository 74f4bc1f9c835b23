package mocks

import (
	"context"
	"errors"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/store"
)

type ResourceInterface struct {
	Impl struct {
		Insert          func(ctx context.Context, r domain.FleetResource) (domain.FleetResource, bool, error)
		Get             func(ctx context.Context, requestIds []string) (map[string]domain.FleetResource, error)
		Find            func(ctx context.Context, query store.ResourceFindQuery) ([]string, error)
		SetDesired      func(ctx context.Context, requestId string, desired domain.ResourceState) error
		SetExit         func(ctx context.Context, requestId string, exit domain.ResourceExit) error
		PickAndSetState func(ctx context.Context, cursor domain.ResourceCursor, task func(domain.FleetResource) (domain.ResourceState, error)) (domain.ResourceCursor, bool, error)
		Delete          func(ctx context.Context, requestId string) error
	}

	Calls struct {
		Insert     CallLog[domain.FleetResource]
		Get        CallLog[[]string]
		Find       CallLog[store.ResourceFindQuery]
		SetDesired CallLog[struct {
			RequestId string
			Desired   domain.ResourceState
		}]
		SetExit CallLog[struct {
			RequestId string
			Exit      domain.ResourceExit
		}]
		PickAndSetState CallLog[domain.ResourceCursor]
		Delete          CallLog[string]
	}
}

func NewResourceInterface() *ResourceInterface {
	return &ResourceInterface{}
}

var _ store.ResourceInterface = &ResourceInterface{}

func (m *ResourceInterface) Insert(ctx context.Context, r domain.FleetResource) (domain.FleetResource, bool, error) {
	m.Calls.Insert = append(m.Calls.Insert, r)
	if m.Impl.Insert == nil {
		return domain.FleetResource{}, false, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Insert(ctx, r)
}

func (m *ResourceInterface) Get(ctx context.Context, requestIds []string) (map[string]domain.FleetResource, error) {
	m.Calls.Get = append(m.Calls.Get, requestIds)
	if m.Impl.Get == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Get(ctx, requestIds)
}

func (m *ResourceInterface) Find(ctx context.Context, query store.ResourceFindQuery) ([]string, error) {
	m.Calls.Find = append(m.Calls.Find, query)
	if m.Impl.Find == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Find(ctx, query)
}

func (m *ResourceInterface) SetDesired(ctx context.Context, requestId string, desired domain.ResourceState) error {
	m.Calls.SetDesired = append(m.Calls.SetDesired, struct {
		RequestId string
		Desired   domain.ResourceState
	}{RequestId: requestId, Desired: desired})
	if m.Impl.SetDesired == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.SetDesired(ctx, requestId, desired)
}

func (m *ResourceInterface) SetExit(ctx context.Context, requestId string, exit domain.ResourceExit) error {
	m.Calls.SetExit = append(m.Calls.SetExit, struct {
		RequestId string
		Exit      domain.ResourceExit
	}{RequestId: requestId, Exit: exit})
	if m.Impl.SetExit == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.SetExit(ctx, requestId, exit)
}

func (m *ResourceInterface) PickAndSetState(
	ctx context.Context,
	cursor domain.ResourceCursor,
	task func(domain.FleetResource) (domain.ResourceState, error),
) (domain.ResourceCursor, bool, error) {
	m.Calls.PickAndSetState = append(m.Calls.PickAndSetState, cursor)
	if m.Impl.PickAndSetState == nil {
		return cursor, false, errors.New("[MOCK] not implemented")
	}
	return m.Impl.PickAndSetState(ctx, cursor, task)
}

func (m *ResourceInterface) Delete(ctx context.Context, requestId string) error {
	m.Calls.Delete = append(m.Calls.Delete, requestId)
	if m.Impl.Delete == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.Delete(ctx, requestId)
}

type Store struct {
	ResourceInterface *ResourceInterface
}

func NewStore() *Store {
	return &Store{ResourceInterface: NewResourceInterface()}
}

var _ store.Store = &Store{}

func (m *Store) Resources() store.ResourceInterface {
	return m.ResourceInterface
}

func (m *Store) Close() error {
	return nil
}
