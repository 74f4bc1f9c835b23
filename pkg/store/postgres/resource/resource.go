package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	kstore "github.com/fleetward/fleetward/pkg/store"
	kpgerr "github.com/fleetward/fleetward/pkg/store/postgres/errors"
	kpool "github.com/fleetward/fleetward/pkg/store/postgres/pool"
	"github.com/fleetward/fleetward/pkg/utils"
	xe "github.com/fleetward/fleetward/pkg/xerrors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

type resourcePG struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) *resourcePG {
	return &resourcePG{pool: pool}
}

var _ kstore.ResourceInterface = &resourcePG{}

func (m *resourcePG) Insert(ctx context.Context, r domain.FleetResource) (domain.FleetResource, bool, error) {
	command, err := json.Marshal(r.Spec.Command)
	if err != nil {
		return domain.FleetResource{}, false, err
	}

	created := true
	if _, err := m.pool.Exec(
		ctx,
		`
		insert into "resource" (
			"request_id", "image", "command", "cpu", "memory", "subnet",
			"task_ref", "desired", "state"
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
		r.RequestId, r.Spec.Image, command,
		r.Spec.Shape.CPU, r.Spec.Shape.Memory, r.Spec.Placement.Subnet,
		r.TaskRef, string(r.Desired), string(r.State),
	); err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
			return domain.FleetResource{}, false, xe.Wrap(err)
		}
		// another writer got there first. tell them apart by returning its record.
		created = false
	}

	found, err := m.get(ctx, m.pool, []string{r.RequestId})
	if err != nil {
		return domain.FleetResource{}, false, err
	}
	got, ok := found[r.RequestId]
	if !ok {
		return domain.FleetResource{}, false, kpgerr.Missing{
			Table:    "resource",
			Identity: fmt.Sprintf("request_id = %s", r.RequestId),
		}
	}
	return got, created, nil
}

func (m *resourcePG) Get(ctx context.Context, requestIds []string) (map[string]domain.FleetResource, error) {
	return m.get(ctx, m.pool, requestIds)
}

func (m *resourcePG) get(ctx context.Context, conn kpool.Queryer, requestIds []string) (map[string]domain.FleetResource, error) {
	rows, err := conn.Query(
		ctx,
		`
		select
			"resource"."request_id", "image", "command", "cpu", "memory", "subnet",
			"task_ref", "desired", "state", "updated_at", "last_reconciled_at",
			"exit_code", "message"
		from "resource"
		left outer join "resource_exit"
			on "resource"."request_id" = "resource_exit"."request_id"
		where "resource"."request_id" = any($1::varchar[])
		`,
		requestIds,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	found := map[string]domain.FleetResource{}
	for rows.Next() {
		var (
			r           domain.FleetResource
			command     []byte
			desired     string
			state       string
			exitCode    *int16
			exitMessage *string
		)
		if err := rows.Scan(
			&r.RequestId, &r.Spec.Image, &command,
			&r.Spec.Shape.CPU, &r.Spec.Shape.Memory, &r.Spec.Placement.Subnet,
			&r.TaskRef, &desired, &state, &r.UpdatedAt, &r.LastReconciledAt,
			&exitCode, &exitMessage,
		); err != nil {
			return nil, xe.Wrap(err)
		}
		r.Spec.RequestId = r.RequestId
		if err := json.Unmarshal(command, &r.Spec.Command); err != nil {
			return nil, xe.Wrap(err)
		}
		if r.Desired, err = domain.AsResourceState(desired); err != nil {
			return nil, xe.Wrap(err)
		}
		if r.State, err = domain.AsResourceState(state); err != nil {
			return nil, xe.Wrap(err)
		}
		if exitCode != nil {
			exit := domain.ResourceExit{Code: uint8(*exitCode)}
			if exitMessage != nil {
				exit.Message = *exitMessage
			}
			r.Exit = &exit
		}
		found[r.RequestId] = r
	}
	return found, nil
}

func (m *resourcePG) Find(ctx context.Context, query kstore.ResourceFindQuery) ([]string, error) {
	var updatedBefore *time.Time
	if query.UpdatedBefore != nil {
		t := *query.UpdatedBefore
		updatedBefore = &t
	}

	rows, err := m.pool.Query(
		ctx,
		`
		select "request_id" from "resource"
		where
			($1 or "state" = any($2::varchar[]))
			and ($3::timestamp with time zone is null or "updated_at" < $3)
		order by "request_id"
		`,
		len(query.States) == 0,
		utils.Map(query.States, domain.ResourceState.String),
		updatedBefore,
	)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	defer rows.Close()

	requestIds := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xe.Wrap(err)
		}
		requestIds = append(requestIds, id)
	}
	return requestIds, nil
}

func (m *resourcePG) SetDesired(ctx context.Context, requestId string, desired domain.ResourceState) error {
	cmd, err := m.pool.Exec(
		ctx,
		`
		update "resource" set
			"desired" = $1,
			"updated_at" = now()
		where "request_id" = $2
		`,
		string(desired), requestId,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if cmd.RowsAffected() == 0 {
		return kpgerr.Missing{
			Table:    "resource",
			Identity: fmt.Sprintf("request_id = %s", requestId),
		}
	}
	return nil
}

func (m *resourcePG) SetExit(ctx context.Context, requestId string, exit domain.ResourceExit) error {
	if _, err := m.pool.Exec(
		ctx,
		`
		insert into "resource_exit" ("request_id", "exit_code", "message")
		values ($1, $2, $3)
		on conflict ("request_id") do update
		set
			"exit_code" = $2,
			"message" = $3
		`,
		requestId, int16(exit.Code), exit.Message,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return kpgerr.Missing{
				Table:    "resource",
				Identity: fmt.Sprintf("request_id = %s", requestId),
			}
		}
		return xe.Wrap(err)
	}
	return nil
}

// select the resource after the cursor, and change its state.
func (m *resourcePG) PickAndSetState(
	ctx context.Context,
	cursor domain.ResourceCursor,
	task func(domain.FleetResource) (domain.ResourceState, error),
) (domain.ResourceCursor, bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return cursor, false, err
	}
	defer tx.Rollback(ctx)

	var picked domain.FleetResource
	{
		var requestId string
		if err := tx.QueryRow(
			ctx,
			`
			select "request_id" from "resource"
			where
				"state" = any($1::varchar[])
				and "suspend_until" < now()
			order by "request_id" <= $2, "request_id"
			limit 1
			for update skip locked
			`,
			utils.Map(cursor.States, domain.ResourceState.String),
			cursor.Head,
		).Scan(&requestId); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return cursor, false, nil
			}
			return cursor, false, err
		}

		found, err := m.get(ctx, tx, []string{requestId})
		if err != nil {
			return cursor, false, err
		}
		picked = found[requestId]

		// cursor is moved!
		cursor = domain.ResourceCursor{
			Head:     requestId,
			Debounce: cursor.Debounce,
			States:   cursor.States,
		}
	}

	newState, err := task(picked)
	if err != nil {
		return cursor, true, err
	}
	if !picked.State.CanTransitTo(newState) {
		return cursor, true, domain.NewErrInvalidStateChanging(picked.State, newState)
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "resource" set
			"state" = $2,
			"updated_at" = case when "state" <> $2 then now() else "updated_at" end,
			"last_reconciled_at" = now(),
			"suspend_until" = now() + $3
		where "request_id" = $1
		`,
		picked.RequestId, string(newState), cursor.Debounce,
	); err != nil {
		return cursor, true, xe.Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return cursor, true, err
	}
	return cursor, true, nil
}

func (m *resourcePG) Delete(ctx context.Context, requestId string) error {
	cmd, err := m.pool.Exec(
		ctx,
		`delete from "resource" where "request_id" = $1`,
		requestId,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if cmd.RowsAffected() == 0 {
		return kpgerr.Missing{
			Table:    "resource",
			Identity: fmt.Sprintf("request_id = %s", requestId),
		}
	}
	return nil
}
