// Package pool narrows *pgxpool.Pool to the operations the store uses,
// so that resource queries can run against a pool or a transaction alike.
package pool

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type Queryer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Tx interface {
	Queryer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Pool interface {
	Queryer
	Begin(ctx context.Context) (Tx, error)
}

type wrapped struct {
	base *pgxpool.Pool
}

func Wrap(p *pgxpool.Pool) Pool {
	return &wrapped{base: p}
}

func (w *wrapped) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return w.base.Exec(ctx, sql, args...)
}

func (w *wrapped) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return w.base.Query(ctx, sql, args...)
}

func (w *wrapped) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return w.base.QueryRow(ctx, sql, args...)
}

func (w *wrapped) Begin(ctx context.Context) (Tx, error) {
	tx, err := w.base.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
