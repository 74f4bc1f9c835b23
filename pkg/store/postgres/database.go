// Package postgres provides the resource store backed by PostgreSQL.
//
// Use it when more than one agent replica shares a deployment; row
// locks keep each resource under a single writer across replicas.
package postgres

import (
	"context"

	kstore "github.com/fleetward/fleetward/pkg/store"
	kpool "github.com/fleetward/fleetward/pkg/store/postgres/pool"
	kpgres "github.com/fleetward/fleetward/pkg/store/postgres/resource"
	kpgschema "github.com/fleetward/fleetward/pkg/store/postgres/schema"
	xe "github.com/fleetward/fleetward/pkg/xerrors"
	"github.com/jackc/pgx/v4/pgxpool"
)

type pgStore struct {
	pool      *pgxpool.Pool
	resources kstore.ResourceInterface
}

func New(ctx context.Context, url string) (kstore.Store, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	p := kpool.Wrap(pool)
	if err := kpgschema.Ensure(ctx, p); err != nil {
		pool.Close()
		return nil, err
	}

	return &pgStore{
		pool:      pool,
		resources: kpgres.New(p),
	}, nil
}

func (s *pgStore) Resources() kstore.ResourceInterface {
	return s.resources
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}
