// Package schema holds the resource store's table definitions.
package schema

import (
	"context"

	kpool "github.com/fleetward/fleetward/pkg/store/postgres/pool"
	xe "github.com/fleetward/fleetward/pkg/xerrors"
)

var statements = []string{
	`
	create table if not exists "resource" (
		"request_id" varchar(255) primary key,
		"image" varchar(1024) not null,
		"command" jsonb not null default '[]'::jsonb,
		"cpu" varchar(64) not null default '',
		"memory" varchar(64) not null default '',
		"subnet" varchar(255) not null default '',
		"task_ref" varchar(255) not null,
		"desired" varchar(32) not null,
		"state" varchar(32) not null,
		"updated_at" timestamp with time zone not null default now(),
		"last_reconciled_at" timestamp with time zone not null default to_timestamp(0),
		"suspend_until" timestamp with time zone not null default to_timestamp(0)
	)
	`,
	`
	create index if not exists "resource_state" on "resource" ("state")
	`,
	`
	create table if not exists "resource_exit" (
		"request_id" varchar(255) primary key references "resource" ("request_id") on delete cascade,
		"exit_code" smallint not null,
		"message" varchar(1024) not null default ''
	)
	`,
}

// Ensure creates the store's tables when they do not exist yet.
func Ensure(ctx context.Context, pool kpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return xe.Wrap(err)
		}
	}
	return nil
}
