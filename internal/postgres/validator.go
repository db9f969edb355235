package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PrivilegeValidator checks that the current role can reach the server and
// may create triggers on the table and objects in its schema.
type PrivilegeValidator struct {
	pool *pgxpool.Pool
}

func NewPrivilegeValidator(pool *pgxpool.Pool) *PrivilegeValidator {
	return &PrivilegeValidator{pool: pool}
}

func (v *PrivilegeValidator) Validate(ctx context.Context, schema, table string) error {
	if err := v.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	var canTrigger, canCreate bool
	err := v.pool.QueryRow(ctx,
		`SELECT has_table_privilege(format('%I.%I', $1::text, $2::text), 'TRIGGER'),
		        has_schema_privilege($1::text, 'CREATE')`,
		schema, table).Scan(&canTrigger, &canCreate)
	if err != nil {
		return fmt.Errorf("check privileges: %w", err)
	}
	if !canTrigger {
		return fmt.Errorf("missing TRIGGER privilege on %s.%s", schema, table)
	}
	if !canCreate {
		return fmt.Errorf("missing CREATE privilege on schema %s", schema)
	}
	return nil
}
