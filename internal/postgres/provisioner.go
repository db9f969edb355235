package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tabledep/internal/engine"
	"tabledep/internal/model"
)

// Connect opens a connection pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Identity returns the server (host:port) and database the pool points at.
func Identity(pool *pgxpool.Pool) (server, database string) {
	cc := pool.Config().ConnConfig
	return cc.Host + ":" + strconv.Itoa(int(cc.Port)), cc.Database
}

// Provisioner reads table metadata and manages the trigger, function and
// queue table of each dependency.
type Provisioner struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewProvisioner(pool *pgxpool.Pool, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{pool: pool, logger: logger}
}

// Columns returns the live columns of schema.table in ordinal order.
func (p *Provisioner) Columns(ctx context.Context, schema, table string) (model.Catalog, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT a.attname,
		        a.attnum,
		        format_type(a.atttypid, a.atttypmod) AS data_type
		 FROM pg_class c
		 JOIN pg_namespace ns ON ns.oid = c.relnamespace
		 JOIN pg_attribute a ON a.attrelid = c.oid
		 WHERE ns.nspname = $1
		   AND c.relname = $2
		   AND a.attnum > 0
		   AND NOT a.attisdropped
		 ORDER BY a.attnum`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	defer rows.Close()

	var catalog model.Catalog
	for rows.Next() {
		var col model.TableColumnInfo
		var ordinal int16
		if err := rows.Scan(&col.Name, &ordinal, &col.SQLType); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		col.Ordinal = int(ordinal)
		catalog = append(catalog, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return catalog, nil
}

// TableExists reports whether schema.table is an ordinary or partitioned table.
func (p *Provisioner) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM pg_class c
		   JOIN pg_namespace ns ON ns.oid = c.relnamespace
		   WHERE ns.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p'))`,
		schema, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table: %w", err)
	}
	return exists, nil
}

// CreateChangeObjects installs queue, function and trigger in one transaction.
func (p *Provisioner) CreateChangeObjects(ctx context.Context, spec engine.ObjectSpec) ([]string, error) {
	fn, err := createFunctionSQL(spec)
	if err != nil {
		return nil, err
	}
	trigger, err := createTriggerSQL(spec)
	if err != nil {
		return nil, err
	}

	names := namesFor(spec.NamingConvention)
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, stmt := range []string{createQueueSQL(spec.Schema, spec.NamingConvention), fn, trigger} {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create change objects: %w", err)
	}
	created := []string{names.queue, names.function, names.trigger}
	p.logger.Debug("change objects created", zap.String("schema", spec.Schema), zap.Strings("objects", created))
	return created, nil
}

// DropChangeObjects removes every object of namingConvention. Missing objects
// are not an error.
func (p *Provisioner) DropChangeObjects(ctx context.Context, schema, namingConvention string) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, stmt := range dropSQL(schema, namingConvention) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !isUndefinedObject(err) {
		return fmt.Errorf("drop change objects: %w", err)
	}
	return nil
}

var _ engine.SchemaProvisioner = (*Provisioner)(nil)
