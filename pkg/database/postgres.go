package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pthm/rlsguard/internal/sqlgen"
	"github.com/pthm/rlsguard/pkg/model"
)

// Execer is the minimal interface needed for catalog queries.
// Implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txBeginner is implemented by *sql.DB and *sql.Conn.
type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Postgres answers catalog lookups from a live database.
type Postgres struct {
	db Execer
}

var _ Connection = (*Postgres)(nil)

// NewPostgres returns a Connection backed by db.
func NewPostgres(db Execer) *Postgres {
	return &Postgres{db: db}
}

// ExecuteQuery runs query and returns every row.
func (p *Postgres) ExecuteQuery(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return scanRows(rows)
}

// GetPolicyDefinition reads a policy from pg_policies.
func (p *Postgres) GetPolicyDefinition(ctx context.Context, schema, table, name string) (*model.PolicyDefinition, error) {
	def := model.PolicyDefinition{Schema: schema, Table: table}
	var permissive, roles string
	err := p.db.QueryRowContext(ctx, `
		SELECT policyname, permissive, array_to_string(roles, ','), cmd,
		       COALESCE(qual, ''), COALESCE(with_check, '')
		FROM pg_policies
		WHERE schemaname = $1 AND tablename = $2 AND policyname = $3
	`, schema, table, name).Scan(&def.Name, &permissive, &roles, &def.Command, &def.Using, &def.WithCheck)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying policy %s on %s.%s: %w", name, schema, table, err)
	}
	def.Permissive = permissive == "PERMISSIVE"
	if roles != "" {
		def.Roles = strings.Split(roles, ",")
	}
	return &def, nil
}

// GetIndexDefinition reads an index's CREATE statement from pg_indexes.
func (p *Postgres) GetIndexDefinition(ctx context.Context, schema, table, index string) (string, error) {
	var def string
	err := p.db.QueryRowContext(ctx, `
		SELECT indexdef
		FROM pg_indexes
		WHERE schemaname = $1 AND tablename = $2 AND indexname = $3
	`, schema, table, index).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying index definition %s.%s: %w", schema, index, err)
	}
	return def, nil
}

// GetIndexUsageStats reads scan counters from pg_stat_user_indexes.
func (p *Postgres) GetIndexUsageStats(ctx context.Context, schema, table, index string) (*model.IndexUsage, error) {
	var usage model.IndexUsage
	err := p.db.QueryRowContext(ctx, `
		SELECT idx_scan
		FROM pg_stat_user_indexes
		WHERE schemaname = $1 AND relname = $2 AND indexrelname = $3
	`, schema, table, index).Scan(&usage.IdxScan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying index usage %s.%s: %w", schema, index, err)
	}
	return &usage, nil
}

// GetForeignKeyColumns returns a foreign key's columns in declared order.
// Constraint names are unique per table only, so the lookup is scoped to
// schema.table.
func (p *Postgres) GetForeignKeyColumns(ctx context.Context, schema, table, fkName string) ([]model.FKColumn, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.attname, k.attnum
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		CROSS JOIN LATERAL unnest(c.conkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND t.relname = $2 AND c.conname = $3 AND c.contype = 'f'
		ORDER BY k.ord
	`, schema, table, fkName)
	if err != nil {
		return nil, fmt.Errorf("querying foreign key %s.%s.%s: %w", schema, table, fkName, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []model.FKColumn
	for rows.Next() {
		var c model.FKColumn
		if err := rows.Scan(&c.ColumnName, &c.ColumnPosition); err != nil {
			return nil, fmt.Errorf("scanning foreign key column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// IsConstraintBacked reports whether a primary key, unique or foreign key
// constraint depends on the index.
func (p *Postgres) IsConstraintBacked(ctx context.Context, schema, index string) (bool, error) {
	var backed bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_constraint c
			JOIN pg_class i ON i.oid = c.conindid
			JOIN pg_namespace n ON n.oid = i.relnamespace
			WHERE n.nspname = $1
			AND i.relname = $2
			AND c.contype IN ('f', 'u', 'p')
		)
	`, schema, index).Scan(&backed)
	if err != nil {
		return false, fmt.Errorf("checking constraints on %s.%s: %w", schema, index, err)
	}
	return backed, nil
}

// GetIndexCreationTime reads the creation time of the index's data file.
// pg_stat_file needs superuser or pg_read_server_files; the filesystem may
// not record creation times at all, in which case nil is returned.
func (p *Postgres) GetIndexCreationTime(ctx context.Context, schema, index string) (*time.Time, error) {
	var created sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT (pg_stat_file(pg_relation_filepath(c.oid))).creation
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind = 'i'
	`, schema, index).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading creation time of %s.%s: %w", schema, index, err)
	}
	if !created.Valid {
		return nil, nil
	}
	return &created.Time, nil
}

// ListPolicies returns one PolicyRef per (policy, role) in schema.
func (p *Postgres) ListPolicies(ctx context.Context, schema string) ([]model.PolicyRef, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.schemaname, p.tablename, p.policyname, p.permissive = 'PERMISSIVE', p.cmd, r.role
		FROM pg_policies p
		CROSS JOIN LATERAL unnest(p.roles::text[]) AS r(role)
		WHERE p.schemaname = $1
		ORDER BY p.tablename, p.policyname, r.role
	`, schema)
	if err != nil {
		return nil, fmt.Errorf("listing policies in %s: %w", schema, err)
	}
	defer func() { _ = rows.Close() }()

	var refs []model.PolicyRef
	for rows.Next() {
		var ref model.PolicyRef
		if err := rows.Scan(&ref.Schema, &ref.Table, &ref.Name, &ref.Permissive, &ref.Action, &ref.Role); err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ExecuteWithPolicy returns the rows of schema.table for which predicate
// holds when evaluated as uc. The JWT claims are set transaction-locally and
// the transaction is always rolled back, so nothing persists.
func (p *Postgres) ExecuteWithPolicy(ctx context.Context, schema, table, predicate string, uc model.UserContext) ([]Row, error) {
	claims := map[string]any{"sub": uc.UserID, "role": uc.Role}
	for k, v := range uc.Claims {
		claims[k] = v
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("encoding claims: %w", err)
	}

	var q Execer = p.db
	if b, ok := p.db.(txBeginner); ok {
		tx, err := b.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("beginning transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		q = tx
	}

	if _, err := q.ExecContext(ctx, `
		SELECT set_config('request.jwt.claims', $1, true),
		       set_config('request.jwt.claim.sub', $2, true),
		       set_config('request.jwt.claim.role', $3, true)
	`, string(claimsJSON), uc.UserID, uc.Role); err != nil {
		return nil, fmt.Errorf("setting claims: %w", err)
	}

	rows, err := q.QueryContext(ctx, sqlgen.SelectWhere(schema, table, predicate))
	if err != nil {
		return nil, fmt.Errorf("evaluating policy on %s.%s: %w", schema, table, mapPgError(err))
	}
	return scanRows(rows)
}

// PostgreSQL error codes mapped to sentinel errors.
const (
	pgUndefinedTable    = "42P01" // undefined_table
	pgUndefinedFunction = "42883" // undefined_function
)

// mapPgError wraps driver errors for missing relations and functions in
// sentinels. Both lib/pq and pgx errors expose SQLState.
func mapPgError(err error) error {
	var state interface{ SQLState() string }
	if !errors.As(err, &state) {
		return err
	}
	switch state.SQLState() {
	case pgUndefinedTable:
		return fmt.Errorf("%w: %w", ErrUndefinedTable, err)
	case pgUndefinedFunction:
		return fmt.Errorf("%w: %w", ErrUndefinedFunction, err)
	}
	return err
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
