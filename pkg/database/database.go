// Package database provides the catalog lookups rlsguard needs from a
// Postgres database.
//
// Connection is the collaborator consumed by the analyzers and the
// validator. Postgres implements it on top of database/sql; Offline is the
// null implementation used when no database is configured:
//
//	db, err := sql.Open("postgres", dsn)
//	if err != nil {
//		log.Fatal(err)
//	}
//	conn := database.NewPostgres(db)
//
// Lookups that find nothing return a zero value and a nil error. Lookups
// that cannot be answered without a live database return ErrNotConnected.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/pthm/rlsguard/pkg/model"
)

var (
	// ErrNotConnected is returned by lookups that require a live database.
	ErrNotConnected = errors.New("rlsguard: no database connection")

	// ErrUndefinedTable is returned when a policy is evaluated against a
	// table that does not exist.
	ErrUndefinedTable = errors.New("rlsguard: table not found")

	// ErrUndefinedFunction is returned when a policy calls a function the
	// database does not define, typically auth.uid() outside Supabase.
	ErrUndefinedFunction = errors.New("rlsguard: function not found")
)

// IsNotConnectedErr returns true if err is or wraps ErrNotConnected.
func IsNotConnectedErr(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// Row is one result row keyed by column name.
type Row map[string]any

// Connection answers catalog questions about the analyzed database.
type Connection interface {
	// ExecuteQuery runs an arbitrary read query.
	ExecuteQuery(ctx context.Context, query string, args ...any) ([]Row, error)

	// GetPolicyDefinition returns the named policy, or nil if absent.
	GetPolicyDefinition(ctx context.Context, schema, table, name string) (*model.PolicyDefinition, error)

	// GetIndexDefinition returns the CREATE INDEX statement, or "" if absent.
	GetIndexDefinition(ctx context.Context, schema, table, index string) (string, error)

	// GetIndexUsageStats returns scan counters, or nil if none are recorded.
	GetIndexUsageStats(ctx context.Context, schema, table, index string) (*model.IndexUsage, error)

	// GetForeignKeyColumns returns the columns of the named foreign-key
	// constraint on schema.table.
	GetForeignKeyColumns(ctx context.Context, schema, table, fkName string) ([]model.FKColumn, error)

	// IsConstraintBacked reports whether a primary key, unique or foreign
	// key constraint uses the index.
	IsConstraintBacked(ctx context.Context, schema, index string) (bool, error)

	// GetIndexCreationTime returns when the index was built, or nil if
	// unknown.
	GetIndexCreationTime(ctx context.Context, schema, index string) (*time.Time, error)

	// ListPolicies returns one entry per (policy, role) in schema.
	ListPolicies(ctx context.Context, schema string) ([]model.PolicyRef, error)
}

// Offline is a Connection with no database behind it. It reports nothing
// found, no usage data and no constraints, and returns ErrNotConnected where
// no neutral answer exists.
type Offline struct{}

var _ Connection = Offline{}

// ExecuteQuery always returns ErrNotConnected.
func (Offline) ExecuteQuery(context.Context, string, ...any) ([]Row, error) {
	return nil, ErrNotConnected
}

// GetPolicyDefinition reports the policy as absent.
func (Offline) GetPolicyDefinition(context.Context, string, string, string) (*model.PolicyDefinition, error) {
	return nil, nil
}

// GetIndexDefinition reports the index as absent.
func (Offline) GetIndexDefinition(context.Context, string, string, string) (string, error) {
	return "", nil
}

// GetIndexUsageStats reports no recorded usage.
func (Offline) GetIndexUsageStats(context.Context, string, string, string) (*model.IndexUsage, error) {
	return nil, nil
}

// GetForeignKeyColumns always returns ErrNotConnected.
func (Offline) GetForeignKeyColumns(context.Context, string, string, string) ([]model.FKColumn, error) {
	return nil, ErrNotConnected
}

// IsConstraintBacked reports no backing constraint.
func (Offline) IsConstraintBacked(context.Context, string, string) (bool, error) {
	return false, nil
}

// GetIndexCreationTime reports the creation time as unknown.
func (Offline) GetIndexCreationTime(context.Context, string, string) (*time.Time, error) {
	return nil, nil
}

// ListPolicies always returns ErrNotConnected.
func (Offline) ListPolicies(context.Context, string) ([]model.PolicyRef, error) {
	return nil, ErrNotConnected
}

// ExecuteWithPolicy always returns ErrNotConnected.
func (Offline) ExecuteWithPolicy(context.Context, string, string, string, model.UserContext) ([]Row, error) {
	return nil, ErrNotConnected
}

// OrOffline returns conn, or Offline when conn is nil.
func OrOffline(conn Connection) Connection {
	if conn == nil {
		return Offline{}
	}
	return conn
}
