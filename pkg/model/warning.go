// Package model defines the values that flow through the rlsguard pipeline:
// raw linter findings, their classified forms, policy definitions, the
// optimization candidates derived from them, and the generated migrations.
//
// Every value is created once per run and never mutated afterwards.
package model

import "strings"

// DefaultSchema is used whenever a finding does not name a schema.
const DefaultSchema = "public"

// RawWarning is one finding from the database linter feed.
type RawWarning struct {
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Level       string         `json:"level,omitempty"`
	Facing      string         `json:"facing,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Description string         `json:"description,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CacheKey    string         `json:"cache_key,omitempty"`
}

// RLSAuthWarning reports a policy that evaluates auth functions once per row.
type RLSAuthWarning struct {
	TableName     string
	SchemaName    string
	PolicyName    string
	AuthFunctions []string
}

// MultiplePermissiveWarning reports several permissive policies that apply
// to the same role and action on one table.
type MultiplePermissiveWarning struct {
	TableName   string
	SchemaName  string
	Role        string
	Action      string
	PolicyNames []string
}

// DuplicateIndexWarning reports indexes with identical definitions.
type DuplicateIndexWarning struct {
	TableName  string
	SchemaName string
	IndexNames []string
	Columns    []string
}

// UnindexedFKWarning reports a foreign key with no covering index.
// FKColumns holds 1-based column positions in declared order.
type UnindexedFKWarning struct {
	TableName  string
	SchemaName string
	FKName     string
	FKColumns  []int
}

// UnusedIndexWarning reports an index that has never been scanned.
type UnusedIndexWarning struct {
	TableName  string
	SchemaName string
	IndexName  string
}

// Policy actions.
const (
	ActionSelect = "SELECT"
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionAll    = "ALL"
)

// NormalizeAction maps a policy action onto SELECT, INSERT, UPDATE or
// DELETE. Anything else, ALL included, becomes SELECT.
func NormalizeAction(action string) string {
	switch a := strings.ToUpper(strings.TrimSpace(action)); a {
	case ActionSelect, ActionInsert, ActionUpdate, ActionDelete:
		return a
	default:
		return ActionSelect
	}
}
