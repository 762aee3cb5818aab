// Package validator checks that a rewritten or consolidated policy grants
// access to exactly the same rows as the policies it replaces.
//
// Each candidate is evaluated under several user identities. For every
// identity the original and the new predicate are run against the table
// and their results compared:
//
//	v := validator.New(database.NewPostgres(db))
//	ok, reason := v.ValidateRLSOptimization(ctx, opt, nil)
//	if !ok {
//	    log.Printf("rejecting %s: %s", opt.Warning.PolicyName, reason)
//	}
//
// A nil or empty context list uses DefaultUserContexts. Execution errors
// never escape; they are reported as a failed validation.
package validator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/pthm/rlsguard/internal/sqlgen"
	"github.com/pthm/rlsguard/pkg/database"
	"github.com/pthm/rlsguard/pkg/model"
)

// Executor evaluates a policy predicate against a table as a given user.
type Executor interface {
	ExecuteWithPolicy(ctx context.Context, schema, table, predicate string, uc model.UserContext) ([]database.Row, error)
}

// Validator compares policy behaviour across user contexts.
type Validator struct {
	exec Executor
	log  hclog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used to report validation outcomes.
func WithLogger(log hclog.Logger) Option {
	return func(v *Validator) {
		if log != nil {
			v.log = log
		}
	}
}

// New returns a Validator. A nil executor fails every validation because
// nothing can be evaluated.
func New(exec Executor, opts ...Option) *Validator {
	if exec == nil {
		exec = database.Offline{}
	}
	v := &Validator{exec: exec, log: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// DefaultUserContexts returns two authenticated users and one service role,
// each with a fresh random id.
func DefaultUserContexts() []model.UserContext {
	return []model.UserContext{
		{UserID: uuid.NewString(), Role: "authenticated"},
		{UserID: uuid.NewString(), Role: "authenticated"},
		{UserID: uuid.NewString(), Role: "service_role"},
	}
}

// GenerateTestQuery returns the query the predicates are evaluated against.
func GenerateTestQuery(schema, table string) string {
	return sqlgen.SelectAll(schema, table)
}

func contextsOrDefault(contexts []model.UserContext) []model.UserContext {
	if len(contexts) == 0 {
		return DefaultUserContexts()
	}
	return contexts
}

func errorReason(err error) string {
	return "Validation error: " + err.Error()
}

// ValidateRLSOptimization checks that the optimized predicate returns the
// same multiset of rows as the original for every context. When the policy
// has a WITH CHECK clause its rewrite is checked the same way.
func (v *Validator) ValidateRLSOptimization(ctx context.Context, opt model.RLSOptimization, contexts []model.UserContext) (bool, string) {
	contexts = contextsOrDefault(contexts)
	schema, table := opt.Warning.SchemaName, opt.Warning.TableName
	log := v.log.With("schema", schema, "table", table, "policy", opt.Warning.PolicyName)

	type pair struct{ original, optimized string }
	pairs := []pair{{opt.OriginalSQL, opt.OptimizedSQL}}
	if opt.Policy != nil && opt.Policy.WithCheck != "" && opt.OptimizedWithCheck != "" {
		pairs = append(pairs, pair{opt.Policy.WithCheck, opt.OptimizedWithCheck})
	}

	for _, uc := range contexts {
		for _, p := range pairs {
			original, err := v.exec.ExecuteWithPolicy(ctx, schema, table, p.original, uc)
			if err != nil {
				log.Warn("validation query failed", "error", err)
				return false, errorReason(err)
			}
			optimized, err := v.exec.ExecuteWithPolicy(ctx, schema, table, p.optimized, uc)
			if err != nil {
				log.Warn("validation query failed", "error", err)
				return false, errorReason(err)
			}
			if !sameRows(original, optimized) {
				reason := fmt.Sprintf(
					"Validation failed for user %s (%s): original policy returned %d rows, optimized policy returned %d rows",
					uc.UserID, uc.Role, len(original), len(optimized))
				log.Info("optimization changes policy results", "user", uc.UserID, "role", uc.Role)
				return false, reason
			}
		}
	}
	return true, fmt.Sprintf("Validation passed: optimized policy returned identical rows for %d user contexts", len(contexts))
}

// ValidatePolicyConsolidation checks that, for every context, the rows the
// consolidated policy grants equal the union of the rows the original
// policies grant. Rows are identified by their id column when present.
func (v *Validator) ValidatePolicyConsolidation(ctx context.Context, c model.PolicyConsolidation, contexts []model.UserContext) (bool, string) {
	contexts = contextsOrDefault(contexts)
	schema, table := c.Warning.SchemaName, c.Warning.TableName
	log := v.log.With("schema", schema, "table", table, "policy", c.ConsolidatedPolicy.Name)

	for _, uc := range contexts {
		union := make(map[string]bool)
		for _, p := range c.OriginalPolicies {
			predicate := accessPredicate(p)
			if predicate == "" {
				continue
			}
			rows, err := v.exec.ExecuteWithPolicy(ctx, schema, table, predicate, uc)
			if err != nil {
				log.Warn("validation query failed", "policy", p.Name, "error", err)
				return false, errorReason(err)
			}
			for _, r := range rows {
				union[rowID(r)] = true
			}
		}

		merged := make(map[string]bool)
		if predicate := accessPredicate(c.ConsolidatedPolicy); predicate != "" {
			rows, err := v.exec.ExecuteWithPolicy(ctx, schema, table, predicate, uc)
			if err != nil {
				log.Warn("validation query failed", "error", err)
				return false, errorReason(err)
			}
			for _, r := range rows {
				merged[rowID(r)] = true
			}
		}

		if !sameSet(union, merged) {
			reason := fmt.Sprintf(
				"Validation failed for user %s (%s): original policies granted access to %d rows, consolidated policy granted access to %d rows",
				uc.UserID, uc.Role, len(union), len(merged))
			log.Info("consolidation changes granted rows", "user", uc.UserID, "role", uc.Role)
			return false, reason
		}
	}
	return true, fmt.Sprintf("Validation passed: consolidated policy granted identical access for %d user contexts", len(contexts))
}

// accessPredicate is the clause that decides which rows a policy admits.
// Policies without USING (INSERT) are judged by WITH CHECK.
func accessPredicate(p model.PolicyDefinition) string {
	if p.Using != "" {
		return p.Using
	}
	return p.WithCheck
}

// rowKey encodes a row canonically. encoding/json sorts map keys.
func rowKey(r database.Row) string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(r))
	}
	return string(b)
}

func rowID(r database.Row) string {
	if id, ok := r["id"]; ok {
		b, err := json.Marshal(id)
		if err == nil {
			return string(b)
		}
		return fmt.Sprint(id)
	}
	return rowKey(r)
}

func sameRows(a, b []database.Row) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, r := range a {
		counts[rowKey(r)]++
	}
	for _, r := range b {
		k := rowKey(r)
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
