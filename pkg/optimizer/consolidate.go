package optimizer

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/pthm/rlsguard/internal/workpool"
	"github.com/pthm/rlsguard/pkg/model"
)

// PolicySource looks up policy definitions. It returns (nil, nil) when the
// policy does not exist.
type PolicySource interface {
	GetPolicyDefinition(ctx context.Context, schema, table, name string) (*model.PolicyDefinition, error)
}

// PolicyConsolidator merges redundant permissive policies.
type PolicyConsolidator struct {
	source      PolicySource
	log         hclog.Logger
	concurrency int
}

// Option configures a PolicyConsolidator.
type Option func(*PolicyConsolidator)

// WithLogger sets the logger used to report skipped findings.
func WithLogger(log hclog.Logger) Option {
	return func(c *PolicyConsolidator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithConcurrency bounds how many findings are resolved in parallel.
func WithConcurrency(n int) Option {
	return func(c *PolicyConsolidator) { c.concurrency = n }
}

// NewPolicyConsolidator returns a consolidator reading policies from source.
func NewPolicyConsolidator(source PolicySource, opts ...Option) *PolicyConsolidator {
	c := &PolicyConsolidator{
		source:      source,
		log:         hclog.NewNullLogger(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IdentifyConsolidationCandidates groups permissive policies by
// (schema, table, role, action) and returns one finding per group of two or
// more, in order of first appearance.
func IdentifyConsolidationCandidates(policies []model.PolicyRef) []model.MultiplePermissiveWarning {
	type groupKey struct{ schema, table, role, action string }
	groups := make(map[groupKey]*model.MultiplePermissiveWarning)
	var order []groupKey
	for _, p := range policies {
		if !p.Permissive {
			continue
		}
		k := groupKey{p.Schema, p.Table, p.Role, model.NormalizeAction(p.Action)}
		g, ok := groups[k]
		if !ok {
			g = &model.MultiplePermissiveWarning{
				TableName:  p.Table,
				SchemaName: p.Schema,
				Role:       p.Role,
				Action:     k.action,
			}
			groups[k] = g
			order = append(order, k)
		}
		g.PolicyNames = append(g.PolicyNames, p.Name)
	}

	var out []model.MultiplePermissiveWarning
	for _, k := range order {
		if g := groups[k]; len(g.PolicyNames) >= 2 {
			out = append(out, *g)
		}
	}
	return out
}

// Consolidate resolves each finding's policies and merges them. Findings
// with no resolvable policy, with a restrictive policy among them, or with a
// policy whose command differs from the finding's action are skipped. The
// error is non-nil only when ctx is cancelled.
func (c *PolicyConsolidator) Consolidate(ctx context.Context, warnings []model.MultiplePermissiveWarning) ([]model.PolicyConsolidation, error) {
	return workpool.Map(ctx, c.concurrency, warnings, c.consolidateOne)
}

func (c *PolicyConsolidator) consolidateOne(ctx context.Context, w model.MultiplePermissiveWarning) (model.PolicyConsolidation, bool) {
	log := c.log.With("schema", w.SchemaName, "table", w.TableName, "role", w.Role, "action", w.Action)

	var resolved []model.PolicyDefinition
	for _, name := range w.PolicyNames {
		def, err := c.source.GetPolicyDefinition(ctx, w.SchemaName, w.TableName, name)
		if err != nil {
			log.Warn("failed to fetch policy", "policy", name, "error", err)
			continue
		}
		if def == nil {
			log.Debug("policy not found", "policy", name)
			continue
		}
		if def.Command != "" && !def.Permissive {
			log.Warn("skipping consolidation that includes a restrictive policy", "policy", name)
			return model.PolicyConsolidation{}, false
		}
		if def.Command != "" && !strings.EqualFold(def.Command, w.Action) {
			// A FOR ALL policy also covers other actions; merging it into a
			// single-action policy would revoke those.
			log.Warn("skipping consolidation of a policy with a broader command", "policy", name, "command", def.Command)
			return model.PolicyConsolidation{}, false
		}
		resolved = append(resolved, *def)
	}
	if len(resolved) == 0 {
		log.Warn("no policies resolved, skipping consolidation")
		return model.PolicyConsolidation{}, false
	}
	if HasConflictingClauses(resolved) {
		log.Warn("policies have conflicting clauses, skipping consolidation")
		return model.PolicyConsolidation{}, false
	}

	return model.PolicyConsolidation{
		Warning:            w,
		OriginalPolicies:   resolved,
		ConsolidatedPolicy: MergePolicies(w, resolved),
		EstimatedImpact:    ConsolidationImpact(len(resolved)),
	}, true
}

// MergePolicies ORs the USING and WITH CHECK clauses of policies into one
// permissive policy for the finding's role and action.
func MergePolicies(w model.MultiplePermissiveWarning, policies []model.PolicyDefinition) model.PolicyDefinition {
	var using, check []string
	for _, p := range policies {
		if p.Using != "" {
			using = append(using, "("+p.Using+")")
		}
		if p.WithCheck != "" {
			check = append(check, "("+p.WithCheck+")")
		}
	}
	return model.PolicyDefinition{
		Schema:     w.SchemaName,
		Table:      w.TableName,
		Name:       ConsolidatedName(w),
		Permissive: true,
		Roles:      []string{w.Role},
		Command:    w.Action,
		Using:      strings.Join(using, " OR "),
		WithCheck:  strings.Join(check, " OR "),
	}
}

// ApplyRewrites carries auth-function rewrites into the consolidations that
// merge the rewritten policies. An affected consolidation is re-merged from
// the rewritten clauses and its OriginalPolicies keep the catalog text. The
// rewrites absorbed this way are left out of the returned list, since the
// consolidation drops their policies.
func ApplyRewrites(consolidations []model.PolicyConsolidation, rewrites []model.RLSOptimization) ([]model.PolicyConsolidation, []model.RLSOptimization) {
	type policyKey struct{ schema, table, name string }
	byPolicy := make(map[policyKey]model.RLSOptimization, len(rewrites))
	for _, r := range rewrites {
		byPolicy[policyKey{r.Warning.SchemaName, r.Warning.TableName, r.Warning.PolicyName}] = r
	}

	absorbed := make(map[policyKey]bool)
	out := make([]model.PolicyConsolidation, 0, len(consolidations))
	for _, c := range consolidations {
		rewritten := make([]model.PolicyDefinition, len(c.OriginalPolicies))
		changed := false
		for i, p := range c.OriginalPolicies {
			k := policyKey{c.Warning.SchemaName, c.Warning.TableName, p.Name}
			if r, ok := byPolicy[k]; ok {
				p.Using = r.OptimizedSQL
				if r.OptimizedWithCheck != "" {
					p.WithCheck = r.OptimizedWithCheck
				}
				absorbed[k] = true
				changed = true
			}
			rewritten[i] = p
		}
		if changed {
			c.RewrittenPolicies = rewritten
			c.ConsolidatedPolicy = MergePolicies(c.Warning, rewritten)
		}
		out = append(out, c)
	}

	kept := make([]model.RLSOptimization, 0, len(rewrites))
	for _, r := range rewrites {
		if !absorbed[policyKey{r.Warning.SchemaName, r.Warning.TableName, r.Warning.PolicyName}] {
			kept = append(kept, r)
		}
	}
	return out, kept
}

// ConsolidatedName is <table>_<role>_<action>_consolidated, action in lower
// case.
func ConsolidatedName(w model.MultiplePermissiveWarning) string {
	return fmt.Sprintf("%s_%s_%s_consolidated", w.TableName, w.Role, strings.ToLower(w.Action))
}

// ConsolidationImpact describes merging n policies into one.
func ConsolidationImpact(n int) string {
	pct := 0
	if n > 0 {
		pct = int(math.Round(float64(n-1) / float64(n) * 100))
	}
	return fmt.Sprintf("Reduces policy evaluation overhead by ~%d%% by consolidating %d policies into 1", pct, n)
}

// HasConflictingClauses reports whether policies cannot be merged safely.
// Permissive policies always combine with OR, so no conflicts are detected
// yet.
func HasConflictingClauses(policies []model.PolicyDefinition) bool {
	return false
}
