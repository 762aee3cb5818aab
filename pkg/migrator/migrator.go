// Package migrator turns optimization candidates into reversible migration
// scripts.
//
// Policy migrations are transactional: the up script drops the affected
// policies and recreates them in optimized form, the down script restores
// the originals. Index migrations use CONCURRENTLY and therefore are never
// wrapped in a transaction.
//
// Example usage:
//
//	g := migrator.NewGenerator(migrator.WithLogger(logger))
//	scripts := g.Generate(rlsOpts, consolidations, indexOpts)
//	paths, err := migrator.WriteScripts("migrations", scripts)
//
// Every generated up script is checked with ValidateSQLSyntax; scripts that
// fail are logged and left out.
package migrator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pthm/rlsguard/internal/sqlgen"
	"github.com/pthm/rlsguard/pkg/model"
)

// Migration ID prefixes.
const (
	PrefixRLSOptimize           = "rls_optimize"
	PrefixPolicyConsolidate     = "policy_consolidate"
	PrefixIndexRemoveDuplicate  = "index_remove_duplicate"
	PrefixIndexRemoveUnused     = "index_remove_unused"
	PrefixIndexCreateForeignKey = "index_create_fk"
)

// timestampLayout renders the UTC time at the start of a migration ID.
const timestampLayout = "20060102T150405"

// Generator builds migration scripts. Its counter makes IDs unique for the
// lifetime of the Generator.
type Generator struct {
	log hclog.Logger
	now func() time.Time

	mu      sync.Mutex
	counter int
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger used to report skipped migrations.
func WithLogger(log hclog.Logger) Option {
	return func(g *Generator) {
		if log != nil {
			g.log = log
		}
	}
}

// WithClock overrides the time source used in migration IDs.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator returns a Generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{log: hclog.NewNullLogger(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) nextID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s_%s_%d", g.now().UTC().Format(timestampLayout), prefix, g.counter)
}

// Generate returns one script per candidate: RLS rewrites first, then
// consolidations, then index operations.
func (g *Generator) Generate(
	rls []model.RLSOptimization,
	consolidations []model.PolicyConsolidation,
	indexes []model.IndexOptimization,
) []model.MigrationScript {
	var scripts []model.MigrationScript
	for _, opt := range rls {
		if opt.Policy == nil {
			g.log.Warn("no catalog record for policy, skipping migration",
				"schema", opt.Warning.SchemaName, "table", opt.Warning.TableName, "policy", opt.Warning.PolicyName)
			continue
		}
		if s, ok := g.keep(g.rlsMigration(opt)); ok {
			scripts = append(scripts, s)
		}
	}
	for _, c := range consolidations {
		if s, ok := g.keep(g.consolidationMigration(c)); ok {
			scripts = append(scripts, s)
		}
	}
	for _, opt := range indexes {
		s, err := g.indexMigration(opt)
		if err != nil {
			g.log.Warn("skipping index migration", "error", err)
			continue
		}
		if s, ok := g.keep(s); ok {
			scripts = append(scripts, s)
		}
	}
	return scripts
}

func (g *Generator) keep(s model.MigrationScript) (model.MigrationScript, bool) {
	for _, part := range []struct{ name, sql string }{{"up", s.UpSQL}, {"down", s.DownSQL}} {
		if !ValidateSQLSyntax(part.sql) {
			g.log.Warn("generated SQL failed syntax check, skipping migration",
				"id", s.ID, "script", part.name, "description", s.Description)
			return s, false
		}
	}
	return s, true
}

// policyRecord returns the catalog record for an optimization with the
// finding's schema and table filled in. opt.Policy must be set.
func policyRecord(opt model.RLSOptimization) model.PolicyDefinition {
	p := *opt.Policy
	if p.Schema == "" {
		p.Schema = opt.Warning.SchemaName
	}
	if p.Table == "" {
		p.Table = opt.Warning.TableName
	}
	return p
}

func (g *Generator) rlsMigration(opt model.RLSOptimization) model.MigrationScript {
	w := opt.Warning
	original := policyRecord(opt)
	original.Using = opt.OriginalSQL

	optimized := original
	optimized.Using = opt.OptimizedSQL
	if opt.OptimizedWithCheck != "" {
		optimized.WithCheck = opt.OptimizedWithCheck
	}

	header := sqlgen.Comment(fmt.Sprintf("RLS Policy Optimization: %s.%s.%s\nOriginal SQL:\n%s",
		w.SchemaName, w.TableName, original.Name, opt.OriginalSQL))
	up := sqlgen.Transaction(
		header,
		"-- Drop existing policy\n"+sqlgen.DropPolicy(original.Schema, original.Table, original.Name),
		"-- Create optimized policy\n"+sqlgen.CreatePolicy(optimized),
	)
	down := sqlgen.Transaction(
		sqlgen.Comment(fmt.Sprintf("Rollback RLS Policy Optimization: %s.%s.%s", w.SchemaName, w.TableName, original.Name)),
		"-- Drop optimized policy\n"+sqlgen.DropPolicy(original.Schema, original.Table, original.Name),
		"-- Restore original policy\n"+sqlgen.CreatePolicy(original),
	)

	return model.MigrationScript{
		ID:              g.nextID(PrefixRLSOptimize),
		Description:     fmt.Sprintf("Optimize auth function calls in policy %q on %s.%s", original.Name, w.SchemaName, w.TableName),
		UpSQL:           up,
		DownSQL:         down,
		ValidationSQL:   "-- Validation: Verify policy exists and is optimized\n" + sqlgen.PolicyExistsQuery(w.SchemaName, w.TableName, original.Name),
		EstimatedImpact: opt.EstimatedImpact,
	}
}

// residualRoles returns the roles of p other than role. A consolidation
// must keep the original policy in place for them.
func residualRoles(p model.PolicyDefinition, role string) []string {
	var out []string
	for _, r := range p.Roles {
		if !strings.EqualFold(r, role) {
			out = append(out, r)
		}
	}
	return out
}

// restoredPolicy fills in what the catalog did not provide for an original
// policy of a consolidation.
func restoredPolicy(p model.PolicyDefinition, w model.MultiplePermissiveWarning) model.PolicyDefinition {
	if p.Schema == "" {
		p.Schema = w.SchemaName
	}
	if p.Table == "" {
		p.Table = w.TableName
	}
	if p.Command == "" {
		p.Command = w.Action
		p.Permissive = true
		p.Roles = []string{w.Role}
	}
	return p
}

func (g *Generator) consolidationMigration(c model.PolicyConsolidation) model.MigrationScript {
	w := c.Warning
	merged := c.ConsolidatedPolicy
	if merged.Schema == "" {
		merged.Schema = w.SchemaName
	}
	if merged.Table == "" {
		merged.Table = w.TableName
	}

	var drops, residuals, restores []string
	for i, p := range c.OriginalPolicies {
		p = restoredPolicy(p, w)
		drops = append(drops, sqlgen.DropPolicy(p.Schema, p.Table, p.Name))
		restores = append(restores, sqlgen.CreatePolicy(p))
		if rest := residualRoles(p, w.Role); len(rest) > 0 {
			kept := p
			if i < len(c.RewrittenPolicies) {
				kept.Using = c.RewrittenPolicies[i].Using
				kept.WithCheck = c.RewrittenPolicies[i].WithCheck
			}
			kept.Roles = rest
			residuals = append(residuals, sqlgen.CreatePolicy(kept))
		}
	}

	header := sqlgen.Comment(fmt.Sprintf("Policy Consolidation: %s.%s (%s, %s)\nConsolidating %d policies into 1",
		w.SchemaName, w.TableName, w.Role, w.Action, len(c.OriginalPolicies)))
	upStatements := []string{
		header,
		"-- Drop individual policies\n" + strings.Join(drops, "\n"),
		"-- Create consolidated policy\n" + sqlgen.CreatePolicy(merged),
	}
	if len(residuals) > 0 {
		upStatements = append(upStatements, "-- Keep original policies for other roles\n"+strings.Join(residuals, "\n"))
	}
	up := sqlgen.Transaction(upStatements...)

	downDrops := []string{sqlgen.DropPolicy(merged.Schema, merged.Table, merged.Name)}
	if len(residuals) > 0 {
		downDrops = append(downDrops, drops...)
	}
	down := sqlgen.Transaction(
		sqlgen.Comment(fmt.Sprintf("Rollback Policy Consolidation: %s.%s", w.SchemaName, w.TableName)),
		"-- Drop consolidated policy\n"+strings.Join(downDrops, "\n"),
		"-- Restore original policies\n"+strings.Join(restores, "\n"),
	)

	return model.MigrationScript{
		ID: g.nextID(PrefixPolicyConsolidate),
		Description: fmt.Sprintf("Consolidate %d permissive %s policies for role %s on %s.%s",
			len(c.OriginalPolicies), w.Action, w.Role, w.SchemaName, w.TableName),
		UpSQL:           up,
		DownSQL:         down,
		ValidationSQL:   "-- Validation: Verify consolidated policy exists\n" + sqlgen.PolicyExistsQuery(merged.Schema, merged.Table, merged.Name),
		EstimatedImpact: c.EstimatedImpact,
	}
}

func (g *Generator) indexMigration(opt model.IndexOptimization) (model.MigrationScript, error) {
	switch o := opt.(type) {
	case model.RemoveIndex:
		return g.removeIndexMigration(o), nil
	case *model.RemoveIndex:
		return g.removeIndexMigration(*o), nil
	case model.CreateFKIndex:
		return g.createIndexMigration(o), nil
	case *model.CreateFKIndex:
		return g.createIndexMigration(*o), nil
	default:
		return model.MigrationScript{}, fmt.Errorf("unsupported index optimization %T", opt)
	}
}

func (g *Generator) removeIndexMigration(o model.RemoveIndex) model.MigrationScript {
	prefix := PrefixIndexRemoveUnused
	reason := "unused"
	if o.Kind == model.IndexRemoveDuplicate {
		prefix = PrefixIndexRemoveDuplicate
		reason = "duplicate"
	}

	up := sqlgen.Comment(fmt.Sprintf("Index Removal: %s.%s\nType: %s\n%s", o.SchemaName, o.IndexToRemove, o.Kind, o.EstimatedImpact)) +
		"\n\n" + sqlgen.DropIndexConcurrently(o.SchemaName, o.IndexToRemove)

	rollback := fmt.Sprintf("Rollback: Cannot automatically recreate dropped index\n"+
		"Manual intervention required to restore index %s.%s", o.SchemaName, o.IndexToRemove)
	if o.OriginalDefinition != "" {
		rollback += "\nOriginal definition (verify before running):\n" + o.OriginalDefinition + ";"
	} else {
		rollback += "\nPlease refer to the original index definition from pg_indexes"
	}

	return model.MigrationScript{
		ID:              g.nextID(prefix),
		Description:     fmt.Sprintf("Remove %s index %s.%s on table %s", reason, o.SchemaName, o.IndexToRemove, o.TableName),
		UpSQL:           up,
		DownSQL:         sqlgen.Comment(rollback),
		ValidationSQL:   "-- Validation: Verify index is removed (should return 0 rows)\n" + sqlgen.IndexExistsQuery(o.SchemaName, o.TableName, o.IndexToRemove),
		EstimatedImpact: o.EstimatedImpact,
	}
}

func (g *Generator) createIndexMigration(o model.CreateFKIndex) model.MigrationScript {
	idx := o.IndexToCreate
	columns := strings.Join(idx.Columns, ", ")

	up := sqlgen.Comment(fmt.Sprintf("Foreign Key Index Creation: %s.%s\nTable: %s\nColumns: %s\n%s",
		o.SchemaName, idx.Name, o.TableName, columns, o.EstimatedImpact)) +
		"\n\n" + sqlgen.CreateIndexConcurrently(o.SchemaName, o.TableName, idx)
	down := sqlgen.Comment(fmt.Sprintf("Rollback: Remove foreign key index %s.%s", o.SchemaName, idx.Name)) +
		"\n\n" + sqlgen.DropIndexConcurrently(o.SchemaName, idx.Name)

	return model.MigrationScript{
		ID:              g.nextID(PrefixIndexCreateForeignKey),
		Description:     fmt.Sprintf("Create index %s on %s.%s (%s) for foreign key", idx.Name, o.SchemaName, o.TableName, columns),
		UpSQL:           up,
		DownSQL:         down,
		ValidationSQL:   "-- Validation: Verify index exists (should return 1 row)\n" + sqlgen.IndexExistsQuery(o.SchemaName, o.TableName, idx.Name),
		EstimatedImpact: o.EstimatedImpact,
	}
}
