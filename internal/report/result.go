package report

import (
	"fmt"
	"strings"

	"github.com/pthm/rlsguard"
	"github.com/pthm/rlsguard/internal/sqlgen"
	"github.com/pthm/rlsguard/pkg/estimator"
	"github.com/pthm/rlsguard/pkg/model"
)

// Report categories.
const (
	CategoryFindings   = "Findings"
	CategoryRLS        = "Row-level security"
	CategoryPolicies   = "Policy consolidation"
	CategoryIndexes    = "Indexes"
	CategoryRejected   = "Rejected by validation"
	CategoryMigrations = "Migrations"
)

// Item is one ranked optimization in presentation form.
type Item struct {
	Kind   estimator.Kind
	Rule   string
	Target string
	Title  string
	SQL    string
	Score  int
	Impact string
}

// Describe renders a ranked optimization.
func Describe(r estimator.Ranked) Item {
	item := Item{Kind: r.Type, Score: r.ImpactScore, Impact: r.EstimatedImpact}
	switch o := r.Optimization.(type) {
	case model.RLSOptimization:
		w := o.Warning
		item.Rule = "auth_rls_initplan"
		item.Target = fmt.Sprintf("%s.%s.%s", w.SchemaName, w.TableName, w.PolicyName)
		item.Title = fmt.Sprintf("Wrap auth functions in policy %s on %s.%s", w.PolicyName, w.SchemaName, w.TableName)
		item.SQL = o.OptimizedSQL
	case model.PolicyConsolidation:
		w := o.Warning
		item.Rule = "multiple_permissive_policies"
		item.Target = fmt.Sprintf("%s.%s.%s", w.SchemaName, w.TableName, o.ConsolidatedPolicy.Name)
		item.Title = fmt.Sprintf("Consolidate %d %s policies for %s on %s.%s",
			len(o.OriginalPolicies), w.Action, w.Role, w.SchemaName, w.TableName)
		item.SQL = sqlgen.CreatePolicy(o.ConsolidatedPolicy)
	case model.RemoveIndex:
		item = describeRemove(item, o)
	case *model.RemoveIndex:
		item = describeRemove(item, *o)
	case model.CreateFKIndex:
		item = describeCreate(item, o)
	case *model.CreateFKIndex:
		item = describeCreate(item, *o)
	default:
		item.Title = fmt.Sprintf("%v", r.Optimization)
	}
	return item
}

func describeRemove(item Item, o model.RemoveIndex) Item {
	t := o.Target()
	item.Target = fmt.Sprintf("%s.%s", t.SchemaName, o.IndexToRemove)
	item.SQL = sqlgen.DropIndexConcurrently(t.SchemaName, o.IndexToRemove)
	if o.Kind == model.IndexRemoveDuplicate {
		item.Rule = "duplicate_index"
		item.Title = fmt.Sprintf("Drop duplicate index %s on %s.%s", o.IndexToRemove, t.SchemaName, t.TableName)
	} else {
		item.Rule = "unused_index"
		item.Title = fmt.Sprintf("Drop unused index %s on %s.%s", o.IndexToRemove, t.SchemaName, t.TableName)
	}
	return item
}

func describeCreate(item Item, o model.CreateFKIndex) Item {
	t := o.Target()
	item.Rule = "unindexed_foreign_keys"
	item.Target = fmt.Sprintf("%s.%s", t.SchemaName, o.IndexToCreate.Name)
	item.Title = fmt.Sprintf("Create index %s on %s.%s (%s)",
		o.IndexToCreate.Name, t.SchemaName, t.TableName, strings.Join(o.IndexToCreate.Columns, ", "))
	item.SQL = sqlgen.CreateIndexConcurrently(t.SchemaName, t.TableName, o.IndexToCreate)
	return item
}

func categoryOf(k estimator.Kind) string {
	switch k {
	case estimator.KindRLS:
		return CategoryRLS
	case estimator.KindConsolidation:
		return CategoryPolicies
	default:
		return CategoryIndexes
	}
}

// FromResult builds a report listing the classified findings, every ranked
// optimization, every rejection and the generated migrations.
func FromResult(res *rlsguard.Result) *Report {
	r := &Report{}
	c := res.Classified
	r.AddCheck(CheckResult{
		Category: CategoryFindings,
		Name:     "classified",
		Status:   StatusPass,
		Message: fmt.Sprintf("Classified %d findings (%d auth, %d permissive, %d duplicate index, %d unused index, %d unindexed FK)",
			c.Total(), len(c.RLSAuth), len(c.MultiplePermissive), len(c.DuplicateIndexes), len(c.UnusedIndexes), len(c.UnindexedFKs)),
	})

	if len(res.Ranked) == 0 {
		r.AddCheck(CheckResult{
			Category: CategoryFindings,
			Name:     "optimizations",
			Status:   StatusPass,
			Message:  "No optimizations needed",
		})
	}
	for _, ranked := range res.Ranked {
		item := Describe(ranked)
		r.AddCheck(CheckResult{
			Category: categoryOf(item.Kind),
			Name:     item.Target,
			Status:   StatusWarn,
			Message:  fmt.Sprintf("[%d] %s", item.Score, item.Title),
			Details:  item.SQL,
			FixHint:  item.Impact,
		})
	}

	for _, rej := range res.Rejected {
		r.AddCheck(CheckResult{
			Category: CategoryRejected,
			Name:     rej.Target,
			Status:   StatusFail,
			Message:  fmt.Sprintf("%s %s was not migrated: %s", rej.Type, rej.Target, rej.Reason),
		})
	}

	for _, m := range res.Migrations {
		r.AddCheck(CheckResult{
			Category: CategoryMigrations,
			Name:     m.ID,
			Status:   StatusPass,
			Message:  fmt.Sprintf("%s: %s", m.ID, m.Description),
			Details:  m.UpSQL,
		})
	}
	return r
}
