// Package estimator describes the expected benefit of each optimization and
// ranks optimizations by a comparable score.
//
// Scores are heuristics. They order auth-function rewrites above policy
// consolidations above index work, and within a category favour the
// candidates that touch more functions or policies.
package estimator

import (
	"fmt"
	"sort"

	"github.com/pthm/rlsguard/pkg/model"
	"github.com/pthm/rlsguard/pkg/optimizer"
)

// Kind is the category of a ranked optimization.
type Kind string

const (
	KindRLS           Kind = "rls"
	KindConsolidation Kind = "consolidation"
	KindIndex         Kind = "index"
)

// Impact descriptions for index optimizations.
const (
	ImpactRemoveDuplicate = "Removes duplicate index, saves storage and improves write performance"
	ImpactRemoveUnused    = "Removes unused index, saves storage and improves write performance"
	ImpactRecentUnused    = "Index is unused but recently created - flagged for manual review"
	ImpactCreateFK        = "Creates index for foreign key, improves join performance and referential integrity checks"
)

// Score weights.
const (
	rlsBase              = 100
	rlsPerFunction       = 20
	consolidationBase    = 80
	consolidationPerRule = 10
	createFKScore        = 70
	removeDuplicateScore = 50
	removeUnusedScore    = 30
)

// Ranked is one entry of a ranking. Optimization holds a
// model.RLSOptimization, model.PolicyConsolidation or model.IndexOptimization
// according to Type.
type Ranked struct {
	Type            Kind
	Optimization    any
	ImpactScore     int
	EstimatedImpact string
}

// authFunctionCount falls back to scanning the original SQL when the finding
// did not list its auth functions.
func authFunctionCount(opt model.RLSOptimization) int {
	if n := len(opt.Warning.AuthFunctions); n > 0 {
		return n
	}
	return len(optimizer.ExtractAuthFunctions(opt.OriginalSQL))
}

// EstimateRLSImpact describes an auth-function rewrite.
func EstimateRLSImpact(opt model.RLSOptimization) string {
	n := authFunctionCount(opt)
	if n == 0 {
		return "Reduces auth function evaluations from per-row to per-query"
	}
	return fmt.Sprintf(
		"Reduces auth function evaluations from per-row to per-query (%d auth function%s wrapped in scalar subqueries)",
		n, plural(n))
}

// EstimatePolicyConsolidationImpact describes a policy merge.
func EstimatePolicyConsolidationImpact(c model.PolicyConsolidation) string {
	return optimizer.ConsolidationImpact(len(c.OriginalPolicies))
}

// EstimateIndexImpact describes an index operation.
func EstimateIndexImpact(opt model.IndexOptimization) string {
	if s := opt.Impact(); s != "" {
		return s
	}
	switch opt.Type() {
	case model.IndexRemoveDuplicate:
		return ImpactRemoveDuplicate
	case model.IndexRemoveUnused:
		return ImpactRemoveUnused
	case model.IndexCreateFK:
		return ImpactCreateFK
	default:
		return "Improves index health"
	}
}

func scoreRLS(opt model.RLSOptimization) int {
	return rlsBase + rlsPerFunction*authFunctionCount(opt)
}

func scoreConsolidation(c model.PolicyConsolidation) int {
	return consolidationBase + consolidationPerRule*len(c.OriginalPolicies)
}

func scoreIndex(opt model.IndexOptimization) int {
	switch opt.Type() {
	case model.IndexCreateFK:
		return createFKScore
	case model.IndexRemoveDuplicate:
		return removeDuplicateScore
	default:
		return removeUnusedScore
	}
}

// RankByImpact returns every optimization exactly once, ordered by
// descending score. Equal scores keep input order: RLS rewrites first, then
// consolidations, then index operations.
func RankByImpact(
	rls []model.RLSOptimization,
	consolidations []model.PolicyConsolidation,
	indexes []model.IndexOptimization,
) []Ranked {
	ranked := make([]Ranked, 0, len(rls)+len(consolidations)+len(indexes))
	for _, opt := range rls {
		impact := opt.EstimatedImpact
		if impact == "" {
			impact = EstimateRLSImpact(opt)
		}
		ranked = append(ranked, Ranked{Type: KindRLS, Optimization: opt, ImpactScore: scoreRLS(opt), EstimatedImpact: impact})
	}
	for _, c := range consolidations {
		impact := c.EstimatedImpact
		if impact == "" {
			impact = EstimatePolicyConsolidationImpact(c)
		}
		ranked = append(ranked, Ranked{Type: KindConsolidation, Optimization: c, ImpactScore: scoreConsolidation(c), EstimatedImpact: impact})
	}
	for _, opt := range indexes {
		ranked = append(ranked, Ranked{Type: KindIndex, Optimization: opt, ImpactScore: scoreIndex(opt), EstimatedImpact: EstimateIndexImpact(opt)})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].ImpactScore > ranked[j].ImpactScore })
	return ranked
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
