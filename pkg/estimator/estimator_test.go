package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/rlsguard/pkg/model"
)

func TestEstimateRLSImpact(t *testing.T) {
	tests := []struct {
		name string
		opt  model.RLSOptimization
		want string
	}{
		{
			name: "one function",
			opt:  model.RLSOptimization{Warning: model.RLSAuthWarning{AuthFunctions: []string{"auth.uid()"}}},
			want: "Reduces auth function evaluations from per-row to per-query (1 auth function wrapped in scalar subqueries)",
		},
		{
			name: "counted from sql",
			opt:  model.RLSOptimization{OriginalSQL: "auth.uid() = a AND auth.role() = 'x'"},
			want: "Reduces auth function evaluations from per-row to per-query (2 auth functions wrapped in scalar subqueries)",
		},
		{
			name: "nothing to count",
			opt:  model.RLSOptimization{OriginalSQL: "true"},
			want: "Reduces auth function evaluations from per-row to per-query",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateRLSImpact(tt.opt))
		})
	}
}

func TestEstimateIndexImpact(t *testing.T) {
	tests := []struct {
		opt  model.IndexOptimization
		want string
	}{
		{model.RemoveIndex{Kind: model.IndexRemoveDuplicate}, ImpactRemoveDuplicate},
		{model.RemoveIndex{Kind: model.IndexRemoveUnused}, ImpactRemoveUnused},
		{model.RemoveIndex{Kind: model.IndexRemoveUnused, EstimatedImpact: ImpactRecentUnused}, ImpactRecentUnused},
		{model.CreateFKIndex{}, ImpactCreateFK},
	}
	for _, tt := range tests {
		t.Run(string(tt.opt.Type()), func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateIndexImpact(tt.opt))
		})
	}
}

func TestEstimatePolicyConsolidationImpact(t *testing.T) {
	c := model.PolicyConsolidation{OriginalPolicies: make([]model.PolicyDefinition, 3)}
	assert.NotEmpty(t, EstimatePolicyConsolidationImpact(c))
}

func TestRankByImpact(t *testing.T) {
	rls := []model.RLSOptimization{
		{Warning: model.RLSAuthWarning{PolicyName: "one", AuthFunctions: []string{"auth.uid()"}}},
		{Warning: model.RLSAuthWarning{PolicyName: "two", AuthFunctions: []string{"auth.uid()", "auth.jwt()"}}},
	}
	consolidations := []model.PolicyConsolidation{
		{OriginalPolicies: make([]model.PolicyDefinition, 2)},
	}
	indexes := []model.IndexOptimization{
		model.RemoveIndex{Kind: model.IndexRemoveUnused, IndexToRemove: "u1"},
		model.RemoveIndex{Kind: model.IndexRemoveDuplicate, IndexToRemove: "d1"},
		model.CreateFKIndex{IndexToCreate: model.IndexSpec{Name: "fk1"}},
		model.RemoveIndex{Kind: model.IndexRemoveUnused, IndexToRemove: "u2"},
	}

	ranked := RankByImpact(rls, consolidations, indexes)
	require.Len(t, ranked, 7)

	scores := make([]int, len(ranked))
	for i, r := range ranked {
		scores[i] = r.ImpactScore
		assert.NotEmpty(t, r.EstimatedImpact)
	}
	assert.Equal(t, []int{140, 120, 100, 70, 50, 30, 30}, scores)

	assert.Equal(t, "two", ranked[0].Optimization.(model.RLSOptimization).Warning.PolicyName)
	assert.Equal(t, KindConsolidation, ranked[2].Type)
	// Equal scores keep input order.
	assert.Equal(t, "u1", ranked[5].Optimization.(model.RemoveIndex).IndexToRemove)
	assert.Equal(t, "u2", ranked[6].Optimization.(model.RemoveIndex).IndexToRemove)
}

func TestRankByImpact_Empty(t *testing.T) {
	assert.Empty(t, RankByImpact(nil, nil, nil))
}
