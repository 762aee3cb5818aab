package optimizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/rlsguard/pkg/model"
)

type fakeSource struct {
	policies map[string]*model.PolicyDefinition
	failing  map[string]bool
}

func (f fakeSource) GetPolicyDefinition(_ context.Context, _, _, name string) (*model.PolicyDefinition, error) {
	if f.failing[name] {
		return nil, errors.New("connection reset")
	}
	return f.policies[name], nil
}

func selectPolicy(name, using string) *model.PolicyDefinition {
	return &model.PolicyDefinition{
		Schema: "public", Table: "posts", Name: name, Permissive: true,
		Roles: []string{"authenticated"}, Command: "SELECT", Using: using,
	}
}

func postsWarning(names ...string) model.MultiplePermissiveWarning {
	return model.MultiplePermissiveWarning{
		TableName: "posts", SchemaName: "public", Role: "authenticated",
		Action: "SELECT", PolicyNames: names,
	}
}

func TestIdentifyConsolidationCandidates(t *testing.T) {
	ref := func(table, name, role, action string, permissive bool) model.PolicyRef {
		return model.PolicyRef{Schema: "public", Table: table, Name: name, Role: role, Action: action, Permissive: permissive}
	}
	got := IdentifyConsolidationCandidates([]model.PolicyRef{
		ref("posts", "a", "authenticated", "SELECT", true),
		ref("posts", "b", "authenticated", "select", true),
		ref("posts", "c", "anon", "SELECT", true),
		ref("posts", "d", "authenticated", "SELECT", false),
		ref("comments", "e", "authenticated", "UPDATE", true),
		ref("comments", "f", "authenticated", "UPDATE", true),
		ref("comments", "g", "authenticated", "UPDATE", true),
		ref("tags", "h", "authenticated", "ALL", true),
		ref("tags", "i", "authenticated", "all", true),
	})

	require.Len(t, got, 3)
	assert.Equal(t, model.MultiplePermissiveWarning{
		TableName: "posts", SchemaName: "public", Role: "authenticated", Action: "SELECT",
		PolicyNames: []string{"a", "b"},
	}, got[0])
	assert.Equal(t, []string{"e", "f", "g"}, got[1].PolicyNames)
	assert.Equal(t, model.MultiplePermissiveWarning{
		TableName: "tags", SchemaName: "public", Role: "authenticated", Action: "SELECT",
		PolicyNames: []string{"h", "i"},
	}, got[2])

	assert.Empty(t, IdentifyConsolidationCandidates(nil))
}

func TestMergePolicies(t *testing.T) {
	policies := []model.PolicyDefinition{
		{Name: "a", Using: "user_id = auth.uid()", WithCheck: "user_id = auth.uid()"},
		{Name: "b", Using: ""},
		{Name: "c", Using: "published = true"},
	}
	got := MergePolicies(postsWarning("a", "b", "c"), policies)

	assert.Equal(t, "posts_authenticated_select_consolidated", got.Name)
	assert.Equal(t, "(user_id = auth.uid()) OR (published = true)", got.Using)
	assert.Equal(t, "(user_id = auth.uid())", got.WithCheck)
	assert.True(t, got.Permissive)
	assert.Equal(t, []string{"authenticated"}, got.Roles)
	assert.Equal(t, "SELECT", got.Command)

	noCheck := MergePolicies(postsWarning("c"), policies[2:])
	assert.Empty(t, noCheck.WithCheck)
}

func TestApplyRewrites(t *testing.T) {
	rewrite := func(table, name, using, check string) model.RLSOptimization {
		return model.RLSOptimization{
			Warning:            model.RLSAuthWarning{SchemaName: "public", TableName: table, PolicyName: name},
			OriginalSQL:        using,
			OptimizedSQL:       Optimize(using),
			OptimizedWithCheck: Optimize(check),
		}
	}
	owner := selectPolicy("owner_read", "user_id = auth.uid()")
	owner.WithCheck = "user_id = auth.uid()"
	published := selectPolicy("published_read", "published = true")
	posts := model.PolicyConsolidation{
		Warning:          postsWarning("owner_read", "published_read"),
		OriginalPolicies: []model.PolicyDefinition{*owner, *published},
	}
	posts.ConsolidatedPolicy = MergePolicies(posts.Warning, posts.OriginalPolicies)
	untouched := model.PolicyConsolidation{
		Warning:          model.MultiplePermissiveWarning{SchemaName: "public", TableName: "tags", Role: "anon", Action: "SELECT"},
		OriginalPolicies: []model.PolicyDefinition{{Name: "a", Using: "true"}, {Name: "b", Using: "false"}},
	}

	consolidations, rewrites := ApplyRewrites(
		[]model.PolicyConsolidation{posts, untouched},
		[]model.RLSOptimization{
			rewrite("posts", "owner_read", "user_id = auth.uid()", "user_id = auth.uid()"),
			rewrite("comments", "owner_read", "author_id = auth.uid()", ""),
		},
	)

	require.Len(t, rewrites, 1, "the posts rewrite is absorbed")
	assert.Equal(t, "comments", rewrites[0].Warning.TableName)

	require.Len(t, consolidations, 2)
	got := consolidations[0]
	assert.Equal(t, "(user_id = (SELECT auth.uid())) OR (published = true)", got.ConsolidatedPolicy.Using)
	assert.Equal(t, "(user_id = (SELECT auth.uid()))", got.ConsolidatedPolicy.WithCheck)
	assert.Equal(t, "posts_authenticated_select_consolidated", got.ConsolidatedPolicy.Name)
	assert.Equal(t, "user_id = auth.uid()", got.OriginalPolicies[0].Using, "originals keep the catalog text")
	require.Len(t, got.RewrittenPolicies, 2)
	assert.Equal(t, "user_id = (SELECT auth.uid())", got.RewrittenPolicies[0].Using)
	assert.Equal(t, "published = true", got.RewrittenPolicies[1].Using)

	assert.Nil(t, consolidations[1].RewrittenPolicies)
	assert.Equal(t, untouched.ConsolidatedPolicy, consolidations[1].ConsolidatedPolicy)

	none, kept := ApplyRewrites(nil, nil)
	assert.Empty(t, none)
	assert.Empty(t, kept)
}

func TestConsolidationImpact(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{2, "Reduces policy evaluation overhead by ~50% by consolidating 2 policies into 1"},
		{3, "Reduces policy evaluation overhead by ~67% by consolidating 3 policies into 1"},
		{4, "Reduces policy evaluation overhead by ~75% by consolidating 4 policies into 1"},
		{1, "Reduces policy evaluation overhead by ~0% by consolidating 1 policies into 1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConsolidationImpact(tt.n))
	}
}

func TestConsolidate(t *testing.T) {
	src := fakeSource{
		policies: map[string]*model.PolicyDefinition{
			"own":       selectPolicy("own", "user_id = auth.uid()"),
			"published": selectPolicy("published", "published = true"),
			"strict": {
				Name: "strict", Permissive: false, Command: "SELECT", Using: "tenant_id = 1",
			},
			"all": {
				Name: "all", Permissive: true, Command: "ALL", Using: "is_admin()",
			},
		},
		failing: map[string]bool{"flaky": true},
	}
	c := NewPolicyConsolidator(src, WithConcurrency(2))

	tests := []struct {
		name     string
		warning  model.MultiplePermissiveWarning
		wantOK   bool
		wantUsed []string
	}{
		{"merges resolvable policies", postsWarning("own", "published"), true, []string{"own", "published"}},
		{"skips missing and failing lookups", postsWarning("own", "missing", "flaky", "published"), true, []string{"own", "published"}},
		{"nothing resolves", postsWarning("missing", "flaky"), false, nil},
		{"restrictive policy blocks merge", postsWarning("own", "strict"), false, nil},
		{"broader command blocks merge", postsWarning("own", "all"), false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Consolidate(context.Background(), []model.MultiplePermissiveWarning{tt.warning})
			require.NoError(t, err)
			if !tt.wantOK {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			var names []string
			for _, p := range got[0].OriginalPolicies {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.wantUsed, names)
			assert.Equal(t, "(user_id = auth.uid()) OR (published = true)", got[0].ConsolidatedPolicy.Using)
			assert.Equal(t, ConsolidationImpact(2), got[0].EstimatedImpact)
		})
	}
}

func TestConsolidate_KeepsInputOrder(t *testing.T) {
	src := fakeSource{policies: map[string]*model.PolicyDefinition{
		"a": selectPolicy("a", "x = 1"),
		"b": selectPolicy("b", "x = 2"),
	}}
	var warnings []model.MultiplePermissiveWarning
	for _, table := range []string{"t1", "t2", "t3", "t4", "t5"} {
		w := postsWarning("a", "b")
		w.TableName = table
		warnings = append(warnings, w)
	}

	got, err := NewPolicyConsolidator(src, WithConcurrency(3)).Consolidate(context.Background(), warnings)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, c := range got {
		assert.Equal(t, warnings[i].TableName, c.Warning.TableName)
	}
}

func TestConsolidate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPolicyConsolidator(fakeSource{}).Consolidate(ctx, []model.MultiplePermissiveWarning{postsWarning("a")})
	assert.ErrorIs(t, err, context.Canceled)
}
