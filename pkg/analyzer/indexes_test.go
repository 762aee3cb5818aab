package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/rlsguard/pkg/database"
	"github.com/pthm/rlsguard/pkg/estimator"
	"github.com/pthm/rlsguard/pkg/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// fakeCatalog answers from maps keyed by index name, or by
// schema.table.constraint for foreign keys.
type fakeCatalog struct {
	backed      map[string]bool
	scans       map[string]int64
	definitions map[string]string
	created     map[string]time.Time
	fkColumns   map[string][]model.FKColumn
	failing     map[string]bool
	offlineFKs  bool
}

func (f fakeCatalog) GetIndexDefinition(_ context.Context, _, _, index string) (string, error) {
	return f.definitions[index], nil
}

func (f fakeCatalog) GetIndexUsageStats(_ context.Context, _, _, index string) (*model.IndexUsage, error) {
	if f.failing[index] {
		return nil, errors.New("permission denied for pg_stat_user_indexes")
	}
	n, ok := f.scans[index]
	if !ok {
		return nil, nil
	}
	return &model.IndexUsage{IdxScan: n}, nil
}

func (f fakeCatalog) GetForeignKeyColumns(_ context.Context, schema, table, fkName string) ([]model.FKColumn, error) {
	if f.offlineFKs {
		return nil, database.ErrNotConnected
	}
	if f.failing[fkName] {
		return nil, errors.New("timeout")
	}
	return f.fkColumns[schema+"."+table+"."+fkName], nil
}

func (f fakeCatalog) IsConstraintBacked(_ context.Context, _, index string) (bool, error) {
	return f.backed[index], nil
}

func (f fakeCatalog) GetIndexCreationTime(_ context.Context, _, index string) (*time.Time, error) {
	if f.failing["created:"+index] {
		return nil, errors.New("must be superuser")
	}
	t, ok := f.created[index]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func duplicateWarning(names ...string) model.DuplicateIndexWarning {
	return model.DuplicateIndexWarning{TableName: "posts", SchemaName: "public", IndexNames: names}
}

func removed(opts []model.IndexOptimization) []string {
	var out []string
	for _, o := range opts {
		if r, ok := o.(model.RemoveIndex); ok {
			out = append(out, r.IndexToRemove)
		}
	}
	return out
}

func TestIsExplicitName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"posts_pkey", false},
		{"posts_slug_key", false},
		{"posts_user_id_idx", false},
		{"idx_12_posts", false},
		{"idx_posts_user", true},
		{"posts_by_author", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExplicitName(tt.name))
		})
	}
}

func TestFKIndexName(t *testing.T) {
	assert.Equal(t, "idx_comments_fk_post_id", FKIndexName("comments", []string{"post_id"}))
	assert.Equal(t, "idx_memberships_fk_org_id_user_id", FKIndexName("memberships", []string{"org_id", "user_id"}))

	long := FKIndexName(strings.Repeat("t", 60), []string{"column"})
	assert.Len(t, long, 63)
}

func TestAnalyzeDuplicates(t *testing.T) {
	tests := []struct {
		name    string
		catalog fakeCatalog
		indexes []string
		want    []string
	}{
		{
			name:    "constraint-backed index survives",
			catalog: fakeCatalog{backed: map[string]bool{"posts_user_id_key": true}},
			indexes: []string{"idx_posts_user", "posts_user_id_key"},
			want:    []string{"idx_posts_user"},
		},
		{
			name:    "explicit name preferred over generated",
			catalog: fakeCatalog{scans: map[string]int64{"posts_user_id_idx": 100, "idx_posts_user": 1}},
			indexes: []string{"posts_user_id_idx", "idx_posts_user"},
			want:    []string{"posts_user_id_idx"},
		},
		{
			name:    "most scanned explicit name survives",
			catalog: fakeCatalog{scans: map[string]int64{"by_user": 5, "by_author": 50}},
			indexes: []string{"by_user", "by_author", "posts_author_idx"},
			want:    []string{"by_user", "posts_author_idx"},
		},
		{
			name:    "ties go to the first",
			catalog: fakeCatalog{},
			indexes: []string{"a_idx", "b_idx", "c_idx"},
			want:    []string{"b_idx", "c_idx"},
		},
		{
			name:    "fewer than two names",
			catalog: fakeCatalog{},
			indexes: []string{"only_one"},
			want:    nil,
		},
		{
			name:    "lookup failure skips the finding",
			catalog: fakeCatalog{failing: map[string]bool{"b": true}},
			indexes: []string{"a", "b"},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewIndexAnalyzer(tt.catalog, WithClock(clock))
			got, err := a.Analyze(context.Background(), []model.DuplicateIndexWarning{duplicateWarning(tt.indexes...)}, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, removed(got))
			for _, o := range got {
				assert.Equal(t, model.IndexRemoveDuplicate, o.Type())
				assert.Equal(t, estimator.ImpactRemoveDuplicate, o.Impact())
			}
		})
	}
}

func TestAnalyzeDuplicates_CapturesDefinition(t *testing.T) {
	catalog := fakeCatalog{definitions: map[string]string{
		"b_idx": "CREATE INDEX b_idx ON public.posts USING btree (user_id)",
	}}
	got, err := NewIndexAnalyzer(catalog).Analyze(context.Background(),
		[]model.DuplicateIndexWarning{duplicateWarning("a_idx", "b_idx")}, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CREATE INDEX b_idx ON public.posts USING btree (user_id)", got[0].(model.RemoveIndex).OriginalDefinition)
}

func TestAnalyzeUnused(t *testing.T) {
	catalog := fakeCatalog{
		backed:  map[string]bool{"posts_pkey": true},
		scans:   map[string]int64{"idx_hot": 12, "idx_cold": 0},
		created: map[string]time.Time{"idx_new": now.Add(-2 * 24 * time.Hour), "idx_old": now.Add(-30 * 24 * time.Hour)},
		failing: map[string]bool{"idx_broken": true, "created:idx_nostat": true},
	}
	tests := []struct {
		index  string
		want   bool
		impact string
	}{
		{"posts_pkey", false, ""},
		{"idx_hot", false, ""},
		{"idx_broken", false, ""},
		{"idx_cold", true, estimator.ImpactRemoveUnused},
		{"idx_new", true, estimator.ImpactRecentUnused},
		{"idx_old", true, estimator.ImpactRemoveUnused},
		{"idx_nostat", true, estimator.ImpactRemoveUnused},
	}

	a := NewIndexAnalyzer(catalog, WithClock(clock))
	for _, tt := range tests {
		t.Run(tt.index, func(t *testing.T) {
			got, err := a.Analyze(context.Background(), nil,
				[]model.UnusedIndexWarning{{TableName: "posts", SchemaName: "public", IndexName: tt.index}}, nil)
			require.NoError(t, err)
			if !tt.want {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			r := got[0].(model.RemoveIndex)
			assert.Equal(t, model.IndexRemoveUnused, r.Kind)
			assert.Equal(t, tt.index, r.IndexToRemove)
			assert.Equal(t, tt.impact, r.EstimatedImpact)
		})
	}
}

func TestAnalyzeForeignKeys(t *testing.T) {
	catalog := fakeCatalog{
		fkColumns: map[string][]model.FKColumn{
			"public.memberships.memberships_fkey": {{ColumnName: "org_id", ColumnPosition: 2}, {ColumnName: "user_id", ColumnPosition: 3}},
			"public.invites.memberships_fkey":     {{ColumnName: "inviter_id", ColumnPosition: 4}},
		},
		failing: map[string]bool{"broken_fkey": true},
	}
	fk := func(name string, cols ...int) model.UnindexedFKWarning {
		return model.UnindexedFKWarning{TableName: "memberships", SchemaName: "public", FKName: name, FKColumns: cols}
	}

	t.Run("catalog order", func(t *testing.T) {
		got, err := NewIndexAnalyzer(catalog).Analyze(context.Background(), nil, nil, []model.UnindexedFKWarning{fk("memberships_fkey")})
		require.NoError(t, err)
		require.Len(t, got, 1)
		c := got[0].(model.CreateFKIndex)
		assert.Equal(t, []string{"org_id", "user_id"}, c.IndexToCreate.Columns)
		assert.Equal(t, "idx_memberships_fk_org_id_user_id", c.IndexToCreate.Name)
		assert.Equal(t, estimator.ImpactCreateFK, c.EstimatedImpact)
		assert.Equal(t, model.IndexCreateFK, c.Type())
	})

	t.Run("finding order wins", func(t *testing.T) {
		got, err := NewIndexAnalyzer(catalog).Analyze(context.Background(), nil, nil, []model.UnindexedFKWarning{fk("memberships_fkey", 3, 2)})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []string{"user_id", "org_id"}, got[0].(model.CreateFKIndex).IndexToCreate.Columns)
	})

	t.Run("name reused on another table", func(t *testing.T) {
		w := fk("memberships_fkey")
		w.TableName = "invites"
		got, err := NewIndexAnalyzer(catalog).Analyze(context.Background(), nil, nil, []model.UnindexedFKWarning{w})
		require.NoError(t, err)
		require.Len(t, got, 1)
		c := got[0].(model.CreateFKIndex)
		assert.Equal(t, []string{"inviter_id"}, c.IndexToCreate.Columns)
		assert.Equal(t, "invites", c.TableName)
	})

	t.Run("offline placeholders", func(t *testing.T) {
		got, err := NewIndexAnalyzer(fakeCatalog{offlineFKs: true}).Analyze(context.Background(), nil, nil, []model.UnindexedFKWarning{fk("x_fkey", 2, 5)})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []string{"column_2", "column_5"}, got[0].(model.CreateFKIndex).IndexToCreate.Columns)
	})

	t.Run("no columns", func(t *testing.T) {
		got, err := NewIndexAnalyzer(catalog).Analyze(context.Background(), nil, nil, []model.UnindexedFKWarning{fk("unknown_fkey")})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("lookup failure", func(t *testing.T) {
		got, err := NewIndexAnalyzer(catalog).Analyze(context.Background(), nil, nil, []model.UnindexedFKWarning{fk("broken_fkey", 1)})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestIndexAnalyzer_Offline(t *testing.T) {
	a := NewIndexAnalyzer(nil, WithConcurrency(4))
	got, err := a.Analyze(context.Background(),
		[]model.DuplicateIndexWarning{duplicateWarning("idx_a", "posts_a_idx")},
		[]model.UnusedIndexWarning{{TableName: "posts", SchemaName: "public", IndexName: "idx_unused"}},
		[]model.UnindexedFKWarning{{TableName: "comments", SchemaName: "public", FKName: "c_fkey", FKColumns: []int{2}}},
	)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, model.IndexRemoveDuplicate, got[0].Type())
	assert.Equal(t, model.IndexRemoveUnused, got[1].Type())
	assert.Equal(t, model.IndexCreateFK, got[2].Type())
}
