package sqlgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pthm/rlsguard/pkg/model"
)

func TestSqlf(t *testing.T) {
	got := Sqlf(`
		SELECT a
		  FROM %s

		WHERE b = %d
	`, "t", 1)
	assert.Equal(t, "SELECT a\n  FROM t\nWHERE b = 1", got)
}

func TestOptf(t *testing.T) {
	assert.Equal(t, "", Optf(false, "x %d", 1))
	assert.Equal(t, "x 1", Optf(true, "x %d", 1))
}

func TestComment(t *testing.T) {
	assert.Equal(t, "-- a\n--\n-- b", Comment("a\n\nb\n"))
	assert.Equal(t, "-- already\n-- c", Comment("-- already\nc"))
}

func TestTransaction(t *testing.T) {
	assert.Equal(t, "BEGIN;\n\nA;\n\nB;\n\nCOMMIT;", Transaction("A;", "B;"))
}

func TestIdent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"posts", "posts"},
		{"user_id", "user_id"},
		{"user", `"user"`},
		{"Posts", `"Posts"`},
		{"has space", `"has space"`},
		{`we"ird`, `"we""ird"`},
		{"1abc", `"1abc"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Ident(tt.in))
		})
	}
}

func TestQualifiedAndRole(t *testing.T) {
	assert.Equal(t, "public.posts", Qualified("public", "posts"))
	assert.Equal(t, `posts`, Qualified("", "posts"))
	assert.Equal(t, `"App".orders`, Qualified("App", "orders"))
	assert.Equal(t, "public", Role("PUBLIC"))
	assert.Equal(t, `"Admins"`, Role("Admins"))
	assert.Equal(t, `"owner_read"`, QuoteIdent("owner_read"))
	assert.Equal(t, `'it''s'`, Literal("it's"))
}

func TestTruncateIdent(t *testing.T) {
	assert.Equal(t, "short", TruncateIdent("short"))
	assert.Len(t, TruncateIdent(strings.Repeat("a", 80)), MaxIdentifierLength)

	// A multi-byte rune straddling the limit is dropped whole.
	name := strings.Repeat("a", 62) + "é"
	got := TruncateIdent(name)
	assert.Equal(t, strings.Repeat("a", 62), got)
}

func TestCreatePolicy(t *testing.T) {
	tests := []struct {
		name string
		p    model.PolicyDefinition
		want string
	}{
		{
			name: "full record",
			p: model.PolicyDefinition{
				Schema: "public", Table: "posts", Name: "owner_write", Permissive: true,
				Roles: []string{"authenticated", "public"}, Command: "update",
				Using: "a = 1", WithCheck: "b = 2",
			},
			want: "CREATE POLICY \"owner_write\" ON public.posts\nAS PERMISSIVE\nFOR UPDATE TO authenticated, public\nUSING (a = 1)\nWITH CHECK (b = 2);",
		},
		{
			name: "restrictive without roles",
			p:    model.PolicyDefinition{Schema: "public", Table: "posts", Name: "r", Command: "ALL", Using: "true"},
			want: "CREATE POLICY \"r\" ON public.posts\nAS RESTRICTIVE\nFOR ALL TO public\nUSING (true);",
		},
		{
			name: "unknown command",
			p:    model.PolicyDefinition{Schema: "public", Table: "posts", Name: "p", WithCheck: "x"},
			want: "CREATE POLICY \"p\" ON public.posts\nWITH CHECK (x);",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CreatePolicy(tt.p))
		})
	}
}

func TestIndexDDL(t *testing.T) {
	assert.Equal(t, `DROP POLICY IF EXISTS "p" ON public.posts;`, DropPolicy("public", "posts", "p"))
	assert.Equal(t, "DROP INDEX CONCURRENTLY IF EXISTS public.idx_a;", DropIndexConcurrently("public", "idx_a"))
	assert.Equal(t,
		"CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_m_fk_org_id_user\nON public.memberships (org_id, \"user\");",
		CreateIndexConcurrently("public", "memberships", model.IndexSpec{Name: "idx_m_fk_org_id_user", Columns: []string{"org_id", "user"}}))
}

func TestCatalogQueries(t *testing.T) {
	q := PolicyExistsQuery("public", "posts", "a", "b")
	assert.Contains(t, q, "WHERE schemaname = 'public'")
	assert.Contains(t, q, "policyname IN ('a', 'b');")

	q = IndexExistsQuery("public", "posts", "idx")
	assert.Contains(t, q, "FROM pg_indexes")
	assert.Contains(t, q, "indexname = 'idx';")

	assert.Equal(t, "SELECT * FROM public.posts WHERE (a = 1)", SelectWhere("public", "posts", "a = 1"))
}
