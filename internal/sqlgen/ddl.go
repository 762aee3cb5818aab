package sqlgen

import (
	"strings"

	"github.com/pthm/rlsguard/pkg/model"
)

// CreatePolicy renders a CREATE POLICY statement. The AS and FOR/TO clauses
// are emitted only when the policy's command is known.
func CreatePolicy(p model.PolicyDefinition) string {
	var b strings.Builder
	b.WriteString("CREATE POLICY ")
	b.WriteString(QuoteIdent(p.Name))
	b.WriteString(" ON ")
	b.WriteString(Qualified(p.Schema, p.Table))
	if p.Command != "" {
		if p.Permissive {
			b.WriteString("\nAS PERMISSIVE")
		} else {
			b.WriteString("\nAS RESTRICTIVE")
		}
		b.WriteString("\nFOR ")
		b.WriteString(strings.ToUpper(p.Command))
		b.WriteString(" TO ")
		b.WriteString(roleList(p.Roles))
	}
	if p.Using != "" {
		b.WriteString("\nUSING (")
		b.WriteString(p.Using)
		b.WriteString(")")
	}
	if p.WithCheck != "" {
		b.WriteString("\nWITH CHECK (")
		b.WriteString(p.WithCheck)
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String()
}

func roleList(roles []string) string {
	if len(roles) == 0 {
		return "public"
	}
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = Role(r)
	}
	return strings.Join(out, ", ")
}

// DropPolicy renders DROP POLICY IF EXISTS.
func DropPolicy(schema, table, name string) string {
	return Sqlf(`DROP POLICY IF EXISTS %s ON %s;`, QuoteIdent(name), Qualified(schema, table))
}

// DropIndexConcurrently renders a non-blocking DROP INDEX. It cannot run
// inside a transaction block.
func DropIndexConcurrently(schema, index string) string {
	return Sqlf(`DROP INDEX CONCURRENTLY IF EXISTS %s;`, Qualified(schema, index))
}

// CreateIndexConcurrently renders a non-blocking CREATE INDEX. It cannot run
// inside a transaction block.
func CreateIndexConcurrently(schema, table string, idx model.IndexSpec) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = Ident(c)
	}
	return Sqlf(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS %s
		ON %s (%s);
	`, Ident(idx.Name), Qualified(schema, table), strings.Join(cols, ", "))
}

// PolicyExistsQuery selects the named policies from pg_policies.
func PolicyExistsQuery(schema, table string, names ...string) string {
	lits := make([]string, len(names))
	for i, n := range names {
		lits[i] = Literal(n)
	}
	return Sqlf(`
		SELECT schemaname, tablename, policyname, permissive, roles, cmd, qual, with_check
		FROM pg_policies
		WHERE schemaname = %s
		  AND tablename = %s
		  AND policyname IN (%s);
	`, Literal(schema), Literal(table), strings.Join(lits, ", "))
}

// IndexExistsQuery selects the named index from pg_indexes.
func IndexExistsQuery(schema, table, index string) string {
	return Sqlf(`
		SELECT schemaname, tablename, indexname, indexdef
		FROM pg_indexes
		WHERE schemaname = %s
		  AND tablename = %s
		  AND indexname = %s;
	`, Literal(schema), Literal(table), Literal(index))
}

// SelectAll renders SELECT * FROM schema.table.
func SelectAll(schema, table string) string {
	return "SELECT * FROM " + Qualified(schema, table)
}

// SelectWhere renders SELECT * FROM schema.table WHERE (predicate).
func SelectWhere(schema, table, predicate string) string {
	return SelectAll(schema, table) + " WHERE (" + predicate + ")"
}
