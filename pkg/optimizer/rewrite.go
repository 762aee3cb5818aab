// Package optimizer rewrites row-level-security policy expressions.
//
// Two rewrites are provided. Optimize wraps Supabase auth calls in scalar
// subqueries so Postgres evaluates them once per statement (an InitPlan)
// instead of once per row:
//
//	optimizer.Optimize("auth.uid() = user_id")
//	// (SELECT auth.uid()) = user_id
//
// PolicyConsolidator merges permissive policies that share a table, role
// and action into a single policy whose predicate is the OR of the originals.
package optimizer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	// authCallPattern matches a bare auth helper call.
	authCallPattern = regexp.MustCompile(`(?i)auth\.(?:uid|jwt|role)\(\)`)

	// currentSettingPattern matches the legacy way of reading the caller's id.
	currentSettingPattern = regexp.MustCompile(
		`(?i)current_setting\(['"]request\.jwt\.claims['"],\s*true\)::jsonb?->>'sub'`)
)

// wrappedUID replaces the current_setting idiom.
const wrappedUID = "(SELECT auth.uid())"

// isWrapped reports whether text ending at an auth call already opens a
// scalar subquery: "(SELECT" followed by at least one whitespace character.
func isWrapped(prefix string) bool {
	trimmed := strings.TrimRightFunc(prefix, unicode.IsSpace)
	if len(trimmed) == len(prefix) {
		return false
	}
	const opener = "(select"
	return len(trimmed) >= len(opener) && strings.EqualFold(trimmed[len(trimmed)-len(opener):], opener)
}

// unwrappedCalls returns the [start, end) offsets of auth calls that are not
// already wrapped.
func unwrappedCalls(sql string) [][]int {
	var out [][]int
	for _, loc := range authCallPattern.FindAllStringIndex(sql, -1) {
		if !isWrapped(sql[:loc[0]]) {
			out = append(out, loc)
		}
	}
	return out
}

// NeedsOptimization reports whether sql contains an auth call outside a
// scalar subquery or the current_setting idiom.
func NeedsOptimization(sql string) bool {
	return len(unwrappedCalls(sql)) > 0 || currentSettingPattern.MatchString(sql)
}

// ReplaceCurrentSetting rewrites the current_setting idiom to a wrapped
// auth.uid() call.
func ReplaceCurrentSetting(sql string) string {
	return currentSettingPattern.ReplaceAllLiteralString(sql, wrappedUID)
}

// WrapAuthFunctions wraps every unwrapped auth call in (SELECT ...).
// All other text is preserved byte for byte.
func WrapAuthFunctions(sql string) string {
	calls := unwrappedCalls(sql)
	if len(calls) == 0 {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql) + len(calls)*len("(SELECT )"))
	last := 0
	for _, loc := range calls {
		b.WriteString(sql[last:loc[0]])
		b.WriteString("(SELECT ")
		b.WriteString(sql[loc[0]:loc[1]])
		b.WriteString(")")
		last = loc[1]
	}
	b.WriteString(sql[last:])
	return b.String()
}

// Optimize rewrites sql so every auth call is evaluated once per statement.
// It is idempotent: Optimize(Optimize(s)) == Optimize(s).
func Optimize(sql string) string {
	return WrapAuthFunctions(ReplaceCurrentSetting(sql))
}

// ExtractAuthFunctions lists the distinct auth calls in sql, in order of
// first appearance. The current_setting idiom is reported verbatim.
func ExtractAuthFunctions(sql string) []string {
	type hit struct {
		pos  int
		text string
	}
	var hits []hit
	for _, loc := range authCallPattern.FindAllStringIndex(sql, -1) {
		hits = append(hits, hit{loc[0], sql[loc[0]:loc[1]]})
	}
	for _, loc := range currentSettingPattern.FindAllStringIndex(sql, -1) {
		hits = append(hits, hit{loc[0], sql[loc[0]:loc[1]]})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := []string{}
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if seen[h.text] {
			continue
		}
		seen[h.text] = true
		out = append(out, h.text)
	}
	return out
}
