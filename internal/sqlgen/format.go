// Package sqlgen builds the SQL text of generated migrations: policy and
// index DDL, transaction wrappers, and catalog queries.
//
// Statements are assembled with Sqlf, which dedents a multi-line template
// and drops blank lines so generated scripts read like hand-written SQL:
//
//	sqlgen.Sqlf(`
//		DROP POLICY IF EXISTS %s ON %s;
//	`, sqlgen.QuoteIdent(name), sqlgen.Qualified(schema, table))
package sqlgen

import (
	"fmt"
	"strings"
)

// Sqlf formats a SQL template, removes the common indentation, and drops
// blank lines.
func Sqlf(format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	lines := strings.Split(s, "\n")

	minIndent := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		if indent := len(line) - len(trimmed); minIndent < 0 || indent < minIndent {
			minIndent = indent
		}
	}

	var result []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		result = append(result, strings.TrimRight(line[minIndent:], " \t"))
	}
	return strings.Join(result, "\n")
}

// Optf formats only when cond is true.
func Optf(cond bool, format string, args ...any) string {
	if !cond {
		return ""
	}
	return fmt.Sprintf(format, args...)
}

// Comment prefixes every line of text with "-- ". Lines that are already
// comments are left alone.
func Comment(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		switch {
		case line == "":
			lines[i] = "--"
		case strings.HasPrefix(line, "--"):
		default:
			lines[i] = "-- " + line
		}
	}
	return strings.Join(lines, "\n")
}

// Transaction wraps statements in BEGIN/COMMIT.
func Transaction(statements ...string) string {
	return "BEGIN;\n\n" + strings.Join(statements, "\n\n") + "\n\nCOMMIT;"
}
