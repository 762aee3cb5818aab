package migrator

import (
	"regexp"
	"strings"
)

var (
	keywordPattern = regexp.MustCompile(`(?i)\b(CREATE|DROP|ALTER|SELECT|INSERT|UPDATE|DELETE|POLICY|INDEX|TABLE)\b`)

	syntaxErrorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`;;`),
		regexp.MustCompile(`(?i)\bON\s+ON\b`),
		regexp.MustCompile(`(?i)\bTO\s+TO\b`),
	}
)

// ValidateSQLSyntax is a lightweight sanity check, not a parser. It rejects
// empty input, unbalanced parentheses, text with no recognizable SQL
// keyword, and a few generator mistakes (";;", "ON ON", "TO TO").
func ValidateSQLSyntax(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return false
	}

	depth := 0
	for _, r := range trimmed {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	if depth != 0 {
		return false
	}

	if !keywordPattern.MatchString(trimmed) {
		return false
	}
	for _, p := range syntaxErrorPatterns {
		if p.MatchString(trimmed) {
			return false
		}
	}
	return true
}
