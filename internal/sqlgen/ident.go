package sqlgen

import (
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// MaxIdentifierLength is Postgres' NAMEDATALEN - 1.
const MaxIdentifierLength = 63

var simpleIdent = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

// reserved words that must be quoted when used as identifiers. Only the ones
// likely to appear as table, column or role names are listed.
var reserved = map[string]bool{
	"all": true, "user": true, "order": true, "group": true, "table": true,
	"select": true, "where": true, "from": true, "to": true, "on": true,
	"check": true, "default": true, "limit": true, "offset": true,
}

// QuoteIdent always double-quotes name.
func QuoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

// Ident quotes name only when Postgres would not read it verbatim.
func Ident(name string) string {
	if simpleIdent.MatchString(name) && !reserved[name] {
		return name
	}
	return pq.QuoteIdentifier(name)
}

// Qualified renders schema.name, quoting each part as needed.
func Qualified(schema, name string) string {
	if schema == "" {
		return Ident(name)
	}
	return Ident(schema) + "." + Ident(name)
}

// Literal renders s as a single-quoted string literal.
func Literal(s string) string {
	return pq.QuoteLiteral(s)
}

// Role renders a policy role. PUBLIC is a keyword, not an identifier.
func Role(name string) string {
	if strings.EqualFold(name, "public") {
		return "public"
	}
	return Ident(name)
}

// TruncateIdent shortens name to the length Postgres keeps, on a byte
// boundary that does not split a UTF-8 sequence.
func TruncateIdent(name string) string {
	if len(name) <= MaxIdentifierLength {
		return name
	}
	cut := MaxIdentifierLength
	for cut > 0 && !isRuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
