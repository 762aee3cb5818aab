package report

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/fatih/color"
)

// Highlighter colors SQL tokens for terminal output.
type Highlighter struct {
	lexer chroma.Lexer
}

// NewHighlighter uses the PostgreSQL lexer, falling back to generic SQL.
func NewHighlighter() *Highlighter {
	l := lexers.Get("PostgreSQL")
	if l == nil {
		l = lexers.Get("SQL")
	}
	if l == nil {
		l = lexers.Fallback
	}
	return &Highlighter{lexer: chroma.Coalesce(l)}
}

var (
	keywordColor  = color.New(color.FgMagenta, color.Bold)
	functionColor = color.New(color.FgBlue)
	stringColor   = color.New(color.FgGreen)
	numberColor   = color.New(color.FgCyan)
	commentColor  = color.New(color.FgHiBlack)
)

// Highlight returns sql with ANSI colors. It returns sql unchanged when
// color output is disabled or the text cannot be tokenised.
func (h *Highlighter) Highlight(sql string) string {
	if color.NoColor {
		return sql
	}
	iter, err := h.lexer.Tokenise(nil, sql)
	if err != nil {
		return sql
	}

	var b strings.Builder
	b.Grow(len(sql) * 2)
	for _, tok := range iter.Tokens() {
		if tok.Value == "" {
			continue
		}
		c := colorFor(tok.Type)
		if c == nil {
			b.WriteString(tok.Value)
			continue
		}
		// Color each line separately so newlines stay bare.
		lines := strings.Split(tok.Value, "\n")
		for i, line := range lines {
			if line != "" {
				b.WriteString(c.Sprint(line))
			}
			if i < len(lines)-1 {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

func colorFor(tt chroma.TokenType) *color.Color {
	switch {
	case tt == chroma.NameFunction || tt == chroma.NameBuiltin:
		return functionColor
	case tt.InCategory(chroma.Keyword) || tt == chroma.OperatorWord:
		return keywordColor
	case tt.InSubCategory(chroma.LiteralString):
		return stringColor
	case tt.InSubCategory(chroma.LiteralNumber):
		return numberColor
	case tt.InCategory(chroma.Comment):
		return commentColor
	default:
		return nil
	}
}
