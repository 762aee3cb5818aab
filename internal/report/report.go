// Package report renders pipeline results for people and for tools.
//
// A Report is a list of checks grouped by category, printed with status
// symbols in the terminal:
//
//	r := report.FromResult(result)
//	r.Print(os.Stdout, true) // verbose=true shows the SQL of each fix
//
// WriteJSON and WriteSARIF emit the same result in machine-readable form.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Status represents the result of a check.
type Status int

const (
	// StatusPass indicates nothing needs doing.
	StatusPass Status = iota
	// StatusWarn indicates an issue with a generated fix.
	StatusWarn
	// StatusFail indicates an issue that could not be fixed safely.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return color.GreenString("✓")
	case StatusWarn:
		return color.YellowString("⚠")
	case StatusFail:
		return color.RedString("✗")
	default:
		return "?"
	}
}

// CheckResult represents one reported item.
type CheckResult struct {
	// Category groups related items (e.g., "Row-level security", "Indexes").
	Category string

	// Name identifies the affected object.
	Name string

	// Status is the outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details holds SQL shown in verbose output.
	Details string

	// FixHint describes the fix or the expected benefit.
	FixHint string
}

// Report contains all check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer. SQL details are
// syntax-highlighted unless color output is disabled.
func (r *Report) Print(w io.Writer, verbose bool) {
	// Group checks by category
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	heading := color.New(color.Bold)
	hl := NewHighlighter()
	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", heading.Sprint(cat))
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(hl.Highlight(check.Details), "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Impact: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}
