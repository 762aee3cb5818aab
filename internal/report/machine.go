package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/pthm/rlsguard"
	"github.com/pthm/rlsguard/pkg/estimator"
)

// InformationURI is reported as the SARIF tool's home page.
const InformationURI = "https://github.com/pthm/rlsguard"

type jsonItem struct {
	Type   estimator.Kind `json:"type"`
	Rule   string         `json:"rule"`
	Target string         `json:"target"`
	Title  string         `json:"title"`
	Score  int            `json:"impact_score"`
	Impact string         `json:"estimated_impact"`
	SQL    string         `json:"sql,omitempty"`
}

type jsonRejection struct {
	Type   estimator.Kind `json:"type"`
	Target string         `json:"target"`
	Reason string         `json:"reason"`
}

type jsonMigration struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Impact      string `json:"estimated_impact"`
}

type jsonReport struct {
	Findings      int             `json:"findings"`
	Optimizations []jsonItem      `json:"optimizations"`
	Rejected      []jsonRejection `json:"rejected"`
	Migrations    []jsonMigration `json:"migrations"`
}

// WriteJSON writes the ranked optimizations, rejections and migration IDs
// as indented JSON.
func WriteJSON(w io.Writer, res *rlsguard.Result) error {
	out := jsonReport{
		Findings:      res.Classified.Total(),
		Optimizations: []jsonItem{},
		Rejected:      []jsonRejection{},
		Migrations:    []jsonMigration{},
	}
	for _, r := range res.Ranked {
		item := Describe(r)
		out.Optimizations = append(out.Optimizations, jsonItem{
			Type:   item.Kind,
			Rule:   item.Rule,
			Target: item.Target,
			Title:  item.Title,
			Score:  item.Score,
			Impact: item.Impact,
			SQL:    item.SQL,
		})
	}
	for _, rej := range res.Rejected {
		out.Rejected = append(out.Rejected, jsonRejection{Type: rej.Type, Target: rej.Target, Reason: rej.Reason})
	}
	for _, m := range res.Migrations {
		out.Migrations = append(out.Migrations, jsonMigration{ID: m.ID, Description: m.Description, Impact: m.EstimatedImpact})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// ruleDescriptions describe each finding family once per SARIF run.
var ruleDescriptions = map[string]string{
	"auth_rls_initplan":            "Auth function re-evaluated for each row in an RLS policy",
	"multiple_permissive_policies": "Multiple permissive policies for the same role and action",
	"duplicate_index":              "Identical indexes on the same table",
	"unused_index":                 "Index that has never been scanned",
	"unindexed_foreign_keys":       "Foreign key without a covering index",
}

func sarifLevel(item Item) string {
	switch item.Kind {
	case estimator.KindRLS, estimator.KindConsolidation:
		return "warning"
	}
	if item.Rule == "unindexed_foreign_keys" {
		return "warning"
	}
	return "note"
}

func rejectionRule(k estimator.Kind) string {
	if k == estimator.KindConsolidation {
		return "multiple_permissive_policies"
	}
	return "auth_rls_initplan"
}

// WriteSARIF writes one SARIF 2.1.0 result per ranked optimization and per
// rejection. Rejections are reported at error level.
func WriteSARIF(w io.Writer, res *rlsguard.Result, version string) error {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return fmt.Errorf("creating SARIF report: %w", err)
	}
	run := sarif.NewRunWithInformationURI("rlsguard", InformationURI)
	if version != "" {
		run.Tool.Driver.Version = &version
	}

	rules := make(map[string]*sarif.ReportingDescriptor)
	rule := func(id string) *sarif.ReportingDescriptor {
		if r, ok := rules[id]; ok {
			return r
		}
		r := run.AddRule(id).WithDescription(ruleDescriptions[id])
		rules[id] = r
		return r
	}

	for _, ranked := range res.Ranked {
		item := Describe(ranked)
		r := rule(item.Rule)
		run.AddResult(sarif.NewRuleResult(r.ID).
			WithMessage(sarif.NewTextMessage(fmt.Sprintf("%s. %s", item.Title, item.Impact))).
			WithLevel(sarifLevel(item)))
	}
	for _, rej := range res.Rejected {
		r := rule(rejectionRule(rej.Type))
		run.AddResult(sarif.NewRuleResult(r.ID).
			WithMessage(sarif.NewTextMessage(fmt.Sprintf("%s: %s", rej.Target, rej.Reason))).
			WithLevel("error"))
	}

	report.AddRun(run)
	if err := report.PrettyWrite(w); err != nil {
		return fmt.Errorf("writing SARIF report: %w", err)
	}
	return nil
}
