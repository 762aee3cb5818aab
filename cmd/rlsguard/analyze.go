package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/rlsguard/internal/cli"
	"github.com/pthm/rlsguard/internal/report"
	"github.com/pthm/rlsguard/internal/version"
)

var (
	analyzeFlags   pipelineFlags
	analyzeFormat  string
	analyzeDetails bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Report ranked optimizations",
	Long:  `Classify linter findings, derive optimizations and print them ranked by expected impact.`,
	Example: `  # Offline analysis of a linter feed
  rlsguard analyze --feed lint.json

  # Resolve policies against the database and show the SQL of each fix
  rlsguard analyze --feed lint.json --db postgres://localhost/mydb --details

  # Also look for consolidation candidates in the catalog
  rlsguard analyze --feed lint.json --db postgres://localhost/mydb --discover public

  # SARIF output for code scanning
  rlsguard analyze --feed lint.json --format sarif > rlsguard.sarif`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := resolveString(analyzeFormat, cfg.Output.Format)

		res, err := runPipeline(cmd.Context(), analyzeFlags, false)
		if err != nil {
			return err
		}

		switch format {
		case cli.FormatJSON:
			err = report.WriteJSON(os.Stdout, res)
		case cli.FormatSARIF:
			err = report.WriteSARIF(os.Stdout, res, version.Short())
		case cli.FormatText:
			if !quiet {
				report.FromResult(res).Print(os.Stdout, analyzeDetails || verbose > 0)
			}
		default:
			return cli.ConfigError("unknown output format "+format, nil)
		}
		if err != nil {
			return cli.GeneralError("writing report", err)
		}
		return nil
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.db, "db", "", "database URL")
	f.StringVar(&analyzeFlags.feed, "feed", "", "linter feed (JSON or YAML)")
	f.BoolVar(&analyzeFlags.noValidate, "no-validate", false, "skip semantic validation of policy rewrites")
	f.StringSliceVar(&analyzeFlags.discover, "discover", nil, "schemas to scan for consolidation candidates")
	f.IntVar(&analyzeFlags.concurrency, "concurrency", 0, "findings analyzed in parallel per analyzer")
	f.StringVar(&analyzeFormat, "format", "", "output format: text, json or sarif")
	f.BoolVar(&analyzeDetails, "details", false, "show the SQL of each optimization")
}
