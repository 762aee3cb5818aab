package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/rlsguard/internal/cli"
	"github.com/pthm/rlsguard/pkg/migrator"
)

var (
	generateFlags  pipelineFlags
	generateOut    string
	generateDryRun bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write migration scripts",
	Long: `Generate reversible migration scripts for every optimization that passes
validation. Each script is written as <id>.up.sql and <id>.down.sql.`,
	Example: `  # Write migrations to ./migrations
  rlsguard generate --feed lint.json --db postgres://localhost/mydb

  # Preview migration SQL without writing files
  rlsguard generate --feed lint.json --db postgres://localhost/mydb --dry-run

  # Skip validation (not recommended)
  rlsguard generate --feed lint.json --db postgres://localhost/mydb --no-validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir := resolveString(generateOut, cfg.Output.Dir)

		res, err := runPipeline(cmd.Context(), generateFlags, true)
		if err != nil {
			return err
		}

		if !quiet {
			for _, rej := range res.Rejected {
				fmt.Fprintf(os.Stderr, "Rejected %s %s: %s\n", rej.Type, rej.Target, rej.Reason)
			}
		}

		if generateDryRun {
			fmt.Fprintln(os.Stderr, "-- Dry-run mode: migrations will be printed but not written")
			migrator.DryRun(os.Stdout, res.Migrations)
			return nil
		}

		paths, err := migrator.WriteScripts(outDir, res.Migrations)
		if err != nil {
			return cli.GeneralError("writing migrations", err)
		}
		if !quiet {
			for _, p := range paths {
				fmt.Println("Wrote", p)
			}
			fmt.Printf("Generated %d migrations in %s\n", len(res.Migrations), outDir)
		}
		return nil
	},
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&generateFlags.db, "db", "", "database URL")
	f.StringVar(&generateFlags.feed, "feed", "", "linter feed (JSON or YAML)")
	f.BoolVar(&generateFlags.noValidate, "no-validate", false, "skip semantic validation of policy rewrites")
	f.StringSliceVar(&generateFlags.discover, "discover", nil, "schemas to scan for consolidation candidates")
	f.IntVar(&generateFlags.concurrency, "concurrency", 0, "findings analyzed in parallel per analyzer")
	f.StringVar(&generateOut, "out", "", "output directory (default: output.dir)")
	f.BoolVar(&generateDryRun, "dry-run", false, "print migrations instead of writing them")
}
