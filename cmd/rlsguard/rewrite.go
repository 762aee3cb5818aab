package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pthm/rlsguard/internal/cli"
	"github.com/pthm/rlsguard/pkg/optimizer"
)

var rewriteFunctions bool

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <expression|->",
	Short: "Optimize a policy expression",
	Long: `Wrap every auth.uid(), auth.jwt() and auth.role() call in a scalar subquery
so it is evaluated once per statement. Use - to read the expression from stdin.`,
	Example: `  rlsguard rewrite "user_id = auth.uid()"
  # user_id = (SELECT auth.uid())

  echo "org_id = (auth.jwt() ->> 'org')" | rlsguard rewrite -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expr := args[0]
		if expr == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return cli.GeneralError("reading stdin", err)
			}
			expr = strings.TrimSpace(string(b))
		}

		out := cmd.OutOrStdout()
		if rewriteFunctions {
			for _, fn := range optimizer.ExtractAuthFunctions(expr) {
				_, _ = fmt.Fprintln(out, fn)
			}
			return nil
		}
		if !optimizer.NeedsOptimization(expr) {
			fmt.Fprintln(os.Stderr, "-- expression is already optimized")
		}
		_, _ = fmt.Fprintln(out, optimizer.Optimize(expr))
		return nil
	},
}

func init() {
	rewriteCmd.Flags().BoolVar(&rewriteFunctions, "functions", false, "list the auth functions the expression calls")
}
