// Package rlsguard turns database linter findings about row-level security
// and index health into validated, reversible SQL migrations.
//
// # Pipeline
//
// A run classifies the raw findings, derives optimization candidates from
// them using the database catalog, optionally proves each policy candidate
// equivalent to what it replaces, ranks the survivors by expected impact,
// and renders migration scripts:
//
//	warnings, err := parser.ReadFeed("lint.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	p := rlsguard.New(database.NewPostgres(db), rlsguard.WithValidation(true))
//	result, err := p.Run(ctx, warnings)
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, err = migrator.WriteScripts("migrations", result.Migrations)
//
// # Optimizations
//
// Five finding families are handled:
//
//   - auth_rls_initplan: auth.uid(), auth.jwt() and auth.role() calls are
//     wrapped in scalar subqueries so they run once per statement.
//   - multiple_permissive_policies: permissive policies for the same table,
//     role and action are merged into one policy joined with OR.
//   - duplicate_index: all but one of a set of identical indexes are dropped.
//   - unused_index: never-scanned indexes are dropped, unless they back a
//     constraint or were created recently.
//   - unindexed_foreign_keys: a covering index is created.
//
// # Offline Analysis
//
// With a nil connection the pipeline runs against database.Offline. Policy
// findings cannot be resolved offline and produce nothing; index findings
// fall back to neutral defaults.
//
// # Subpackages
//
//   - pkg/parser: feed decoding and classification
//   - pkg/optimizer: auth-function rewriting and policy consolidation
//   - pkg/analyzer: RLS and index remediation
//   - pkg/estimator: impact estimation and ranking
//   - pkg/validator: semantic equivalence checks
//   - pkg/migrator: migration script generation and file output
//   - pkg/database: catalog access
package rlsguard
