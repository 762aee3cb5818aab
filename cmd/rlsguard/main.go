// Package main provides the rlsguard CLI.
//
// The CLI supports:
//   - analyze: Classify linter findings and report ranked optimizations
//   - generate: Write validated migration scripts for those optimizations
//   - rewrite: Wrap auth function calls in a single policy expression
//   - config show: Print the effective configuration
//   - version: Print version information
//
// Commands that read the policy catalog or validate rewrites need --db or a
// database section in rlsguard.yaml. Without one, analysis runs offline and
// only index findings produce migrations.
//
// Usage:
//
//	rlsguard [flags] <command>
package main

func main() {
	Execute()
}
