package rlsguard

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/pthm/rlsguard/pkg/analyzer"
	"github.com/pthm/rlsguard/pkg/database"
	"github.com/pthm/rlsguard/pkg/estimator"
	"github.com/pthm/rlsguard/pkg/migrator"
	"github.com/pthm/rlsguard/pkg/model"
	"github.com/pthm/rlsguard/pkg/optimizer"
	"github.com/pthm/rlsguard/pkg/parser"
	"github.com/pthm/rlsguard/pkg/validator"
)

// Pipeline runs classification, analysis, validation, ranking and
// migration generation over one batch of findings.
type Pipeline struct {
	conn        database.Connection
	log         hclog.Logger
	concurrency int
	validate    bool
	contexts    []model.UserContext
	discover    []string
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger passed to every stage.
func WithLogger(log hclog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithConcurrency bounds how many findings each analyzer handles in parallel.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithValidation enables semantic validation of policy candidates. With no
// contexts, validator.DefaultUserContexts is used for each candidate.
func WithValidation(enabled bool, contexts ...model.UserContext) Option {
	return func(p *Pipeline) {
		p.validate = enabled
		p.contexts = contexts
	}
}

// WithCatalogDiscovery adds consolidation candidates found by listing the
// policies of the given schemas, in addition to the feed's findings.
func WithCatalogDiscovery(schemas ...string) Option {
	return func(p *Pipeline) { p.discover = schemas }
}

// WithClock overrides the time source for index age checks and migration
// IDs.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New returns a Pipeline. A nil conn analyzes offline.
func New(conn database.Connection, opts ...Option) *Pipeline {
	p := &Pipeline{
		conn:        database.OrOffline(conn),
		log:         hclog.NewNullLogger(),
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rejection records a candidate dropped by validation.
type Rejection struct {
	Type   estimator.Kind
	Target string
	Reason string
}

// Error implements error; a Rejection wraps ErrValidationRejected.
func (r Rejection) Error() string {
	return fmt.Sprintf("%s %s: %s", r.Type, r.Target, r.Reason)
}

func (r Rejection) Unwrap() error { return ErrValidationRejected }

// Result is everything a run produced.
type Result struct {
	Classified     parser.Classified
	RLS            []model.RLSOptimization
	Consolidations []model.PolicyConsolidation
	Indexes        []model.IndexOptimization
	Rejected       []Rejection
	Ranked         []estimator.Ranked
	Migrations     []model.MigrationScript
}

// Analyze classifies warnings, derives candidates, validates them when
// enabled, and ranks the survivors. A rewrite of a policy that a
// consolidation merges is carried into the consolidation instead of being
// returned on its own. It fails only if ctx is cancelled.
func (p *Pipeline) Analyze(ctx context.Context, warnings []model.RawWarning) (*Result, error) {
	res := &Result{Classified: parser.NewClassifier(p.log.Named("parser")).Classify(warnings)}

	permissive := res.Classified.MultiplePermissive
	if len(p.discover) > 0 {
		discovered, err := p.discoverCandidates(ctx)
		if err != nil {
			return nil, err
		}
		permissive = mergeCandidates(permissive, discovered)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a := analyzer.NewRLSAnalyzer(p.conn,
			analyzer.WithLogger(p.log.Named("rls")),
			analyzer.WithConcurrency(p.concurrency))
		var err error
		res.RLS, err = a.Analyze(gctx, res.Classified.RLSAuth)
		return err
	})
	g.Go(func() error {
		c := optimizer.NewPolicyConsolidator(p.conn,
			optimizer.WithLogger(p.log.Named("consolidate")),
			optimizer.WithConcurrency(p.concurrency))
		var err error
		res.Consolidations, err = c.Consolidate(gctx, permissive)
		return err
	})
	g.Go(func() error {
		a := analyzer.NewIndexAnalyzer(p.conn,
			analyzer.WithLogger(p.log.Named("indexes")),
			analyzer.WithConcurrency(p.concurrency),
			analyzer.WithClock(p.now))
		var err error
		res.Indexes, err = a.Analyze(gctx, res.Classified.DuplicateIndexes, res.Classified.UnusedIndexes, res.Classified.UnindexedFKs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rewrites := len(res.RLS)
	res.Consolidations, res.RLS = optimizer.ApplyRewrites(res.Consolidations, res.RLS)
	if folded := rewrites - len(res.RLS); folded > 0 {
		p.log.Debug("folded policy rewrites into consolidations", "count", folded)
	}

	if p.validate {
		p.applyValidation(ctx, res)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	res.Ranked = estimator.RankByImpact(res.RLS, res.Consolidations, res.Indexes)
	p.log.Info("analysis complete",
		"findings", len(warnings),
		"rls", len(res.RLS),
		"consolidations", len(res.Consolidations),
		"indexes", len(res.Indexes),
		"rejected", len(res.Rejected))
	return res, nil
}

// Run is Analyze followed by migration generation.
func (p *Pipeline) Run(ctx context.Context, warnings []model.RawWarning) (*Result, error) {
	res, err := p.Analyze(ctx, warnings)
	if err != nil {
		return nil, err
	}
	gen := migrator.NewGenerator(migrator.WithLogger(p.log.Named("migrator")), migrator.WithClock(p.now))
	res.Migrations = gen.Generate(res.RLS, res.Consolidations, res.Indexes)
	return res, nil
}

func (p *Pipeline) executor() validator.Executor {
	if e, ok := p.conn.(validator.Executor); ok {
		return e
	}
	return nil
}

func (p *Pipeline) applyValidation(ctx context.Context, res *Result) {
	v := validator.New(p.executor(), validator.WithLogger(p.log.Named("validator")))

	var rls []model.RLSOptimization
	for _, opt := range res.RLS {
		ok, reason := v.ValidateRLSOptimization(ctx, opt, p.contexts)
		if ok {
			rls = append(rls, opt)
			continue
		}
		res.Rejected = append(res.Rejected, Rejection{
			Type:   estimator.KindRLS,
			Target: fmt.Sprintf("%s.%s.%s", opt.Warning.SchemaName, opt.Warning.TableName, opt.Warning.PolicyName),
			Reason: reason,
		})
	}
	res.RLS = rls

	var consolidations []model.PolicyConsolidation
	for _, c := range res.Consolidations {
		ok, reason := v.ValidatePolicyConsolidation(ctx, c, p.contexts)
		if ok {
			consolidations = append(consolidations, c)
			continue
		}
		res.Rejected = append(res.Rejected, Rejection{
			Type:   estimator.KindConsolidation,
			Target: fmt.Sprintf("%s.%s.%s", c.Warning.SchemaName, c.Warning.TableName, c.ConsolidatedPolicy.Name),
			Reason: reason,
		})
	}
	res.Consolidations = consolidations
}

func (p *Pipeline) discoverCandidates(ctx context.Context) ([]model.MultiplePermissiveWarning, error) {
	var out []model.MultiplePermissiveWarning
	for _, schema := range p.discover {
		refs, err := p.conn.ListPolicies(ctx, schema)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.log.Warn("failed to list policies", "schema", schema, "error", err)
			continue
		}
		out = append(out, optimizer.IdentifyConsolidationCandidates(refs)...)
	}
	return out, nil
}

// mergeCandidates appends discovered findings whose (schema, table, role,
// action) is not already reported.
func mergeCandidates(feed, discovered []model.MultiplePermissiveWarning) []model.MultiplePermissiveWarning {
	type key struct{ schema, table, role, action string }
	seen := make(map[key]bool, len(feed))
	for _, w := range feed {
		seen[key{w.SchemaName, w.TableName, w.Role, w.Action}] = true
	}
	out := append([]model.MultiplePermissiveWarning(nil), feed...)
	for _, w := range discovered {
		k := key{w.SchemaName, w.TableName, w.Role, w.Action}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, w)
	}
	return out
}
