package analyzer

import (
	"context"

	"github.com/pthm/rlsguard/internal/workpool"
	"github.com/pthm/rlsguard/pkg/estimator"
	"github.com/pthm/rlsguard/pkg/model"
	"github.com/pthm/rlsguard/pkg/optimizer"
)

// RLSAnalyzer proposes auth-function rewrites for policies flagged as
// re-evaluating auth calls per row.
type RLSAnalyzer struct {
	source optimizer.PolicySource
	opts   options
}

// NewRLSAnalyzer returns an RLSAnalyzer reading policies from source.
func NewRLSAnalyzer(source optimizer.PolicySource, opts ...Option) *RLSAnalyzer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RLSAnalyzer{source: source, opts: o}
}

// Analyze returns one optimization per finding whose policy exists, has a
// USING clause, and still needs rewriting.
func (a *RLSAnalyzer) Analyze(ctx context.Context, warnings []model.RLSAuthWarning) ([]model.RLSOptimization, error) {
	return workpool.Map(ctx, a.opts.concurrency, warnings, a.analyzeOne)
}

func (a *RLSAnalyzer) analyzeOne(ctx context.Context, w model.RLSAuthWarning) (model.RLSOptimization, bool) {
	log := a.opts.log.With("schema", w.SchemaName, "table", w.TableName, "policy", w.PolicyName)

	def, err := a.source.GetPolicyDefinition(ctx, w.SchemaName, w.TableName, w.PolicyName)
	if err != nil {
		log.Warn("failed to fetch policy", "error", err)
		return model.RLSOptimization{}, false
	}
	if def == nil {
		log.Debug("policy not found")
		return model.RLSOptimization{}, false
	}
	if def.Using == "" {
		log.Debug("policy has no USING clause")
		return model.RLSOptimization{}, false
	}
	if !optimizer.NeedsOptimization(def.Using) && !optimizer.NeedsOptimization(def.WithCheck) {
		log.Debug("policy already optimized")
		return model.RLSOptimization{}, false
	}

	if len(w.AuthFunctions) == 0 {
		w.AuthFunctions = optimizer.ExtractAuthFunctions(def.Using + " " + def.WithCheck)
	}
	opt := model.RLSOptimization{
		Warning:      w,
		OriginalSQL:  def.Using,
		OptimizedSQL: optimizer.Optimize(def.Using),
		Policy:       def,
	}
	if def.WithCheck != "" {
		opt.OptimizedWithCheck = optimizer.Optimize(def.WithCheck)
	}
	opt.EstimatedImpact = estimator.EstimateRLSImpact(opt)
	log.Debug("proposed policy rewrite")
	return opt, true
}
