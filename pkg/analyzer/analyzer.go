// Package analyzer turns classified findings into optimization candidates by
// consulting the database catalog.
//
// RLSAnalyzer proposes auth-function rewrites for slow policies and
// IndexAnalyzer proposes index removals and foreign-key indexes:
//
//	conn := database.NewPostgres(db)
//	rls, err := analyzer.NewRLSAnalyzer(conn).Analyze(ctx, classified.RLSAuth)
//	idx, err := analyzer.NewIndexAnalyzer(conn).Analyze(ctx,
//	    classified.DuplicateIndexes, classified.UnusedIndexes, classified.UnindexedFKs)
//
// A lookup failure affects only the finding that triggered it; that finding
// is logged and skipped. The returned error is non-nil only when the context
// is cancelled.
package analyzer

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

type options struct {
	log         hclog.Logger
	concurrency int
	now         func() time.Time
}

func defaultOptions() options {
	return options{
		log:         hclog.NewNullLogger(),
		concurrency: 1,
		now:         time.Now,
	}
}

// Option configures an analyzer.
type Option func(*options)

// WithLogger sets the logger used to report skipped findings.
func WithLogger(log hclog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithConcurrency bounds how many findings are analyzed in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithClock overrides the time source used to judge index age.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
