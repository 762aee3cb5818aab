// Package workpool runs independent jobs on a bounded number of goroutines
// while keeping results in input order.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies fn to every item using at most limit goroutines and returns
// the kept results in input order. fn reports whether its result is kept.
// A limit below 1 runs the items one at a time.
//
// Map stops scheduling new items once ctx is cancelled and returns ctx.Err().
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, bool)) ([]R, error) {
	if limit < 1 {
		limit = 1
	}
	type slot struct {
		value R
		keep  bool
	}
	slots := make([]slot, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, keep := fn(gctx, item)
			slots[i] = slot{value: v, keep: keep}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]R, 0, len(items))
	for _, s := range slots {
		if s.keep {
			out = append(out, s.value)
		}
	}
	return out, nil
}

// FlatMap is Map for jobs that yield any number of results.
func FlatMap[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) []R) ([]R, error) {
	groups, err := Map(ctx, limit, items, func(ctx context.Context, item T) ([]R, bool) {
		return fn(ctx, item), true
	})
	if err != nil {
		return nil, err
	}
	var out []R
	for _, g := range groups {
		out = append(out, g...)
	}
	return out, nil
}
