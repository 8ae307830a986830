package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds concurrent runs when the caller passes zero.
const DefaultBatchConcurrency = 4

// BatchResult is the outcome of one batch item.
type BatchResult struct {
	Index   int
	Request Request
	Result  *Result
	Err     error
}

// RunBatch runs every request through its own state machine, at most
// concurrency at a time. Results are in input order. A failing item is
// reported in its Err and never cancels its siblings.
func (r *Runner) RunBatch(ctx context.Context, reqs []Request, concurrency int) []BatchResult {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]BatchResult, len(reqs))

	var eg errgroup.Group
	eg.SetLimit(concurrency)
	for i, req := range reqs {
		eg.Go(func() error {
			res, err := r.RunStory(ctx, req)
			if err != nil {
				r.logger.Warn("Batch item failed", "index", i, "error", err)
			}
			// Each goroutine writes only its own slot.
			results[i] = BatchResult{Index: i, Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	return results
}

// Failed returns the number of failed items.
func Failed(results []BatchResult) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}
