package pipeline

import (
	"context"
	"sync"
)

// ClassifyBatch classifies paths with at most concurrency images in flight. Outcomes are
// returned in input order; per-image errors are recorded in Outcome.Err and never stop
// the batch. onDone, if set, is called once per image as it finishes.
func (p *Pipeline) ClassifyBatch(ctx context.Context, paths []string, concurrency int, onDone func(Outcome)) []Outcome {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]Outcome, len(paths))

	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var out Outcome
			if err := ctx.Err(); err != nil {
				out = Outcome{Path: path, Stage: AwaitingLandmarks, Err: err}
			} else {
				out, _ = p.ClassifyFile(ctx, path)
			}
			outcomes[i] = out

			if out.Err != nil {
				p.logger.Warnw("image failed", "path", path, "stage", out.Stage, "error", out.Err)
			}
			if onDone != nil {
				mu.Lock()
				onDone(out)
				mu.Unlock()
			}
		}(i, path)
	}

	wg.Wait()
	return outcomes
}
