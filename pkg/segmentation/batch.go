package segmentation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ventmapper/internal/models"
	"ventmapper/pkg/metrics"
)

// Factory builds a Segmenter for one worker. Each concurrent subject gets
// its own instance so backends never share scratch state.
type Factory func() (*Segmenter, error)

// Outcome is the result of one subject of a batch.
type Outcome struct {
	Subject string
	Result  *Result
	Err     error
}

// Status reports the outcome as done, skipped or failed.
func (o Outcome) Status() string {
	switch {
	case o.Err != nil:
		return metrics.StatusFailed
	case o.Result != nil && o.Result.Skipped:
		return metrics.StatusSkipped
	default:
		return metrics.StatusDone
	}
}

// Batch runs independent subjects on a bounded worker pool. A failing
// subject is recorded and never stops the others.
type Batch struct {
	Workers int
	Factory Factory
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Run processes subjects and returns one outcome per subject in input order.
// The returned error is non-nil only when ctx was cancelled.
func (b *Batch) Run(ctx context.Context, subjects []*models.Subject) ([]Outcome, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}

	outcomes := make([]Outcome, len(subjects))
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, subj := range subjects {
		i, subj := i, subj
		g.Go(func() error {
			out := Outcome{Subject: subj.ID}
			if err := gctx.Err(); err != nil {
				out.Err = err
			} else if seg, err := b.Factory(); err != nil {
				out.Err = err
			} else {
				out.Result, out.Err = seg.Process(gctx, subj)
			}
			outcomes[i] = out
			b.Metrics.Subject(out.Status())

			mu.Lock()
			done++
			progress := done
			mu.Unlock()
			if out.Err != nil {
				logger.Error("subject failed",
					zap.String("subject", subj.ID),
					zap.Int("done", progress),
					zap.Int("total", len(subjects)),
					zap.Error(out.Err))
			} else {
				logger.Info("subject finished",
					zap.String("subject", subj.ID),
					zap.String("status", out.Status()),
					zap.Int("done", progress),
					zap.Int("total", len(subjects)))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, ctx.Err()
}

// RunBatch runs subjects on workers concurrent segmenters built by factory.
func RunBatch(ctx context.Context, subjects []*models.Subject, workers int, factory Factory) ([]Outcome, error) {
	b := &Batch{Workers: workers, Factory: factory}
	return b.Run(ctx, subjects)
}

// Failed returns the outcomes that ended in an error.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// IsPrecondition reports whether err means nothing was attempted.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}
