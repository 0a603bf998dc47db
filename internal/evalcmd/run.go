package evalcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/eval/dataset"
	"github.com/lehigh-university-libraries/birdid/internal/eval/metrics"
	"github.com/lehigh-university-libraries/birdid/internal/models"
	"golang.org/x/sync/errgroup"
)

// ImageLoader reads an image from a local path or URL
type ImageLoader interface {
	Load(ctx context.Context, location string) (models.UploadedImage, error)
}

// Runner classifies every record of a dataset
type Runner struct {
	Classifier  classifier.Classifier
	Images      ImageLoader
	Concurrency int
}

// Run returns one result per record, in dataset order. A record that cannot be
// loaded or classified yields a result with Error set; Run itself only fails
// when ctx is canceled.
func (r *Runner) Run(ctx context.Context, records []dataset.Record) ([]metrics.EvaluationResult, error) {
	results := make([]metrics.EvaluationResult, len(records))

	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var done atomic.Int64
	for i, record := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.evaluate(gctx, record)
			if results[i].Image == "" {
				return gctx.Err()
			}
			slog.Info("Evaluated image",
				"progress", fmt.Sprintf("%d/%d", done.Add(1), len(records)),
				"expected", record.Label,
				"predicted", results[i].Predicted,
				"rank", results[i].Rank)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("evaluation interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("evaluation interrupted: %w", err)
	}
	return results, nil
}

func (r *Runner) evaluate(ctx context.Context, record dataset.Record) metrics.EvaluationResult {
	start := time.Now()
	fail := func(err error) metrics.EvaluationResult {
		// an interrupted record is left unevaluated
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return metrics.EvaluationResult{}
		}
		return metrics.EvaluationResult{
			Image:          record.Image,
			Expected:       record.Label,
			ProcessingTime: time.Since(start),
			Error:          err.Error(),
		}
	}

	img, err := r.Images.Load(ctx, record.Image)
	if err != nil {
		return fail(fmt.Errorf("failed to load image: %w", err))
	}

	res, err := r.Classifier.Classify(ctx, img)
	if err != nil {
		return fail(fmt.Errorf("classification failed: %w", err))
	}

	result := metrics.NewResult(record.Image, record.Label, res.Predictions)
	result.ProcessingTime = time.Since(start)
	return result
}
