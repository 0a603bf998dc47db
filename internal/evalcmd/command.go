// Package evalcmd implements `birdid eval`.
package evalcmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/birdid/internal/backends"
	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/lehigh-university-libraries/birdid/internal/eval/dataset"
	"github.com/lehigh-university-libraries/birdid/internal/eval/metrics"
	"github.com/lehigh-university-libraries/birdid/internal/eval/results"
	"github.com/lehigh-university-libraries/birdid/internal/images"
	"github.com/spf13/cobra"
)

// NewCmd creates the eval command
func NewCmd() *cobra.Command {
	var (
		source      datasetSource
		topK        int
		concurrency int
		outputDir   string
		outputJSON  string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Measure identification accuracy against a labeled image dataset",
		Long: `Classifies every image of a labeled dataset with the configured backend and
reports top-1 and top-k accuracy, per-species accuracy and timing.

Files fetched with --hf-dataset are cached under --cache-dir and reused until
--force-download is given. Malformed JSONL lines are skipped unless --strict.

Datasets are Parquet or JSONL files with an "image" column (local path or URL)
and a "label" column. Relative image paths resolve against the dataset file.`,
		Example: `  # Evaluate 50 images with the local ONNX model
  BIRDID_BACKEND=onnx BIRDID_MODEL=org/vit-birds-onnx birdid eval --dataset ./birds/test.jsonl --sample 50

  # Evaluate a dataset file hosted on the hub
  birdid eval --hf-dataset org/birds --hf-file test.parquet --top-k 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			if cfg.TopK < topK {
				cfg.TopK = topK
			}

			records, datasetPath, err := source.load(ctx, cfg)
			if err != nil {
				return err
			}
			slog.Info("Dataset loaded", "path", datasetPath, "records", len(records), "species", len(dataset.Labels(records)))

			loader := classifier.NewLoader(func(ctx context.Context) (classifier.Classifier, error) {
				return backends.New(ctx, cfg)
			})
			c, err := loader.Get(ctx)
			if err != nil {
				return fmt.Errorf("failed to load model: %w", err)
			}
			defer func() {
				if err := loader.Close(); err != nil {
					slog.Error("Unable to release model", "err", err)
				}
			}()

			runner := &Runner{
				Classifier:  c,
				Images:      images.NewFetcher(),
				Concurrency: concurrency,
			}
			evaluated, runErr := runner.Run(ctx, records)
			evaluated = completed(evaluated)

			agg := metrics.Aggregate(evaluated, cfg.Backend, cfg.Model, topK)
			agg.PrintSummary(cmd.OutOrStdout())

			path, err := results.SaveToYAML(outputDir, datasetPath, agg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nEvaluation results saved to: %s\n", path)

			if outputJSON != "" {
				if err := agg.SaveToJSON(outputJSON); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&source.path, "dataset", "", "Path to a Parquet or JSONL dataset file")
	cmd.Flags().StringVar(&source.hfDataset, "hf-dataset", "", "Dataset repository on the hub, e.g. org/birds")
	cmd.Flags().StringVar(&source.hfFile, "hf-file", "test.jsonl", "File within --hf-dataset to download")
	cmd.Flags().StringVar(&source.cacheDir, "cache-dir", dataset.DefaultCacheDir, "Where --hf-dataset files are cached")
	cmd.Flags().BoolVar(&source.forceDownload, "force-download", false, "Download --hf-dataset again even when it is cached")
	cmd.Flags().BoolVar(&source.strict, "strict", false, "Fail on malformed dataset lines instead of skipping them")
	cmd.Flags().IntVar(&source.sample, "sample", 0, "Number of records to evaluate (0 for all)")
	cmd.Flags().IntVar(&topK, "top-k", 5, "Count a hit when the expected species is within the top k predictions")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Number of images classified in parallel")
	cmd.Flags().StringVar(&outputDir, "output-dir", "evals", "Directory for the YAML results file")
	cmd.Flags().StringVar(&outputJSON, "output-json", "", "Also write the aggregated results to this JSON file")

	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newReportCmd())

	return cmd
}

// datasetSource says where the records of an evaluation come from
type datasetSource struct {
	path          string
	hfDataset     string
	hfFile        string
	cacheDir      string
	forceDownload bool
	strict        bool
	sample        int
}

// load returns the records to evaluate and the local dataset path
func (s datasetSource) load(ctx context.Context, cfg config.Config) ([]dataset.Record, string, error) {
	var loader *dataset.Loader
	switch {
	case s.hfDataset != "":
		l, err := dataset.LoadOrDownload(ctx, s.hfDataset, s.hfFile, dataset.DownloadConfig{
			Endpoint:      cfg.HubEndpoint,
			Token:         cfg.HubToken,
			CacheDir:      s.cacheDir,
			ForceDownload: s.forceDownload,
		})
		if err != nil {
			return nil, "", err
		}
		loader = l
	case s.path != "":
		loader = dataset.NewLoader(s.path)
	default:
		return nil, "", fmt.Errorf("--dataset or --hf-dataset is required")
	}

	var (
		records []dataset.Record
		err     error
	)
	if s.strict {
		records, err = loader.Load()
		if err == nil && s.sample > 0 && len(records) > s.sample {
			records = records[:s.sample]
		}
	} else {
		records, err = loader.LoadSample(s.sample)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load dataset: %w", err)
	}
	if len(records) == 0 {
		return nil, "", fmt.Errorf("dataset %s has no usable records", loader.Path())
	}
	return records, loader.Path(), nil
}

// completed drops the slots of records that were never evaluated or were cut
// short by cancellation
func completed(evaluated []metrics.EvaluationResult) []metrics.EvaluationResult {
	out := evaluated[:0]
	for _, r := range evaluated {
		if r.Image != "" {
			out = append(out, r)
		}
	}
	return out
}
