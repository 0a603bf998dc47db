package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lehigh-university-libraries/birdid/internal/backends"
	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/lehigh-university-libraries/birdid/internal/images"
	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/lehigh-university-libraries/birdid/internal/present"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify <image>...",
		Short: "Identify the bird in one or more images",
		Long: `Classifies local JPEG/PNG files or image URLs with the configured backend and
prints the most likely species with the next three candidates.`,
		Example: `  birdid classify eagle.jpg
  BIRDID_BACKEND=onnx birdid classify ./photos/*.png
  birdid classify --json https://example.com/robin.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()

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

			fetcher := images.NewFetcher()
			failed := 0
			for _, location := range args {
				img, err := fetcher.Load(ctx, location)
				if err != nil {
					slog.Error("Unable to read image", "image", location, "err", err)
					failed++
					continue
				}

				result, err := c.Classify(ctx, img)
				if err != nil {
					slog.Error("Classification failed", "image", location, "err", err)
					failed++
					continue
				}

				if asJSON {
					err = printJSON(cmd.OutOrStdout(), location, result)
				} else {
					printResult(cmd.OutOrStdout(), location, result, cfg.Precision)
				}
				if err != nil {
					return err
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d images could not be classified", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per image")

	return cmd
}

func printResult(w io.Writer, location string, result models.ClassificationResult, precision int) {
	view := present.Build(result, precision)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(location)
	t.AppendHeader(table.Row{"", "Species", "Confidence"})
	if view.Headline != nil {
		t.AppendRow(table.Row{"Result", view.Headline.Label, view.Headline.Percent})
	}
	for _, e := range view.Others {
		t.AppendRow(table.Row{"", e.Label, e.Percent})
	}
	t.Render()
}

func printJSON(w io.Writer, location string, result models.ClassificationResult) error {
	return json.NewEncoder(w).Encode(struct {
		Image string `json:"image"`
		models.ClassificationResult
	}{location, result})
}
