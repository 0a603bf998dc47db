package evalcmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lehigh-university-libraries/birdid/internal/eval/dataset"
	"github.com/lehigh-university-libraries/birdid/internal/present"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var datasetPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the records and species distribution of a dataset",
		Example: `  # Preview the first 10 records
  birdid eval inspect --dataset ./birds/test.jsonl

  # Count species over the whole file
  birdid eval inspect --dataset ./birds/test.parquet --limit 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := dataset.NewLoader(datasetPath).LoadSample(limit)
			if err != nil {
				return fmt.Errorf("failed to load dataset: %w", err)
			}
			printInspection(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", "", "Path to parquet or jsonl dataset file (required)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of records to inspect (0 for all)")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func printInspection(w io.Writer, records []dataset.Record) {
	rows := table.NewWriter()
	rows.SetOutputMirror(w)
	rows.AppendHeader(table.Row{"#", "Image", "Label"})
	for i, r := range records {
		rows.AppendRow(table.Row{i + 1, r.Image, present.FormatLabel(r.Label)})
	}
	rows.Render()

	counts := make(map[string]int)
	for _, r := range records {
		counts[present.FormatLabel(r.Label)]++
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	dist := table.NewWriter()
	dist.SetOutputMirror(w)
	dist.AppendHeader(table.Row{"Species", "Images"})
	for _, l := range labels {
		dist.AppendRow(table.Row{l, counts[l]})
	}
	dist.AppendFooter(table.Row{"Total", len(records)})
	dist.Render()
}
