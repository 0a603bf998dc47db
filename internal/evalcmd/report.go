package evalcmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lehigh-university-libraries/birdid/internal/eval/results"
	"github.com/lehigh-university-libraries/birdid/internal/present"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var format string
	var failuresOnly bool

	cmd := &cobra.Command{
		Use:   "report <results.yaml>",
		Short: "Print a saved evaluation",
		Args:  cobra.ExactArgs(1),
		Example: `  birdid eval report evals/nateraw_vit-base-birds-2025-01-02_15-04-05.yaml
  birdid eval report --failures --format csv evals/run.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := results.Load(args[0])
			if err != nil {
				return err
			}
			return executeReport(cmd.OutOrStdout(), doc, format, failuresOnly)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json or csv")
	cmd.Flags().BoolVar(&failuresOnly, "failures", false, "Only show images whose top-1 label was wrong")

	return cmd
}

func executeReport(w io.Writer, doc *results.EvalFile, format string, failuresOnly bool) error {
	rows := doc.Results
	if failuresOnly {
		rows = rows[:0:0]
		for _, r := range doc.Results {
			if r.Rank != 1 {
				rows = append(rows, r)
			}
		}
	}

	switch format {
	case "text":
		printTextReport(w, doc, rows)
		return nil
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "csv":
		return printCSVReport(w, rows)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printTextReport(w io.Writer, doc *results.EvalFile, rows []results.EvalResult) {
	fmt.Fprintf(w, "Backend: %s  Model: %s  Dataset: %s\n", doc.Config.Backend, doc.Config.Model, doc.Config.DatasetPath)
	fmt.Fprintf(w, "Top-1: %s  Top-%d: %s  (%d images, %d failed)\n",
		present.FormatPercent(doc.Summary.Top1Accuracy, 2),
		doc.Config.TopK,
		present.FormatPercent(doc.Summary.TopKAccuracy, 2),
		doc.Summary.Total,
		doc.Summary.Failed)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Image", "Expected", "Predicted", "Confidence", "Rank", "Error"})
	for _, r := range rows {
		rank := "-"
		if r.Rank > 0 {
			rank = strconv.Itoa(r.Rank)
		}
		t.AppendRow(table.Row{
			r.Image,
			present.FormatLabel(r.Expected),
			present.FormatLabel(r.Predicted),
			present.FormatPercent(r.Score, 2),
			rank,
			r.Error,
		})
	}
	t.Render()
}

func printCSVReport(w io.Writer, rows []results.EvalResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"image", "expected", "predicted", "score", "rank", "ms", "error"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Image,
			r.Expected,
			r.Predicted,
			strconv.FormatFloat(r.Score, 'f', 4, 64),
			strconv.Itoa(r.Rank),
			strconv.FormatInt(r.MS, 10),
			r.Error,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
