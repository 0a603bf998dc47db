package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/lehigh-university-libraries/birdid/internal/present"
)

// EvaluationResult is the outcome of classifying a single dataset image
type EvaluationResult struct {
	Image          string              `json:"image"`
	Expected       string              `json:"expected"`
	Predicted      string              `json:"predicted,omitempty"`
	Score          float64             `json:"score,omitempty"`
	Rank           int                 `json:"rank"` // 1-based position of Expected, 0 when absent
	Predictions    []models.Prediction `json:"predictions,omitempty"`
	ProcessingTime time.Duration       `json:"processing_time"`
	Error          string              `json:"error,omitempty"`
}

// NewResult scores predictions against the expected label
func NewResult(image, expected string, predictions []models.Prediction) EvaluationResult {
	result := EvaluationResult{
		Image:       image,
		Expected:    expected,
		Predictions: predictions,
	}
	if len(predictions) > 0 {
		result.Predicted = predictions[0].Label
		result.Score = predictions[0].Score
	}
	result.Rank = RankOf(expected, predictions)
	return result
}

// RankOf returns the 1-based position of label in predictions, or 0
func RankOf(label string, predictions []models.Prediction) int {
	want := present.NormalizeLabel(label)
	for i, p := range predictions {
		if present.NormalizeLabel(p.Label) == want {
			return i + 1
		}
	}
	return 0
}

// SpeciesStats holds per-label accuracy
type SpeciesStats struct {
	Label   string  `json:"label"`
	Total   int     `json:"total"`
	Correct int     `json:"correct"`
	InTopK  int     `json:"in_top_k"`
	Top1    float64 `json:"top1_accuracy"`
}

// AggregateResults represents aggregated evaluation metrics
type AggregateResults struct {
	TotalRecords int `json:"total_records"`
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`

	K            int     `json:"k"`
	Top1Accuracy float64 `json:"top1_accuracy"`
	TopKAccuracy float64 `json:"topk_accuracy"`

	Species []SpeciesStats `json:"species"`

	AverageProcessingTime time.Duration `json:"average_processing_time"`
	TotalProcessingTime   time.Duration `json:"total_processing_time"`

	Results []EvaluationResult `json:"results"`

	EvaluationDate time.Time `json:"evaluation_date"`
	Backend        string    `json:"backend"`
	Model          string    `json:"model"`
}

// Aggregate computes accuracy over results. Failed results count against accuracy.
func Aggregate(results []EvaluationResult, backend, model string, k int) *AggregateResults {
	if k < 1 {
		k = 1
	}
	agg := &AggregateResults{
		TotalRecords:   len(results),
		K:              k,
		Results:        results,
		EvaluationDate: time.Now(),
		Backend:        backend,
		Model:          model,
	}

	species := make(map[string]*SpeciesStats)
	var top1, topK int
	var successDuration time.Duration

	for _, result := range results {
		agg.TotalProcessingTime += result.ProcessingTime

		key := present.NormalizeLabel(result.Expected)
		stats, ok := species[key]
		if !ok {
			stats = &SpeciesStats{Label: present.FormatLabel(result.Expected)}
			species[key] = stats
		}
		stats.Total++

		if result.Error != "" {
			agg.FailureCount++
			continue
		}
		agg.SuccessCount++
		successDuration += result.ProcessingTime

		if result.Rank == 1 {
			top1++
			stats.Correct++
		}
		if result.Rank >= 1 && result.Rank <= k {
			topK++
			stats.InTopK++
		}
	}

	if agg.TotalRecords > 0 {
		agg.Top1Accuracy = float64(top1) / float64(agg.TotalRecords)
		agg.TopKAccuracy = float64(topK) / float64(agg.TotalRecords)
	}
	if agg.SuccessCount > 0 {
		agg.AverageProcessingTime = successDuration / time.Duration(agg.SuccessCount)
	}

	for _, stats := range species {
		stats.Top1 = float64(stats.Correct) / float64(stats.Total)
		agg.Species = append(agg.Species, *stats)
	}
	sort.Slice(agg.Species, func(i, j int) bool {
		if agg.Species[i].Total != agg.Species[j].Total {
			return agg.Species[i].Total > agg.Species[j].Total
		}
		return agg.Species[i].Label < agg.Species[j].Label
	})

	return agg
}

// PrintSummary writes a human-readable summary of the evaluation
func (a *AggregateResults) PrintSummary(w io.Writer) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetTitle("BIRD IDENTIFICATION EVALUATION")
	summary.AppendRows([]table.Row{
		{"Date", a.EvaluationDate.Format("2006-01-02 15:04:05")},
		{"Backend", a.Backend},
		{"Model", a.Model},
		{"Records", a.TotalRecords},
		{"Successful", a.SuccessCount},
		{"Failed", a.FailureCount},
		{"Top-1 accuracy", present.FormatPercent(a.Top1Accuracy, 2)},
		{fmt.Sprintf("Top-%d accuracy", a.K), present.FormatPercent(a.TopKAccuracy, 2)},
		{"Average time", a.AverageProcessingTime.Round(time.Millisecond)},
		{"Total time", a.TotalProcessingTime.Round(time.Millisecond)},
	})
	summary.Render()

	if len(a.Species) == 0 {
		return
	}
	perSpecies := table.NewWriter()
	perSpecies.SetOutputMirror(w)
	perSpecies.AppendHeader(table.Row{"Species", "Images", "Correct", fmt.Sprintf("In top %d", a.K), "Top-1"})
	for _, s := range a.Species {
		perSpecies.AppendRow(table.Row{s.Label, s.Total, s.Correct, s.InTopK, present.FormatPercent(s.Top1, 1)})
	}
	perSpecies.Render()
}

// SaveToJSON saves the aggregate results to a JSON file
func (a *AggregateResults) SaveToJSON(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(a); err != nil {
		return fmt.Errorf("failed to encode results to JSON: %w", err)
	}
	return nil
}
