package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/birdid/internal/eval/metrics"
	"gopkg.in/yaml.v3"
)

// EvalConfig represents the configuration section of the eval YAML
type EvalConfig struct {
	Backend     string `yaml:"backend"`
	Model       string `yaml:"model"`
	DatasetPath string `yaml:"datasetpath"`
	SampleSize  int    `yaml:"samplesize"`
	TopK        int    `yaml:"topk"`
	Timestamp   string `yaml:"timestamp"`
}

// EvalSummary holds the headline numbers of a run
type EvalSummary struct {
	Total        int     `yaml:"total"`
	Succeeded    int     `yaml:"succeeded"`
	Failed       int     `yaml:"failed"`
	Top1Accuracy float64 `yaml:"top1accuracy"`
	TopKAccuracy float64 `yaml:"topkaccuracy"`
	AverageMS    int64   `yaml:"averagems"`
}

// EvalResult represents a single evaluation result
type EvalResult struct {
	Image     string  `yaml:"image"`
	Expected  string  `yaml:"expected"`
	Predicted string  `yaml:"predicted,omitempty"`
	Score     float64 `yaml:"score,omitempty"`
	Rank      int     `yaml:"rank"`
	MS        int64   `yaml:"ms"`
	Error     string  `yaml:"error,omitempty"`
}

// EvalFile represents the complete evaluation file
type EvalFile struct {
	Config  EvalConfig   `yaml:"config"`
	Summary EvalSummary  `yaml:"summary"`
	Results []EvalResult `yaml:"results"`
}

// Build converts aggregated metrics into the YAML document
func Build(agg *metrics.AggregateResults, datasetPath string, timestamp string) EvalFile {
	doc := EvalFile{
		Config: EvalConfig{
			Backend:     agg.Backend,
			Model:       agg.Model,
			DatasetPath: datasetPath,
			SampleSize:  agg.TotalRecords,
			TopK:        agg.K,
			Timestamp:   timestamp,
		},
		Summary: EvalSummary{
			Total:        agg.TotalRecords,
			Succeeded:    agg.SuccessCount,
			Failed:       agg.FailureCount,
			Top1Accuracy: agg.Top1Accuracy,
			TopKAccuracy: agg.TopKAccuracy,
			AverageMS:    agg.AverageProcessingTime.Milliseconds(),
		},
		Results: make([]EvalResult, 0, len(agg.Results)),
	}

	for _, r := range agg.Results {
		doc.Results = append(doc.Results, EvalResult{
			Image:     r.Image,
			Expected:  r.Expected,
			Predicted: r.Predicted,
			Score:     r.Score,
			Rank:      r.Rank,
			MS:        r.ProcessingTime.Milliseconds(),
			Error:     r.Error,
		})
	}
	return doc
}

// SaveToYAML writes the results to <dir>/<model>-<timestamp>.yaml and returns the path
func SaveToYAML(dir, datasetPath string, agg *metrics.AggregateResults) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	doc := Build(agg, datasetPath, timestamp)

	// model ids contain slashes
	name := strings.ReplaceAll(agg.Model, "/", "_")
	filename := filepath.Join(dir, fmt.Sprintf("%s-%s.yaml", name, timestamp))

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write YAML file: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return filename, nil
	}
	return absPath, nil
}

// Load reads a previously saved eval file
func Load(path string) (*EvalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc EvalFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &doc, nil
}
