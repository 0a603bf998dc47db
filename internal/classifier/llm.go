package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/lehigh-university-libraries/birdid/internal/providers"
)

// LLM classifies images by prompting a vision-capable model provider
type LLM struct {
	Provider    providers.Provider
	Name        string
	Model       string
	TopK        int
	Temperature float64
}

func (l *LLM) Classify(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error) {
	raw, err := l.Provider.ExtractText(ctx, providers.Config{
		Model:       l.Model,
		Temperature: l.Temperature,
		Prompt:      buildPrompt(l.TopK),
		Image:       img.Data,
		ImageFormat: img.Format,
	})
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("%s request failed: %w", l.Name, err)
	}

	predictions, err := parsePredictions(raw)
	if err != nil {
		return models.ClassificationResult{}, err
	}

	ranked := Rank(predictions, l.TopK)
	if len(ranked) == 0 {
		return models.ClassificationResult{}, ErrEmptyResult
	}

	slog.Debug("Classified image", "backend", l.Name, "model", l.Model, "top", ranked[0].Label)
	return models.ClassificationResult{Model: l.Model, Backend: l.Name, Predictions: ranked}, nil
}

func buildPrompt(topK int) string {
	if topK <= 0 {
		topK = 5
	}
	return fmt.Sprintf(`You are an expert ornithologist. Identify the bird species in the photograph.

Give up to %d candidate species ranked from most to least likely. Use the common English name
in lower case with words joined by underscores (for example "bald_eagle"). Scores are your
confidence between 0 and 1 and must not add up to more than 1.

OUTPUT FORMAT:
Respond with ONLY a JSON object in the following format:

{
  "predictions": [
    {"label": "bald_eagle", "score": 0.92},
    {"label": "golden_eagle", "score": 0.05}
  ]
}

If there is no bird in the image respond with {"predictions": []}.`, topK)
}

// parsePredictions reads the model answer, tolerating markdown code fences and a bare array
func parsePredictions(response string) ([]models.Prediction, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var wrapped struct {
		Predictions []flexPrediction `json:"predictions"`
	}
	if err := json.Unmarshal([]byte(response), &wrapped); err == nil {
		return toPredictions(wrapped.Predictions), nil
	}

	var bare []flexPrediction
	if err := json.Unmarshal([]byte(response), &bare); err != nil {
		slog.Warn("Failed to parse model response", "error", err, "response", response)
		return nil, fmt.Errorf("unreadable model response: %w", err)
	}
	return toPredictions(bare), nil
}

// flexPrediction accepts scores written as numbers, numeric strings or percentages
type flexPrediction struct {
	Label string          `json:"label"`
	Score json.RawMessage `json:"score"`
}

func toPredictions(in []flexPrediction) []models.Prediction {
	out := make([]models.Prediction, 0, len(in))
	for _, p := range in {
		out = append(out, models.Prediction{Label: strings.TrimSpace(p.Label), Score: parseScore(p.Score)})
	}
	return out
}

func parseScore(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0
	}
	if percent {
		f /= 100
	}
	return f
}
