package models

import "time"

// UploadedImage is an image received from the user for a single classification
type UploadedImage struct {
	Filename string
	Format   string // "jpeg" or "png"
	Data     []byte
}

// Prediction is one ranked label returned by a classifier
type Prediction struct {
	Label string  `json:"label" yaml:"label"`
	Score float64 `json:"score" yaml:"score"`
}

// ClassificationResult holds predictions ordered by descending score
type ClassificationResult struct {
	Model       string       `json:"model"`
	Backend     string       `json:"backend"`
	Predictions []Prediction `json:"predictions"`
}

// Top returns the best prediction, or false when the result is empty
func (r ClassificationResult) Top() (Prediction, bool) {
	if len(r.Predictions) == 0 {
		return Prediction{}, false
	}
	return r.Predictions[0], true
}

// ClassificationSession records one upload and its outcome
type ClassificationSession struct {
	ID          string       `json:"id"`
	Filename    string       `json:"filename"`
	ImageFormat string       `json:"image_format"`
	Source      string       `json:"source"` // "upload" or "url"
	Model       string       `json:"model"`
	Backend     string       `json:"backend"`
	Predictions []Prediction `json:"predictions,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
