// Package hfinference classifies images through a hosted image-classification
// pipeline that accepts raw image bytes and answers with ranked labels.
package hfinference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/models"
)

const backendName = "hf-inference"

// Client calls {Endpoint}/models/{Model}
type Client struct {
	Endpoint   string
	Model      string
	Token      string
	TopK       int
	HTTPClient *http.Client
}

func New(endpoint, model, token string, topK int) *Client {
	return &Client{
		Endpoint: endpoint,
		Model:    model,
		Token:    token,
		TopK:     topK,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

func (c *Client) Classify(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error) {
	url := fmt.Sprintf("%s/models/%s", c.Endpoint, c.Model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(img.Data))
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/"+img.Format)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("failed to call inference API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return models.ClassificationResult{}, fmt.Errorf("inference API returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return models.ClassificationResult{}, fmt.Errorf("inference API returned status %d: %s", resp.StatusCode, string(body))
	}

	var predictions []models.Prediction
	if err := json.Unmarshal(body, &predictions); err != nil {
		return models.ClassificationResult{}, fmt.Errorf("failed to decode inference response: %w", err)
	}

	ranked := classifier.Rank(predictions, c.TopK)
	if len(ranked) == 0 {
		return models.ClassificationResult{}, classifier.ErrEmptyResult
	}

	slog.Debug("Inference API answered", "model", c.Model, "predictions", len(ranked), "top", ranked[0].Label)
	return models.ClassificationResult{Model: c.Model, Backend: backendName, Predictions: ranked}, nil
}
