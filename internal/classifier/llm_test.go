package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/lehigh-university-libraries/birdid/internal/providers"
)

type stubProvider struct {
	response string
	err      error
	got      providers.Config
}

func (s *stubProvider) ExtractText(ctx context.Context, config providers.Config) (string, error) {
	s.got = config
	return s.response, s.err
}

func TestParsePredictions(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected []models.Prediction
		wantErr  bool
	}{
		{
			name:     "wrapped object",
			response: `{"predictions":[{"label":"bald_eagle","score":0.9}]}`,
			expected: []models.Prediction{{Label: "bald_eagle", Score: 0.9}},
		},
		{
			name:     "markdown fence",
			response: "```json\n{\"predictions\":[{\"label\":\"osprey\",\"score\":0.5}]}\n```",
			expected: []models.Prediction{{Label: "osprey", Score: 0.5}},
		},
		{
			name:     "bare array with string scores",
			response: `[{"label":"kestrel","score":"40%"},{"label":"merlin","score":"0.2"}]`,
			expected: []models.Prediction{{Label: "kestrel", Score: 0.4}, {Label: "merlin", Score: 0.2}},
		},
		{
			name:     "not json",
			response: "It looks like an eagle to me.",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePredictions(tt.response)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d predictions, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Prediction %d: expected %+v, got %+v", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestLLMClassify(t *testing.T) {
	provider := &stubProvider{response: `{"predictions":[{"label":"osprey","score":0.1},{"label":"bald_eagle","score":0.85}]}`}
	llm := &LLM{Provider: provider, Name: "ollama", Model: "llava", TopK: 3}

	result, err := llm.Classify(context.Background(), models.UploadedImage{Format: "png", Data: []byte{1}})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	top, ok := result.Top()
	if !ok || top.Label != "bald_eagle" {
		t.Errorf("Expected bald_eagle on top, got %+v", result.Predictions)
	}
	if provider.got.ImageFormat != "png" || !strings.Contains(provider.got.Prompt, "up to 3") {
		t.Errorf("Unexpected provider config %+v", provider.got)
	}
	if result.Backend != "ollama" || result.Model != "llava" {
		t.Errorf("Unexpected result metadata %+v", result)
	}
}

func TestLLMClassifyErrors(t *testing.T) {
	failing := &LLM{Provider: &stubProvider{err: errors.New("boom")}, Name: "openai"}
	if _, err := failing.Classify(context.Background(), models.UploadedImage{}); err == nil {
		t.Error("Expected provider error to be returned")
	}

	empty := &LLM{Provider: &stubProvider{response: `{"predictions":[]}`}, Name: "gemini"}
	if _, err := empty.Classify(context.Background(), models.UploadedImage{}); !errors.Is(err, ErrEmptyResult) {
		t.Errorf("Expected ErrEmptyResult, got %v", err)
	}
}
