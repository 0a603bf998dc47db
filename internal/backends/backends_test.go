package backends

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/lehigh-university-libraries/birdid/internal/hfinference"
)

func TestNewRemoteBackends(t *testing.T) {
	tests := []struct {
		backend string
		llm     bool
	}{
		{"hf-inference", false},
		{"gemini", true},
		{"openai", true},
		{"ollama", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			c, err := New(context.Background(), config.Config{Backend: tt.backend, Model: "m", TopK: 3})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			_, isLLM := c.(*classifier.LLM)
			if isLLM != tt.llm {
				t.Errorf("Expected LLM=%v, got %T", tt.llm, c)
			}
			if !tt.llm {
				if _, ok := c.(*hfinference.Client); !ok {
					t.Errorf("Expected inference client, got %T", c)
				}
			}
		})
	}
}

func TestNewUnsupportedBackend(t *testing.T) {
	_, err := New(context.Background(), config.Config{Backend: "tensorflow"})
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Errorf("Expected unsupported backend error, got %v", err)
	}
}

func TestNewONNXWithoutBundle(t *testing.T) {
	cfg := config.Config{
		Backend:     "onnx",
		Model:       "birds/vit-onnx",
		ModelDir:    filepath.Join(t.TempDir(), "bird_model"),
		WeightsFile: "model.onnx",
	}

	c, err := New(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected an error when the bundle is missing")
	}
	if c != nil {
		t.Errorf("Expected a nil classifier, got %T", c)
	}
	if !strings.Contains(err.Error(), "fetch-model") {
		t.Errorf("Expected a hint to run fetch-model, got %v", err)
	}
}

func TestNewONNXRequiresModel(t *testing.T) {
	cfg := config.Config{
		Backend:      "onnx",
		ModelDir:     filepath.Join(t.TempDir(), "bird_model"),
		WeightsFile:  "model.onnx",
		AutoDownload: true,
	}

	c, err := New(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "BIRDID_MODEL") {
		t.Fatalf("Expected a missing model error, got %v", err)
	}
	if c != nil {
		t.Errorf("Expected a nil classifier, got %T", c)
	}
}

func TestNewMaterializer(t *testing.T) {
	cfg := config.Config{
		HubEndpoint: "https://hf-mirror.com",
		Model:       "birds/vit",
		Revision:    "main",
		WeightsFile: "model.onnx",
		DownloadDir: "./temp_download",
	}

	m := NewMaterializer(cfg)
	if m.Repo != "birds/vit" || m.StagingDir != "./temp_download" || m.WeightsFile != "model.onnx" {
		t.Errorf("Unexpected materializer %+v", m)
	}
}
