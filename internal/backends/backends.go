// Package backends builds the configured classifier.
package backends

import (
	"context"
	"fmt"

	"github.com/lehigh-university-libraries/birdid/internal/bundle"
	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/lehigh-university-libraries/birdid/internal/gemini"
	"github.com/lehigh-university-libraries/birdid/internal/hfinference"
	"github.com/lehigh-university-libraries/birdid/internal/hub"
	"github.com/lehigh-university-libraries/birdid/internal/ollama"
	"github.com/lehigh-university-libraries/birdid/internal/onnx"
	"github.com/lehigh-university-libraries/birdid/internal/openai"
	"github.com/lehigh-university-libraries/birdid/internal/providers"
)

// Names lists the supported backends
var Names = []string{"hf-inference", "onnx", "gemini", "openai", "ollama"}

// DefaultAllow is the set of files fetched for a local ONNX bundle
var DefaultAllow = []string{"*.json", "*.onnx", "*.txt"}

// NewMaterializer returns the routine that fetches the model bundle from the hub or its mirror
func NewMaterializer(cfg config.Config) *bundle.Materializer {
	return &bundle.Materializer{
		Fetcher:     hub.New(cfg.HubEndpoint, cfg.HubToken),
		Repo:        cfg.Model,
		Revision:    cfg.Revision,
		WeightsFile: cfg.WeightsFile,
		StagingDir:  cfg.DownloadDir,
		Allow:       DefaultAllow,
	}
}

// New creates the classifier selected by cfg.Backend
func New(ctx context.Context, cfg config.Config) (classifier.Classifier, error) {
	switch cfg.Backend {
	case "hf-inference":
		return hfinference.New(cfg.InferenceEndpoint, cfg.Model, cfg.HubToken, cfg.TopK), nil
	case "onnx":
		return newONNX(ctx, cfg)
	case "gemini":
		return newLLM(cfg, gemini.New()), nil
	case "openai":
		return newLLM(cfg, openai.New()), nil
	case "ollama":
		return newLLM(cfg, ollama.New()), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %v)", cfg.Backend, Names)
	}
}

func newLLM(cfg config.Config, provider providers.Provider) classifier.Classifier {
	return &classifier.LLM{
		Provider:    provider,
		Name:        cfg.Backend,
		Model:       cfg.Model,
		TopK:        cfg.TopK,
		Temperature: 0.1,
	}
}

func newONNX(ctx context.Context, cfg config.Config) (classifier.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := NewMaterializer(cfg)

	var b *bundle.LocalModelBundle
	if cfg.AutoDownload {
		var err error
		if b, err = m.Ensure(ctx, cfg.ModelDir); err != nil {
			return nil, err
		}
	} else if b = m.Check(cfg.ModelDir); !b.Present {
		return nil, fmt.Errorf("model weights %s not found, run `birdid fetch-model` first", b.WeightsPath())
	}

	server, err := onnx.NewServer(b, cfg.Model, cfg.ONNXRuntimeLib, cfg.TopK)
	if err != nil {
		return nil, err
	}
	return server, nil
}
