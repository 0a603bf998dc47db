package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lehigh-university-libraries/birdid/internal/bundle"
	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/models"
	ort "github.com/yalue/onnxruntime_go"
)

const backendName = "onnx"

// Server runs an image classification model with ONNX Runtime. A single
// session and its tensors are reused, so Classify calls are serialized.
type Server struct {
	Metadata Metadata
	Model    string
	TopK     int

	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewServer loads the model in b. libPath points at the onnxruntime shared
// library and may be empty to use the platform default.
func NewServer(b *bundle.LocalModelBundle, model, libPath string, topK int) (*Server, error) {
	meta, err := LoadMetadata(b.Path(ConfigFile), b.Path(PreprocessorFile))
	if err != nil {
		return nil, err
	}

	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	size := int64(meta.ImageSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(meta.Classes))))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(b.WeightsPath(),
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Info("ONNX model loaded", "path", b.WeightsPath(), "classes", len(meta.Classes), "image_size", meta.ImageSize)

	return &Server{
		Metadata:     meta,
		Model:        model,
		TopK:         topK,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *Server) Classify(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error) {
	input, err := Preprocess(img.Data, s.Metadata.ImageSize, s.Metadata.Mean, s.Metadata.Std)
	if err != nil {
		return models.ClassificationResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return models.ClassificationResult{}, err
	}

	s.mu.Lock()
	copy(s.inputTensor.GetData(), input)
	err = s.session.Run()
	var logits []float32
	if err == nil {
		logits = append(logits, s.outputTensor.GetData()...)
	}
	s.mu.Unlock()

	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("inference failed: %w", err)
	}

	ranked := classifier.Rank(Predictions(Softmax(logits), s.Metadata.Classes), s.TopK)
	if len(ranked) == 0 {
		return models.ClassificationResult{}, classifier.ErrEmptyResult
	}

	return models.ClassificationResult{Model: s.Model, Backend: backendName, Predictions: ranked}, nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	return ort.DestroyEnvironment()
}
