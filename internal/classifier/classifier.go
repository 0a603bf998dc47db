package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/lehigh-university-libraries/birdid/internal/present"
)

var (
	// ErrUnsupportedFormat is returned for images that are neither JPEG nor PNG
	ErrUnsupportedFormat = errors.New("unsupported image format, use JPEG or PNG")
	// ErrEmptyResult is returned when a model produced no predictions
	ErrEmptyResult = errors.New("model returned no predictions")
)

// Classifier labels a single image
type Classifier interface {
	Classify(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error)
}

// Func adapts a function to the Classifier interface
type Func func(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error)

func (f Func) Classify(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error) {
	return f(ctx, img)
}

// DetectFormat sniffs the image bytes and returns "jpeg" or "png"
func DetectFormat(data []byte) (string, error) {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpeg", nil
	case "image/png":
		return "png", nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// NewImage builds an UploadedImage after checking its format
func NewImage(filename string, data []byte) (models.UploadedImage, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return models.UploadedImage{}, fmt.Errorf("%s: %w", filename, err)
	}
	return models.UploadedImage{Filename: filename, Format: format, Data: data}, nil
}

// Rank clamps scores into [0,1], orders predictions by descending score and keeps
// at most topK of them. A non-positive topK keeps everything.
func Rank(predictions []models.Prediction, topK int) []models.Prediction {
	ranked := make([]models.Prediction, 0, len(predictions))
	for _, p := range predictions {
		if p.Label == "" {
			continue
		}
		ranked = append(ranked, models.Prediction{Label: p.Label, Score: present.ClampScore(p.Score)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}
