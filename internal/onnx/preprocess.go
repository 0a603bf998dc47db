package onnx

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/nfnt/resize"
)

// Preprocess decodes the image, resizes it to size x size and returns a CHW
// tensor normalized with the given per-channel mean and std.
func Preprocess(data []byte, size int, mean, std [3]float32) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	input := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			input[i] = (float32(r)/65535.0 - mean[0]) / std[0]
			input[plane+i] = (float32(g)/65535.0 - mean[1]) / std[1]
			input[2*plane+i] = (float32(b)/65535.0 - mean[2]) / std[2]
		}
	}

	return input, nil
}

// Softmax converts logits into probabilities
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	peak := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > peak {
			peak = float64(v)
		}
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Predictions pairs probabilities with class names
func Predictions(probs []float64, classes []string) []models.Prediction {
	out := make([]models.Prediction, 0, len(classes))
	for i, p := range probs {
		if i >= len(classes) {
			break
		}
		out = append(out, models.Prediction{Label: classes[i], Score: p})
	}
	return out
}
