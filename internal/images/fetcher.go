package images

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/models"
)

// MaxImageSize is the largest image accepted from an upload or URL
const MaxImageSize = 10 * 1024 * 1024

// Fetcher retrieves images from URLs or local paths
type Fetcher struct {
	HTTPClient *http.Client
}

// NewFetcher creates a new image fetcher
func NewFetcher() *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch downloads an image and checks that it is a JPEG or PNG
func (f *Fetcher) Fetch(ctx context.Context, imageURL string) (models.UploadedImage, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return models.UploadedImage{}, fmt.Errorf("invalid image URL: %s", imageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return models.UploadedImage{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return models.UploadedImage{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.UploadedImage{}, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	data, err := ReadLimited(resp.Body)
	if err != nil {
		return models.UploadedImage{}, err
	}

	filename := path.Base(u.Path)
	if filename == "" || filename == "/" || filename == "." {
		filename = "image"
	}

	slog.Debug("Downloaded image", "url", imageURL, "bytes", len(data))
	return classifier.NewImage(filename, data)
}

// Load reads an image from a URL or a local file
func (f *Fetcher) Load(ctx context.Context, location string) (models.UploadedImage, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return f.Fetch(ctx, location)
	}

	file, err := os.Open(location)
	if err != nil {
		return models.UploadedImage{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	data, err := ReadLimited(file)
	if err != nil {
		return models.UploadedImage{}, err
	}
	return classifier.NewImage(filepath.Base(location), data)
}

// ReadLimited reads at most MaxImageSize bytes and fails on anything larger
func ReadLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("image too large (max %d MB)", MaxImageSize/(1024*1024))
	}
	return data, nil
}
