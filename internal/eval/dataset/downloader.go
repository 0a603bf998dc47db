package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/birdid/internal/hub"
)

// DefaultCacheDir mirrors the layout of the Python datasets cache
const DefaultCacheDir = "~/.cache/huggingface/datasets"

// DownloadConfig configures dataset downloading
type DownloadConfig struct {
	Endpoint      string
	Token         string
	CacheDir      string
	Revision      string
	ForceDownload bool
}

// Downloader fetches dataset files from the hub and caches them locally
type Downloader struct {
	config DownloadConfig
	client *hub.Client
}

// NewDownloader creates a new dataset downloader
func NewDownloader(config DownloadConfig) *Downloader {
	if config.CacheDir == "" {
		config.CacheDir = DefaultCacheDir
	}
	if config.Revision == "" {
		config.Revision = "main"
	}
	if strings.HasPrefix(config.CacheDir, "~") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			config.CacheDir = filepath.Join(homeDir, config.CacheDir[1:])
		}
	}

	return &Downloader{
		config: config,
		client: hub.New(config.Endpoint, config.Token),
	}
}

// CachePath returns where a dataset file would be cached
func (d *Downloader) CachePath(repo, filename string) string {
	return filepath.Join(d.config.CacheDir, filepath.FromSlash(repo), filepath.FromSlash(filename))
}

// Download fetches filename from the dataset repo unless it is already cached,
// and returns the local path.
func (d *Downloader) Download(ctx context.Context, repo, filename string) (string, error) {
	cachedPath := d.CachePath(repo, filename)

	if !d.config.ForceDownload {
		if _, err := os.Stat(cachedPath); err == nil {
			slog.Info("Using cached dataset", "path", cachedPath)
			return cachedPath, nil
		}
	}

	slog.Info("Downloading dataset", "repo", repo, "file", filename, "endpoint", d.client.Endpoint)
	if err := d.client.Download(ctx, "datasets/"+repo, d.config.Revision, filename, cachedPath); err != nil {
		return "", fmt.Errorf("failed to download dataset: %w", err)
	}

	slog.Info("Dataset downloaded", "path", cachedPath)
	return cachedPath, nil
}

// LoadOrDownload returns a Loader for a cached or freshly downloaded dataset file
func LoadOrDownload(ctx context.Context, repo, filename string, config DownloadConfig) (*Loader, error) {
	path, err := NewDownloader(config).Download(ctx, repo, filename)
	if err != nil {
		return nil, err
	}
	return NewLoader(path), nil
}
