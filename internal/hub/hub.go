package hub

import (
	"context"
	"encoding/json"
	"errors"
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

	"golang.org/x/sync/errgroup"
)

const (
	// resolve URL: endpoint, repo, revision, file
	resolveURL = "%s/%s/resolve/%s/%s"
	// model info URL: endpoint, repo, revision
	modelInfoURL = "%s/api/models/%s/revision/%s?blobs=true"

	defaultConcurrency = 4
)

// ErrNotFound is returned when the hub has no such repository or file
var ErrNotFound = errors.New("not found on model hub")

// Client talks to a HuggingFace-compatible model hub or one of its mirrors
type Client struct {
	Endpoint    string
	Token       string
	HTTPClient  *http.Client
	Concurrency int
}

// New returns a hub client for the given endpoint
func New(endpoint, token string) *Client {
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Token:    token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
		Concurrency: defaultConcurrency,
	}
}

// File describes one file of a model repository
type File struct {
	Name   string `json:"rfilename"`
	Size   int64  `json:"size,omitempty"`
	SHA256 string `json:"-"`
}

// ModelInfo is the subset of the hub model API used for snapshots
type ModelInfo struct {
	ID       string `json:"id"`
	SHA      string `json:"sha"`
	Siblings []File `json:"siblings"`
}

// ModelInfo fetches the list of files in a repository at a revision
func (c *Client) ModelInfo(ctx context.Context, repo, revision string) (*ModelInfo, error) {
	u := fmt.Sprintf(modelInfoURL, c.Endpoint, repo, url.PathEscape(revision))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw struct {
		ID       string `json:"id"`
		SHA      string `json:"sha"`
		Siblings []struct {
			Name string `json:"rfilename"`
			Size int64  `json:"size"`
			LFS  *struct {
				SHA256 string `json:"sha256"`
				Size   int64  `json:"size"`
			} `json:"lfs"`
		} `json:"siblings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode model info: %w", err)
	}

	info := &ModelInfo{ID: raw.ID, SHA: raw.SHA}
	for _, s := range raw.Siblings {
		f := File{Name: s.Name, Size: s.Size}
		if s.LFS != nil {
			f.SHA256 = s.LFS.SHA256
			if f.Size == 0 {
				f.Size = s.LFS.Size
			}
		}
		info.Siblings = append(info.Siblings, f)
	}

	slog.Debug("Fetched model info", "repo", repo, "revision", revision, "files", len(info.Siblings))
	return info, nil
}

// Download fetches a single file of a repository into destPath
func (c *Client) Download(ctx context.Context, repo, revision, filename, destPath string) error {
	u := fmt.Sprintf(resolveURL, c.Endpoint, repo, url.PathEscape(revision), filename)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tempPath := destPath + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("download of %s failed: %w", filename, err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to move file: %w", err)
	}

	slog.Debug("Downloaded file", "repo", repo, "file", filename, "bytes", written)
	return nil
}

// Snapshot downloads every file of a repository matching one of the allow
// patterns into dir, keeping relative paths. An empty pattern list allows all files.
func (c *Client) Snapshot(ctx context.Context, repo, revision, dir string, allow []string) (*ModelInfo, error) {
	info, err := c.ModelInfo(ctx, repo, revision)
	if err != nil {
		return nil, err
	}

	// pin to the commit the listing came from
	if info.SHA != "" {
		revision = info.SHA
	}

	slog.Info("Downloading model snapshot", "endpoint", c.Endpoint, "repo", repo, "revision", revision, "dir", dir)

	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	selected := &ModelInfo{ID: info.ID, SHA: info.SHA}
	for _, f := range info.Siblings {
		if !Allowed(f.Name, allow) {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
			return nil, fmt.Errorf("refusing %s file %q outside the snapshot dir", repo, f.Name)
		}
		selected.Siblings = append(selected.Siblings, f)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, f := range selected.Siblings {
		eg.Go(func() error {
			return c.Download(ctx, repo, revision, f.Name, filepath.Join(dir, filepath.FromSlash(f.Name)))
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if len(selected.Siblings) == 0 {
		return nil, fmt.Errorf("no files in %s matched %v: %w", repo, allow, ErrNotFound)
	}

	slog.Info("Model snapshot downloaded", "repo", repo, "files", len(selected.Siblings))
	return selected, nil
}

// Allowed reports whether name matches one of the glob patterns
func Allowed(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach model hub: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", u, ErrNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("model hub returned status %d: %s", resp.StatusCode, string(body))
	}
}
