// Package bundle makes sure model files are present in a local directory,
// fetching them from the model hub through a staging directory when needed.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lehigh-university-libraries/birdid/internal/hub"
	"github.com/opencontainers/go-digest"
)

// ErrDigestMismatch is returned when a downloaded weight file does not match the hub checksum
var ErrDigestMismatch = errors.New("weight file digest mismatch")

// Fetcher stages a repository snapshot into a directory
type Fetcher interface {
	Snapshot(ctx context.Context, repo, revision, dir string, allow []string) (*hub.ModelInfo, error)
}

// LocalModelBundle is a directory holding the files needed to run a model
type LocalModelBundle struct {
	Dir         string
	WeightsFile string
	Present     bool
	Digest      digest.Digest
	Downloaded  bool
}

// WeightsPath is the full path of the required weight file
func (b *LocalModelBundle) WeightsPath() string {
	return filepath.Join(b.Dir, b.WeightsFile)
}

// Path joins a file name onto the bundle directory
func (b *LocalModelBundle) Path(name string) string {
	return filepath.Join(b.Dir, name)
}

// Materializer ensures a model bundle exists on disk
type Materializer struct {
	Fetcher     Fetcher
	Repo        string
	Revision    string
	WeightsFile string
	StagingDir  string
	Allow       []string
}

// Check reports whether dir already holds the weight file without touching the network
func (m *Materializer) Check(dir string) *LocalModelBundle {
	b := &LocalModelBundle{Dir: dir, WeightsFile: m.WeightsFile}
	if fi, err := os.Stat(b.WeightsPath()); err == nil && !fi.IsDir() {
		b.Present = true
	}
	return b
}

// Ensure returns a bundle whose directory contains the weight file. If the file is
// already there it returns at once. Otherwise it stages a snapshot into the staging
// directory, copies the top-level files into dir and removes the staging directory.
// Errors are not retried and a partially filled dir is left as is.
func (m *Materializer) Ensure(ctx context.Context, dir string) (*LocalModelBundle, error) {
	b := m.Check(dir)
	if b.Present {
		slog.Info("Model bundle already present", "dir", dir, "weights", m.WeightsFile)
		return b, nil
	}

	slog.Info("Model bundle missing, downloading", "repo", m.Repo, "dir", dir, "staging", m.StagingDir)

	d, err := m.stage(ctx, dir)
	if err != nil {
		return nil, err
	}

	b.Digest = d
	b.Present = true
	b.Downloaded = true
	slog.Info("Model bundle ready", "dir", dir, "digest", b.Digest)
	return b, nil
}

// stage fetches the snapshot, verifies the staged weight file and only then
// copies the files into dir. A failed verification leaves dir untouched.
func (m *Materializer) stage(ctx context.Context, dir string) (digest.Digest, error) {
	defer func() {
		if err := os.RemoveAll(m.StagingDir); err != nil {
			slog.Warn("Failed to remove staging directory", "dir", m.StagingDir, "err", err)
		}
	}()

	info, err := m.Fetcher.Snapshot(ctx, m.Repo, m.Revision, m.StagingDir, m.Allow)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", m.Repo, err)
	}

	d, err := m.verify(filepath.Join(m.StagingDir, m.WeightsFile), info)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	copied, err := copyTopLevel(m.StagingDir, dir, m.WeightsFile)
	if err != nil {
		return "", fmt.Errorf("failed to copy model files: %w", err)
	}
	slog.Debug("Copied model files", "from", m.StagingDir, "to", dir, "files", copied)

	return d, nil
}

// verify hashes the weight file at path and compares it with the sha256 the hub reported
func (m *Materializer) verify(path string, info *hub.ModelInfo) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("model %s has no %s at top level", m.Repo, m.WeightsFile)
		}
		return "", fmt.Errorf("failed to open weight file: %w", err)
	}
	defer f.Close()

	d, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash weight file: %w", err)
	}

	if info == nil {
		return d, nil
	}
	for _, sib := range info.Siblings {
		if sib.Name != m.WeightsFile || sib.SHA256 == "" {
			continue
		}
		expected := digest.NewDigestFromEncoded(digest.SHA256, sib.SHA256)
		if expected != d {
			return "", fmt.Errorf("%s: expected %s, got %s: %w", m.WeightsFile, expected, d, ErrDigestMismatch)
		}
	}
	return d, nil
}

// copyTopLevel copies regular files directly inside src into dst, skipping
// sub-directories. The weight file goes last, through a temp file and rename,
// so an interrupted copy never leaves a weight file that looks complete.
func copyTopLevel(src, dst, weights string) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || entry.Name() == weights {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return copied, err
		}
		copied++
	}

	target := filepath.Join(dst, weights)
	if err := copyFile(filepath.Join(src, weights), target+".tmp"); err != nil {
		os.Remove(target + ".tmp")
		return copied, err
	}
	if err := os.Rename(target+".tmp", target); err != nil {
		os.Remove(target + ".tmp")
		return copied, err
	}
	return copied + 1, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
