package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lehigh-university-libraries/birdid/internal/hub"
)

type fakeFetcher struct {
	calls int
	files map[string]string
	sha   map[string]string
	err   error
}

func (f *fakeFetcher) Snapshot(ctx context.Context, repo, revision, dir string, allow []string) (*hub.ModelInfo, error) {
	f.calls++
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	info := &hub.ModelInfo{ID: repo}
	for name, content := range f.files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, err
		}
		info.Siblings = append(info.Siblings, hub.File{Name: name, SHA256: f.sha[name]})
	}
	return info, nil
}

func newMaterializer(t *testing.T, fetcher Fetcher) (*Materializer, string) {
	t.Helper()
	root := t.TempDir()
	return &Materializer{
		Fetcher:     fetcher,
		Repo:        "birds/vit",
		Revision:    "main",
		WeightsFile: "model.onnx",
		StagingDir:  filepath.Join(root, "temp_download"),
	}, filepath.Join(root, "bird_model")
}

func sha(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestEnsureDownloadsAndCleansUp(t *testing.T) {
	fetcher := &fakeFetcher{
		files: map[string]string{
			"model.onnx":       "weights",
			"config.json":      "{}",
			"onnx/nested.onnx": "ignored",
		},
		sha: map[string]string{"model.onnx": sha("weights")},
	}
	m, dir := newMaterializer(t, fetcher)

	b, err := m.Ensure(context.Background(), dir)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	if !b.Present || !b.Downloaded {
		t.Errorf("Expected a freshly downloaded bundle, got %+v", b)
	}
	if b.Digest.Encoded() != sha("weights") {
		t.Errorf("Unexpected digest %s", b.Digest)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Errorf("Expected config.json to be copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "onnx")); !os.IsNotExist(err) {
		t.Error("Expected sub-directories not to be copied")
	}
	if _, err := os.Stat(m.StagingDir); !os.IsNotExist(err) {
		t.Error("Expected staging directory to be removed")
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{"model.onnx": "weights"}}
	m, dir := newMaterializer(t, fetcher)

	if _, err := m.Ensure(context.Background(), dir); err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}
	b, err := m.Ensure(context.Background(), dir)
	if err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}

	if fetcher.calls != 1 {
		t.Errorf("Expected exactly one network fetch, got %d", fetcher.calls)
	}
	if b.Downloaded {
		t.Error("Expected second call to use the fast path")
	}
}

func TestEnsurePrepopulatedNeverFetches(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("network must not be used")}
	m, dir := newMaterializer(t, fetcher)

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("local"), 0644); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := m.Ensure(context.Background(), dir); err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
	}
	if fetcher.calls != 0 {
		t.Errorf("Expected no fetch, got %d", fetcher.calls)
	}
}

func TestEnsureFetchErrorRemovesStaging(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection reset")}
	m, dir := newMaterializer(t, fetcher)

	_, err := m.Ensure(context.Background(), dir)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if _, statErr := os.Stat(m.StagingDir); !os.IsNotExist(statErr) {
		t.Error("Expected staging directory to be removed after a failure")
	}
}

func TestEnsureMissingWeights(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{"config.json": "{}"}}
	m, dir := newMaterializer(t, fetcher)

	if _, err := m.Ensure(context.Background(), dir); err == nil {
		t.Fatal("Expected an error when the snapshot has no weight file")
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); !os.IsNotExist(err) {
		t.Error("Expected nothing to be copied from an incomplete snapshot")
	}
}

func TestEnsureDigestMismatch(t *testing.T) {
	fetcher := &fakeFetcher{
		files: map[string]string{"model.onnx": "corrupt"},
		sha:   map[string]string{"model.onnx": sha("weights")},
	}
	m, dir := newMaterializer(t, fetcher)

	for i := 0; i < 2; i++ {
		b, err := m.Ensure(context.Background(), dir)
		if !errors.Is(err, ErrDigestMismatch) {
			t.Fatalf("call %d: expected ErrDigestMismatch, got bundle=%+v err=%v", i+1, b, err)
		}
	}

	if fetcher.calls != 2 {
		t.Errorf("Expected the second call to download again, got %d fetches", fetcher.calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "model.onnx")); !os.IsNotExist(err) {
		t.Error("Expected the corrupt weight file to stay out of the model directory")
	}
	if _, err := os.Stat(m.StagingDir); !os.IsNotExist(err) {
		t.Error("Expected staging directory to be removed after a mismatch")
	}
}
