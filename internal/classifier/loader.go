package classifier

import (
	"context"
	"log/slog"
	"sync"
)

// BuildFunc creates a classifier. It is called at most once per Loader.
type BuildFunc func(ctx context.Context) (Classifier, error)

// Loader lazily builds a classifier and keeps the handle, or the load error,
// for the lifetime of the process.
type Loader struct {
	build BuildFunc

	once       sync.Once
	classifier Classifier
	err        error
}

func NewLoader(build BuildFunc) *Loader {
	return &Loader{build: build}
}

// Get returns the memoized classifier, building it on first use
func (l *Loader) Get(ctx context.Context) (Classifier, error) {
	l.once.Do(func() {
		slog.Info("Loading classifier")
		l.classifier, l.err = l.build(ctx)
		if l.err != nil {
			slog.Error("Classifier failed to load", "err", l.err)
			return
		}
		slog.Info("Classifier loaded")
	})
	return l.classifier, l.err
}

// Close releases the classifier if it was built and holds resources
func (l *Loader) Close() error {
	if c, ok := l.classifier.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
