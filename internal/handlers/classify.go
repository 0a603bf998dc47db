package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/models"
)

// ModelLoadError means the classifier could not be loaded, so classification is disabled
type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("model failed to load: %v", e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// classifyImage runs one classification and records it as a session. The error
// is also stored on the session so the caller can show it.
func (h *Handler) classifyImage(ctx context.Context, img models.UploadedImage, source string) (*models.ClassificationSession, error) {
	session := &models.ClassificationSession{
		ID:          uuid.New().String(),
		Filename:    img.Filename,
		ImageFormat: img.Format,
		Source:      source,
		Model:       h.cfg.Model,
		Backend:     h.cfg.Backend,
		CreatedAt:   time.Now(),
	}
	defer h.sessionStore.Set(session.ID, session)

	c, err := h.loader.Get(ctx)
	if err != nil {
		err = &ModelLoadError{Err: err}
		session.Error = err.Error()
		return session, err
	}

	start := time.Now()
	result, err := safeClassify(ctx, c, img)
	if err == nil && len(result.Predictions) == 0 {
		err = classifier.ErrEmptyResult
	}
	if err != nil {
		slog.Error("Classification failed", "session_id", session.ID, "filename", img.Filename, "error", err)
		session.Error = fmt.Sprintf("classification failed: %v", err)
		return session, err
	}

	session.Predictions = result.Predictions
	if result.Model != "" {
		session.Model = result.Model
	}
	if top, ok := result.Top(); ok {
		slog.Info("Image classified", "session_id", session.ID, "label", top.Label, "score", top.Score, "duration", time.Since(start))
	}
	return session, nil
}

// safeClassify turns a panicking backend into an ordinary error
func safeClassify(ctx context.Context, c classifier.Classifier, img models.UploadedImage) (result models.ClassificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panicked: %v", r)
		}
	}()
	return c.Classify(ctx, img)
}

func sessionResult(session *models.ClassificationSession) models.ClassificationResult {
	return models.ClassificationResult{
		Model:       session.Model,
		Backend:     session.Backend,
		Predictions: session.Predictions,
	}
}
