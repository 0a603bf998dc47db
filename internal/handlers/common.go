package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/lehigh-university-libraries/birdid/internal/images"
	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/lehigh-university-libraries/birdid/internal/storage"
)

type Handler struct {
	cfg          config.Config
	loader       *classifier.Loader
	sessionStore *storage.SessionStore
	fetcher      *images.Fetcher
}

func New(cfg config.Config, loader *classifier.Loader) *Handler {
	return &Handler{
		cfg:          cfg,
		loader:       loader,
		sessionStore: storage.New(storage.DefaultCapacity),
		fetcher:      images.NewFetcher(),
	}
}

// Routes wires the handlers into a mux wrapped with recovery, access logging and CORS
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HandleIndex)
	mux.HandleFunc("/classify", h.HandleClassifyForm)
	mux.HandleFunc("/api/classify", h.HandleClassify)
	mux.HandleFunc("/api/sessions", h.HandleSessions)
	mux.HandleFunc("/api/sessions/", h.HandleSessionDetail)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})

	var handler http.Handler = mux
	handler = gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{"*"}),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type"}),
		gorillahandlers.ExposedHeaders([]string{"X-Total-Count"}),
	)(handler)
	handler = gorillahandlers.CombinedLoggingHandler(os.Stdout, handler)
	handler = gorillahandlers.RecoveryHandler(
		gorillahandlers.RecoveryLogger(recoveryLogger{}),
		gorillahandlers.PrintRecoveryStack(false),
	)(handler)
	return handler
}

// recoveryLogger sends recovered panics to slog
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	slog.Error("Recovered from panic", "panic", v)
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, data, http.StatusOK)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	h.writeJSONStatus(w, map[string]string{"error": message}, code)
}

// errorStatus maps classification errors onto HTTP status codes
func errorStatus(err error) int {
	var loadErr *ModelLoadError
	switch {
	case errors.Is(err, classifier.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &loadErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, sessionID string) (*models.ClassificationSession, bool) {
	session, exists := h.sessionStore.Get(sessionID)
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}
