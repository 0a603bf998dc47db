package handlers

import (
	"bytes"
	"embed"
	"encoding/base64"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/lehigh-university-libraries/birdid/internal/present"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// pageData feeds templates/index.html
type pageData struct {
	Model      string
	Backend    string
	Mirror     string
	ModelError string
	Error      string
	Filename   string
	ImageURL   template.URL
	View       *present.View
	Sessions   []*models.ClassificationSession

	// InferenceEndpoint is set when the hosted API is redirected
	InferenceEndpoint string
}

func (h *Handler) basePage(r *http.Request) pageData {
	data := pageData{
		Model:   h.cfg.Model,
		Backend: h.cfg.Backend,
	}
	// only the onnx backend downloads from the hub
	if h.cfg.LocalModel() && h.cfg.UsesMirror() {
		data.Mirror = h.cfg.HubEndpoint
	}
	if h.cfg.Backend == "hf-inference" && h.cfg.InferenceEndpoint != config.DefaultInferenceEndpoint {
		data.InferenceEndpoint = h.cfg.InferenceEndpoint
	}
	if _, err := h.loader.Get(r.Context()); err != nil {
		data.ModelError = err.Error()
	}
	sessions := h.sessionStore.GetAll()
	if len(sessions) > 5 {
		sessions = sessions[:5]
	}
	data.Sessions = sessions
	return data
}

// HandleIndex renders the upload page
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.renderPage(w, h.basePage(r), http.StatusOK)
}

// HandleClassifyForm handles the "start" button of the upload form. The page is
// always rendered again, with either the result or an error message.
func (h *Handler) HandleClassifyForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	img, err := h.readFileUpload(w, r)
	if err != nil {
		data := h.basePage(r)
		data.Error = err.Error()
		code := http.StatusBadRequest
		if errors.Is(err, classifier.ErrUnsupportedFormat) {
			code = http.StatusUnsupportedMediaType
		}
		h.renderPage(w, data, code)
		return
	}

	session, err := h.classifyImage(r.Context(), img, "upload")

	data := h.basePage(r)
	data.Filename = img.Filename
	data.ImageURL = template.URL("data:image/" + img.Format + ";base64," + base64.StdEncoding.EncodeToString(img.Data))
	if err != nil {
		data.Error = session.Error
		h.renderPage(w, data, errorStatus(err))
		return
	}

	view := present.Build(sessionResult(session), h.cfg.Precision)
	data.View = &view
	h.renderPage(w, data, http.StatusOK)
}

func (h *Handler) renderPage(w http.ResponseWriter, data pageData, code int) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		slog.Error("Unable to render page", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("Unable to write page", "err", err)
	}
}
