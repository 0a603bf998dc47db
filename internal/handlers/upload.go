package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/images"
	"github.com/lehigh-university-libraries/birdid/internal/models"
	"github.com/lehigh-university-libraries/birdid/internal/present"
)

// classifyResponse is the JSON body returned by /api/classify
type classifyResponse struct {
	SessionID   string              `json:"session_id"`
	Model       string              `json:"model"`
	Backend     string              `json:"backend"`
	Headline    *present.Entry      `json:"headline,omitempty"`
	Others      []present.Entry     `json:"others"`
	Predictions []models.Prediction `json:"predictions"`
	Error       string              `json:"error,omitempty"`
}

// HandleClassify accepts a multipart upload or a JSON body with an image URL
func (h *Handler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		img    models.UploadedImage
		source string
		err    error
	)
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		img, err = h.readURLUpload(r)
		source = "url"
	} else {
		img, err = h.readFileUpload(w, r)
		source = "upload"
	}
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, classifier.ErrUnsupportedFormat) {
			code = http.StatusUnsupportedMediaType
		}
		h.writeError(w, err.Error(), code)
		return
	}

	session, err := h.classifyImage(r.Context(), img, source)

	view := present.Build(sessionResult(session), h.cfg.Precision)
	response := classifyResponse{
		SessionID:   session.ID,
		Model:       session.Model,
		Backend:     session.Backend,
		Headline:    view.Headline,
		Others:      view.Others,
		Predictions: session.Predictions,
		Error:       session.Error,
	}
	if err != nil {
		h.writeJSONStatus(w, response, errorStatus(err))
		return
	}
	h.writeJSON(w, response)
}

func (h *Handler) readURLUpload(r *http.Request) (models.UploadedImage, error) {
	var request struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return models.UploadedImage{}, errors.New("invalid JSON: " + err.Error())
	}
	if request.ImageURL == "" {
		return models.UploadedImage{}, errors.New("image_url is required")
	}
	return h.fetcher.Fetch(r.Context(), request.ImageURL)
}

// readFileUpload reads the "image" form field, falling back to "file"
func (h *Handler) readFileUpload(w http.ResponseWriter, r *http.Request) (models.UploadedImage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, images.MaxImageSize+1<<20)

	file, header, err := r.FormFile("image")
	if err != nil {
		file, header, err = r.FormFile("file")
		if err != nil {
			return models.UploadedImage{}, errors.New("no image file provided. Use 'image' as the form field name")
		}
	}
	defer file.Close()

	return readImagePart(file, header)
}

func readImagePart(file multipart.File, header *multipart.FileHeader) (models.UploadedImage, error) {
	data, err := images.ReadLimited(file)
	if err != nil {
		return models.UploadedImage{}, err
	}
	return classifier.NewImage(header.Filename, data)
}
