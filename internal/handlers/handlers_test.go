package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/lehigh-university-libraries/birdid/internal/models"
)

func encodeImage(t *testing.T, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	var err error
	if format == "png" {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, nil)
	}
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

func eagleClassifier() classifier.Classifier {
	return classifier.Func(func(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error) {
		return models.ClassificationResult{
			Model:   "stub",
			Backend: "stub",
			Predictions: []models.Prediction{
				{Label: "bald_eagle", Score: 0.923},
				{Label: "golden_eagle", Score: 0.04},
				{Label: "osprey", Score: 0.02},
				{Label: "red_kite", Score: 0.01},
				{Label: "kestrel", Score: 0.005},
			},
		}, nil
	})
}

func newTestHandler(c classifier.Classifier, loadErr error) *Handler {
	cfg := config.Config{Model: "nateraw/vit-base-birds", Backend: "stub", Precision: 2, HubEndpoint: config.DefaultHubEndpoint}
	loader := classifier.NewLoader(func(ctx context.Context) (classifier.Classifier, error) {
		return c, loadErr
	})
	return New(cfg, loader)
}

func TestIndexPage(t *testing.T) {
	h := newTestHandler(eagleClassifier(), nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `name="image"`) {
		t.Error("Expected the upload form on the page")
	}
	if strings.Contains(buf.String(), "could not be loaded") {
		t.Error("Did not expect a model error")
	}
}

func TestClassifyFormRendersResult(t *testing.T) {
	for _, format := range []string{"jpeg", "png"} {
		t.Run(format, func(t *testing.T) {
			h := newTestHandler(eagleClassifier(), nil)
			body, ct := multipartBody(t, "image", "bird."+format, encodeImage(t, format))

			req := httptest.NewRequest(http.MethodPost, "/classify", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			h.HandleClassifyForm(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			page := rec.Body.String()
			for _, want := range []string{"Bald Eagle", "92.30%", "Golden Eagle", "Red Kite", "data:image/" + format} {
				if !strings.Contains(page, want) {
					t.Errorf("Expected page to contain %q", want)
				}
			}
			if strings.Contains(page, "Kestrel: ") {
				t.Error("Expected only entries 2-4 as runners-up")
			}
		})
	}
}

func TestClassifyFormShowsInferenceError(t *testing.T) {
	faulty := classifier.Func(func(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error) {
		return models.ClassificationResult{}, errors.New("tensor shape mismatch")
	})
	h := newTestHandler(faulty, nil)

	for i := 0; i < 2; i++ {
		body, ct := multipartBody(t, "image", "bird.jpg", encodeImage(t, "jpeg"))
		req := httptest.NewRequest(http.MethodPost, "/classify", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.HandleClassifyForm(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("Expected 502, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "tensor shape mismatch") {
			t.Error("Expected the error message on the page")
		}
	}
}

func TestClassifyPanicDoesNotCrash(t *testing.T) {
	panicky := classifier.Func(func(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error) {
		panic("nil tensor")
	})
	h := newTestHandler(panicky, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	body, ct := multipartBody(t, "image", "bird.png", encodeImage(t, "png"))
	resp, err := http.Post(srv.URL+"/classify", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "classifier panicked") {
		t.Errorf("Expected a visible error, got status %d", resp.StatusCode)
	}

	// the server keeps serving
	health, err := http.Get(srv.URL + "/healthcheck")
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("Expected healthcheck to pass, got %d", health.StatusCode)
	}
}

func TestClassifyFormModelLoadFailure(t *testing.T) {
	h := newTestHandler(nil, errors.New("hub unreachable"))
	body, ct := multipartBody(t, "image", "bird.jpg", encodeImage(t, "jpeg"))

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.HandleClassifyForm(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "could not be loaded") {
		t.Error("Expected the model load error on the page")
	}
}

func TestClassifyFormRejectsUnsupportedFormat(t *testing.T) {
	h := newTestHandler(eagleClassifier(), nil)
	body, ct := multipartBody(t, "image", "bird.gif", []byte("GIF89a......"))

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.HandleClassifyForm(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "JPEG or PNG") {
		t.Error("Expected a format hint on the page")
	}
}

func TestClassifyFormMissingFile(t *testing.T) {
	h := newTestHandler(eagleClassifier(), nil)
	body, ct := multipartBody(t, "other", "bird.jpg", encodeImage(t, "jpeg"))

	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.HandleClassifyForm(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestAPIClassifyUpload(t *testing.T) {
	h := newTestHandler(eagleClassifier(), nil)
	body, ct := multipartBody(t, "file", "bird.png", encodeImage(t, "png"))

	req := httptest.NewRequest(http.MethodPost, "/api/classify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.HandleClassify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp classifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Headline == nil || resp.Headline.Label != "Bald Eagle" {
		t.Errorf("Unexpected headline %+v", resp.Headline)
	}
	if len(resp.Others) != 3 {
		t.Errorf("Expected 3 runner-up entries, got %d", len(resp.Others))
	}
	if len(resp.Predictions) != 5 {
		t.Errorf("Expected all predictions in the response, got %d", len(resp.Predictions))
	}

	stored, ok := h.sessionStore.Get(resp.SessionID)
	if !ok {
		t.Fatal("Expected the session to be stored")
	}
	if stored.Source != "upload" || stored.ImageFormat != "png" {
		t.Errorf("Unexpected stored session %+v", stored)
	}
}

func TestAPIClassifyURL(t *testing.T) {
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(encodeImage(t, "jpeg"))
	}))
	defer imgSrv.Close()

	h := newTestHandler(eagleClassifier(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader(`{"image_url": "`+imgSrv.URL+`/eagle.jpg"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleClassify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp classifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	stored, _ := h.sessionStore.Get(resp.SessionID)
	if stored == nil || stored.Source != "url" || stored.Filename != "eagle.jpg" {
		t.Errorf("Unexpected stored session %+v", stored)
	}
}

func TestAPIClassifyErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		expected    int
	}{
		{"invalid json", "application/json", "{", http.StatusBadRequest},
		{"missing url", "application/json", `{}`, http.StatusBadRequest},
		{"bad scheme", "application/json", `{"image_url":"file:///etc/passwd"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(eagleClassifier(), nil)
			req := httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			h.HandleClassify(rec, req)

			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Error("Expected a JSON error body")
			}
		})
	}

	h := newTestHandler(eagleClassifier(), nil)
	rec := httptest.NewRecorder()
	h.HandleClassify(rec, httptest.NewRequest(http.MethodGet, "/api/classify", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestSessions(t *testing.T) {
	h := newTestHandler(eagleClassifier(), nil)
	session, err := h.classifyImage(context.Background(), models.UploadedImage{Filename: "a.jpg", Format: "jpeg"}, "upload")
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.HandleSessions(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	var list []models.ClassificationSession
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != session.ID {
		t.Errorf("Unexpected session list %+v", list)
	}
	if got := rec.Header().Get("X-Total-Count"); got != "1" {
		t.Errorf("Expected X-Total-Count 1, got %q", got)
	}

	rec = httptest.NewRecorder()
	h.HandleSessionDetail(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+session.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandleSessionDetail(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+session.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandleSessionDetail(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+session.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
}

func TestEmptyPredictionsAreAnError(t *testing.T) {
	empty := classifier.Func(func(ctx context.Context, img models.UploadedImage) (models.ClassificationResult, error) {
		return models.ClassificationResult{}, nil
	})
	h := newTestHandler(empty, nil)

	body, ct := multipartBody(t, "image", "bird.jpg", encodeImage(t, "jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.HandleClassifyForm(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model returned no predictions") {
		t.Error("Expected the empty result error on the page")
	}

	body, ct = multipartBody(t, "image", "bird.jpg", encodeImage(t, "jpeg"))
	req = httptest.NewRequest(http.MethodPost, "/api/classify", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.HandleClassify(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Error("Expected a JSON error body")
	}
}

func TestIndexEndpointBanners(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		expected []string
		absent   []string
	}{
		{
			name: "hosted inference ignores hub mirror",
			cfg: config.Config{
				Backend:           "hf-inference",
				HubEndpoint:       "https://hf-mirror.com",
				InferenceEndpoint: config.DefaultInferenceEndpoint,
			},
			absent: []string{"mirror enabled", "Inference endpoint:"},
		},
		{
			name: "hosted inference with custom endpoint",
			cfg: config.Config{
				Backend:           "hf-inference",
				HubEndpoint:       config.DefaultHubEndpoint,
				InferenceEndpoint: "https://infer.example.org",
			},
			expected: []string{"Inference endpoint: <code>https://infer.example.org</code>"},
			absent:   []string{"mirror enabled"},
		},
		{
			name: "onnx downloads through mirror",
			cfg: config.Config{
				Backend:           "onnx",
				Model:             "birds/vit-onnx",
				HubEndpoint:       "https://hf-mirror.com",
				InferenceEndpoint: config.DefaultInferenceEndpoint,
			},
			expected: []string{"Model hub mirror enabled: <code>https://hf-mirror.com</code>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := classifier.NewLoader(func(ctx context.Context) (classifier.Classifier, error) {
				return eagleClassifier(), nil
			})
			h := New(tt.cfg, loader)
			rec := httptest.NewRecorder()
			h.HandleIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			page := rec.Body.String()
			for _, want := range tt.expected {
				if !strings.Contains(page, want) {
					t.Errorf("Expected page to contain %q", want)
				}
			}
			for _, unwanted := range tt.absent {
				if strings.Contains(page, unwanted) {
					t.Errorf("Did not expect page to contain %q", unwanted)
				}
			}
		})
	}
}

func TestSessionDetailMethodCheckedFirst(t *testing.T) {
	h := newTestHandler(eagleClassifier(), nil)
	for _, method := range []string{http.MethodPut, http.MethodPost} {
		rec := httptest.NewRecorder()
		h.HandleSessionDetail(rec, httptest.NewRequest(method, "/api/sessions/unknown", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, rec.Code)
		}
	}
}
