package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultHubEndpoint       = "https://huggingface.co"
	DefaultInferenceEndpoint = "https://api-inference.huggingface.co"
	DefaultModel             = "nateraw/vit-base-birds"
	DefaultBackend           = "hf-inference"
	DefaultModelDir          = "./bird_model"
	DefaultDownloadDir       = "./temp_download"
	DefaultWeightsFile       = "model.onnx"
	DefaultRevision          = "main"
	DefaultTopK              = 5
	DefaultPrecision         = 2
)

// Config holds runtime settings resolved from the environment
type Config struct {
	HubEndpoint       string
	HubToken          string
	InferenceEndpoint string
	Model             string
	Revision          string
	Backend           string
	ModelDir          string
	DownloadDir       string
	WeightsFile       string
	AutoDownload      bool
	TopK              int
	Precision         int
	ONNXRuntimeLib    string
}

// Load reads the configuration from environment variables, falling back to defaults
func Load() Config {
	backend := getEnv("BIRDID_BACKEND", DefaultBackend)
	return Config{
		HubEndpoint:       strings.TrimRight(getEnv("HF_ENDPOINT", DefaultHubEndpoint), "/"),
		HubToken:          os.Getenv("HF_TOKEN"),
		InferenceEndpoint: strings.TrimRight(getEnv("HF_INFERENCE_ENDPOINT", DefaultInferenceEndpoint), "/"),
		Model:             getEnv("BIRDID_MODEL", DefaultModelFor(backend)),
		Revision:          getEnv("BIRDID_REVISION", DefaultRevision),
		Backend:           backend,
		ModelDir:          getEnv("BIRDID_MODEL_DIR", DefaultModelDir),
		DownloadDir:       getEnv("BIRDID_DOWNLOAD_DIR", DefaultDownloadDir),
		WeightsFile:       getEnv("BIRDID_WEIGHTS_FILE", DefaultWeightsFile),
		AutoDownload:      getBool("BIRDID_AUTO_DOWNLOAD", backend == "onnx"),
		TopK:              getInt("BIRDID_TOP_K", DefaultTopK),
		Precision:         getInt("BIRDID_PRECISION", DefaultPrecision),
		ONNXRuntimeLib:    os.Getenv("ONNXRUNTIME_LIB"),
	}
}

// DefaultModelFor returns the model used by a backend when BIRDID_MODEL is unset
func DefaultModelFor(backend string) string {
	switch backend {
	case "openai":
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			return "gpt-4o"
		}
		return model
	case "ollama":
		model := os.Getenv("OLLAMA_MODEL")
		if model == "" {
			return "mistral-small3.2:24b"
		}
		return model
	case "onnx":
		// the default model id ships no top-level ONNX weights
		return ""
	case "gemini":
		model := os.Getenv("GEMINI_MODEL")
		if model == "" {
			return "gemini-1.5-flash"
		}
		return model
	default:
		return DefaultModel
	}
}

// Validate reports settings that cannot work together
func (c Config) Validate() error {
	if c.LocalModel() && c.Model == "" {
		return errors.New("the onnx backend needs BIRDID_MODEL set to a repository with a top-level ONNX export (see BIRDID_WEIGHTS_FILE)")
	}
	return nil
}

// UsesMirror reports whether the hub endpoint was redirected away from the primary host
func (c Config) UsesMirror() bool {
	return c.HubEndpoint != DefaultHubEndpoint
}

// LocalModel reports whether the backend runs on materialized model files
func (c Config) LocalModel() bool {
	return c.Backend == "onnx"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring invalid integer setting", "key", key, "value", v)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring invalid boolean setting", "key", key, "value", v)
		return fallback
	}
	return b
}
