package providers

import (
	"context"
)

// Config represents the configuration for a vision model request
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
	Image       []byte
	ImageFormat string // "jpeg" or "png"
}

// Provider defines the interface for a vision-capable model provider
type Provider interface {
	ExtractText(ctx context.Context, config Config) (string, error)
}

// MIMEType returns the content type of the configured image
func (c Config) MIMEType() string {
	if c.ImageFormat == "" {
		return "image/jpeg"
	}
	return "image/" + c.ImageFormat
}
