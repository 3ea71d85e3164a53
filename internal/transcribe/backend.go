// Package transcribe turns recorded audio into text using either the local
// whisper server or the OpenAI transcription API.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jwulff/clinote/internal/fault"
	"github.com/jwulff/clinote/internal/settings"
)

const (
	DefaultLocalURL     = "http://localhost:11434"
	DefaultCloudURL     = "https://api.openai.com/v1"
	DefaultModel        = "whisper-1"
	DefaultProbeTimeout = 3 * time.Second
)

var (
	ErrServerNotRunning = errors.New("local whisper server is not running; install and start the Clinote whisper server")
	ErrModelNotReady    = errors.New("local whisper server model is not loaded; restart the server")
	ErrMissingAPIKey    = errors.New("OpenAI API key not configured")
	ErrEmptyAudio       = errors.New("audio is empty")
)

// StatusError is a non-2xx reply from a transcription backend.
type StatusError struct {
	Backend string
	Status  int
	Detail  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s transcription error: %d - %s", e.Backend, e.Status, e.Detail)
}

// Backend is a pluggable transcription backend.
type Backend interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Config holds backend endpoints. Zero values take the defaults.
type Config struct {
	LocalURL     string
	CloudURL     string
	Model        string
	ProbeTimeout time.Duration
	HTTPClient   *http.Client
}

func (c Config) withDefaults() Config {
	if c.LocalURL == "" {
		c.LocalURL = DefaultLocalURL
	}
	if c.CloudURL == "" {
		c.CloudURL = DefaultCloudURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	c.LocalURL = strings.TrimRight(c.LocalURL, "/")
	c.CloudURL = strings.TrimRight(c.CloudURL, "/")
	return c
}

// ForSettings selects the backend for s. Cloud mode without an API key is a
// configuration error.
func ForSettings(s settings.Settings, cfg Config) (Backend, error) {
	if s.Cloud() {
		if strings.TrimSpace(s.APIKey) == "" {
			return nil, fault.Wrap(fault.Configuration, "transcribe", ErrMissingAPIKey)
		}
		return NewCloudBackend(s.APIKey, cfg), nil
	}
	return NewLocalBackend(cfg), nil
}

// FileExtension picks the upload file extension for a MIME type.
func FileExtension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return "m4a"
	case strings.Contains(mimeType, "ogg"):
		return "oga"
	case strings.Contains(mimeType, "wav"):
		return "wav"
	default:
		return "webm"
	}
}
