package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/jwulff/clinote/internal/fault"
)

// CloudBackend uploads audio to the OpenAI transcription endpoint.
type CloudBackend struct {
	apiKey string
	cfg    Config
}

// NewCloudBackend returns a backend authenticating with apiKey.
func NewCloudBackend(apiKey string, cfg Config) *CloudBackend {
	return &CloudBackend{apiKey: apiKey, cfg: cfg.withDefaults()}
}

func (b *CloudBackend) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return "", fault.Wrap(fault.Configuration, "transcribe", ErrMissingAPIKey)
	}
	if len(audio) == 0 {
		return "", fault.Wrap(fault.Availability, "transcribe", ErrEmptyAudio)
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", b.cfg.Model); err != nil {
		return "", fault.Wrap(fault.Internal, "transcribe", err)
	}
	if err := mw.WriteField("response_format", "text"); err != nil {
		return "", fault.Wrap(fault.Internal, "transcribe", err)
	}
	fw, err := mw.CreateFormFile("file", "audio."+FileExtension(mimeType))
	if err != nil {
		return "", fault.Wrap(fault.Internal, "transcribe", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fault.Wrap(fault.Internal, "transcribe", err)
	}
	if err := mw.Close(); err != nil {
		return "", fault.Wrap(fault.Internal, "transcribe", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.CloudURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fault.Wrap(fault.Configuration, "transcribe", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.Availability, "transcribe", fmt.Errorf("openai request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.Availability, "transcribe", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := fault.Availability
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = fault.Configuration
		}
		return "", fault.Wrap(kind, "transcribe", &StatusError{
			Backend: "openai",
			Status:  resp.StatusCode,
			Detail:  errorDetail(data, resp.Status),
		})
	}
	return strings.TrimSpace(string(data)), nil
}

// errorDetail returns the nested error.message of an OpenAI error body, or
// the status text when the body carries none.
func errorDetail(body []byte, status string) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return status
}
