package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwulff/clinote/internal/fault"
)

// PingStatus is the local server's reply to GET /ping.
type PingStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Service     string `json:"service"`
}

// LocalBackend talks to the whisper server on localhost.
type LocalBackend struct {
	cfg Config
}

// NewLocalBackend returns a backend for the local server.
func NewLocalBackend(cfg Config) *LocalBackend {
	return &LocalBackend{cfg: cfg.withDefaults()}
}

// Probe checks that the server is up and its model is loaded. Any failure to
// reach the server, including the probe timeout, is ErrServerNotRunning.
func (b *LocalBackend) Probe(ctx context.Context) (PingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.LocalURL+"/ping", nil)
	if err != nil {
		return PingStatus{}, fault.Wrap(fault.Configuration, "ping", err)
	}
	resp, err := b.cfg.HTTPClient.Do(req)
	if err != nil {
		return PingStatus{}, notRunning(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PingStatus{}, notRunning(fmt.Errorf("ping status %d", resp.StatusCode))
	}
	var ps PingStatus
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		return PingStatus{}, notRunning(fmt.Errorf("decode ping: %w", err))
	}
	if !ps.ModelLoaded {
		return ps, fault.Wrap(fault.Availability, "ping", ErrModelNotReady)
	}
	return ps, nil
}

// Transcribe probes the server, then uploads the audio as base64 JSON. A
// failure of the upload is classified on its own terms.
func (b *LocalBackend) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fault.Wrap(fault.Availability, "transcribe", ErrEmptyAudio)
	}
	if _, err := b.Probe(ctx); err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]string{
		"audioBase64": base64.StdEncoding.EncodeToString(audio),
		"audioType":   mimeType,
	})
	if err != nil {
		return "", fault.Wrap(fault.Internal, "transcribe", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.LocalURL+"/transcribe", bytes.NewReader(payload))
	if err != nil {
		return "", fault.Wrap(fault.Configuration, "transcribe", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", notRunning(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.Availability, "transcribe", fmt.Errorf("read response: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return "", fault.Wrap(fault.Availability, "transcribe", fmt.Errorf("%w (%s)", ErrModelNotReady, strings.TrimSpace(string(body))))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fault.Wrap(fault.Availability, "transcribe", &StatusError{
			Backend: "local",
			Status:  resp.StatusCode,
			Detail:  strings.TrimSpace(string(body)),
		})
	}

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fault.Wrap(fault.Availability, "transcribe", fmt.Errorf("decode transcript: %w", err))
	}
	return strings.TrimSpace(out.Transcript), nil
}

func notRunning(cause error) error {
	return fault.Wrap(fault.Availability, "transcribe", fmt.Errorf("%w: %v", ErrServerNotRunning, cause))
}
