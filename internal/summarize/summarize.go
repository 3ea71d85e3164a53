// Package summarize derives a structured clinical note from a transcript,
// either by line extraction on the device or through the OpenAI chat API.
//
// Summarize never fails. Anything that goes wrong is folded into a degraded
// note so the pipeline keeps running.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jwulff/clinote/internal/note"
	"github.com/jwulff/clinote/internal/settings"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o"
	Temperature    = 0.3
	MaxTokens      = 1000
)

var ErrMissingAPIKey = errors.New("OpenAI API key required for cloud processing")

// Config holds the chat endpoint. Zero values take the defaults.
type Config struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Client summarizes transcripts in one backend mode.
type Client struct {
	mode   settings.BackendMode
	apiKey string
	base   string
	model  string
	client *http.Client
}

// ForSettings returns a client for the backend mode and key in s.
func ForSettings(s settings.Settings, cfg Config) *Client {
	c := &Client{
		mode:   s.BackendMode,
		apiKey: s.APIKey,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		model:  cfg.Model,
		client: cfg.HTTPClient,
	}
	if c.base == "" {
		c.base = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 2 * time.Minute}
	}
	return c
}

// LocalModel names the on-device section extraction in archived summaries.
const LocalModel = "section-extraction"

// Model identifies what produces the client's notes.
func (c *Client) Model() string {
	if c.mode != settings.Cloud {
		return LocalModel
	}
	return c.model
}

// Summarize returns a note for transcript. The note is degraded, never
// missing, when the model call or its output fails.
func (c *Client) Summarize(ctx context.Context, transcript string, specialty settings.Specialty) note.StructuredNote {
	if c.mode != settings.Cloud {
		return ExtractSections(transcript)
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return note.Degraded(ErrMissingAPIKey)
	}

	content, err := c.chat(ctx, buildPrompt(transcript, specialty))
	if err != nil {
		return note.Degraded(err)
	}
	obj, ok := FirstJSONObject(content)
	if !ok {
		return ExtractSections(content)
	}
	var n note.StructuredNote
	if err := json.Unmarshal([]byte(obj), &n); err != nil {
		return note.Degraded(fmt.Errorf("parse summary: %w", err))
	}
	return n
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": Temperature,
		"max_tokens":  MaxTokens,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		detail := resp.Status
		if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
			detail = parsed.Error.Message
		}
		return "", fmt.Errorf("OpenAI API error: %d - %s", resp.StatusCode, detail)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

var extractNames = []struct {
	key  string
	name string
}{
	{note.SectionChiefComplaint, "chief complaint"},
	{note.SectionHPI, "history of present illness"},
	{note.SectionROS, "review of systems"},
	{note.SectionAssessment, "assessment"},
	{note.SectionPlan, "plan"},
	{note.SectionMedications, "medications"},
	{note.SectionFollowUp, "follow up"},
}

// ExtractSections builds a note by collecting, for each section, every line
// that mentions the section's name. Code lists stay empty.
func ExtractSections(text string) note.StructuredNote {
	n := note.StructuredNote{}
	for _, e := range extractNames {
		f := note.Text(ExtractSection(text, e.name))
		switch e.key {
		case note.SectionChiefComplaint:
			n.ChiefComplaint = f
		case note.SectionHPI:
			n.HPI = f
		case note.SectionROS:
			n.ROS = f
		case note.SectionAssessment:
			n.Assessment = f
		case note.SectionPlan:
			n.Plan = f
		case note.SectionMedications:
			n.Medications = f
		case note.SectionFollowUp:
			n.FollowUp = f
		}
	}
	return n
}

// ExtractSection joins, with spaces, every line of text that contains name
// case-insensitively. The name also matches with its spaces removed or
// replaced by hyphens. No match yields the placeholder.
func ExtractSection(text, name string) string {
	name = strings.ToLower(name)
	variants := []string{name}
	if strings.Contains(name, " ") {
		variants = append(variants, strings.Join(strings.Fields(name), ""), strings.Join(strings.Fields(name), "-"))
	}

	var matched []string
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, v := range variants {
			if strings.Contains(lower, v) {
				matched = append(matched, strings.TrimSpace(line))
				break
			}
		}
	}
	out := strings.TrimSpace(strings.Join(matched, " "))
	if out == "" {
		return note.Placeholder
	}
	return out
}
