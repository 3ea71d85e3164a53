// Package daemon provides the NDJSON message protocol spoken between the
// control surface, the orchestrator, and the capture agent, with a Unix
// socket server and client for it.
package daemon

import (
	"errors"

	"github.com/jwulff/clinote/internal/fault"
	"github.com/jwulff/clinote/internal/note"
	"github.com/jwulff/clinote/internal/settings"
)

// Command names.
const (
	CmdStartCapture      = "start-capture"
	CmdStopCapture       = "stop-capture"
	CmdNewSession        = "new-session"
	CmdStatus            = "capture-agent-status"
	CmdTranscribeAudio   = "transcribe-audio"
	CmdProcessTranscript = "process-transcript"
	CmdGetSettings       = "get-settings"
	CmdUpdateSettings    = "update-settings"
	CmdSettingsChanged   = "settings-changed"
	CmdAgentLoaded       = "capture-agent-loaded"
	CmdAgentEvent        = "agent-event"
	CmdBackendStatus     = "backend-status"
	CmdPing              = "ping"
	CmdSubscribe         = "subscribe"
)

// Event names.
const (
	EventStatus          = "status"
	EventLevel           = "level"
	EventTranscript      = "transcript"
	EventSummary         = "summary"
	EventSession         = "session"
	EventError           = "error"
	EventModelProcessing = "model_processing"
	EventAgent           = "agent"
)

// Command is sent from a client to a server.
type Command struct {
	Cmd         string          `json:"cmd"`
	SessionID   string          `json:"sessionId,omitempty"`
	AudioBase64 string          `json:"audioBase64,omitempty"`
	MimeType    string          `json:"mimeType,omitempty"`
	Transcript  string          `json:"transcript,omitempty"`
	Specialty   string          `json:"specialty,omitempty"`
	Settings    *settings.Patch `json:"settings,omitempty"`
	Event       *Event          `json:"event,omitempty"`
	Events      []string        `json:"events,omitempty"`
}

// Response is returned by a server after processing a command.
type Response struct {
	OK            bool                 `json:"ok"`
	Error         string               `json:"error,omitempty"`
	Kind          string               `json:"kind,omitempty"`
	SessionID     string               `json:"sessionId,omitempty"`
	Recording     *bool                `json:"recording,omitempty"`
	State         string               `json:"state,omitempty"`
	HasTranscript *bool                `json:"hasTranscript,omitempty"`
	HasSummary    *bool                `json:"hasSummary,omitempty"`
	Transcript    string               `json:"transcript,omitempty"`
	Summary       *note.StructuredNote `json:"summary,omitempty"`
	Settings      *settings.Settings   `json:"settings,omitempty"`
	Status        string               `json:"status,omitempty"`
	ModelLoaded   *bool                `json:"modelLoaded,omitempty"`
	Service       string               `json:"service,omitempty"`
	Message       string               `json:"message,omitempty"`
}

// Event is streamed from a server to subscribed clients.
type Event struct {
	Event           string               `json:"event"`
	Text            string               `json:"text,omitempty"`
	Level           *float32             `json:"level,omitempty"`
	Bins            []float32            `json:"bins,omitempty"`
	State           string               `json:"state,omitempty"`
	SessionID       string               `json:"sessionId,omitempty"`
	Summary         *note.StructuredNote `json:"summary,omitempty"`
	Message         string               `json:"message,omitempty"`
	Kind            string               `json:"kind,omitempty"`
	Transient       *bool                `json:"transient,omitempty"`
	Recording       *bool                `json:"recording,omitempty"`
	ModelProcessing *bool                `json:"modelProcessing,omitempty"`
}

// BoolPtr returns a pointer to a bool value. Convenience for building commands.
func BoolPtr(b bool) *bool { return &b }

// OK returns a successful empty response.
func OK() Response { return Response{OK: true} }

// ErrorResponse encodes err with its classification.
func ErrorResponse(err error) Response {
	err = fault.Classify("", err)
	return Response{OK: false, Error: err.Error(), Kind: string(fault.KindOf(err))}
}

// ErrorEvent encodes err as an error event.
func ErrorEvent(err error) Event {
	err = fault.Classify("", err)
	return Event{Event: EventError, Message: err.Error(), Kind: string(fault.KindOf(err))}
}

// ResponseError rebuilds the classified error carried by a failed response.
// A successful response yields nil.
func ResponseError(resp Response) error {
	if resp.OK {
		return nil
	}
	msg := resp.Error
	if msg == "" {
		msg = "unknown error"
	}
	return &fault.Error{Kind: fault.ParseKind(resp.Kind), Err: errors.New(msg)}
}
