// Package orchestrator routes commands between the control surface, the
// capture agent, and the transcription and summarization backends.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jwulff/clinote/internal/daemon"
	"github.com/jwulff/clinote/internal/db"
	"github.com/jwulff/clinote/internal/fault"
	"github.com/jwulff/clinote/internal/note"
	"github.com/jwulff/clinote/internal/observability"
	"github.com/jwulff/clinote/internal/settings"
	"github.com/jwulff/clinote/internal/summarize"
	"github.com/jwulff/clinote/internal/transcribe"
)

const (
	DefaultProbeTimeout = 2 * time.Second
	DefaultInjectWait   = 5 * time.Second
	notifyTimeout       = 2 * time.Second
)

var (
	ErrConsentRequired = errors.New("privacy consent is required before recording or summarizing")
	ErrEmptyTranscript = errors.New("transcript is empty")
	ErrNoInjector      = errors.New("capture agent cannot be restarted")
)

// Injector starts a fresh capture agent.
type Injector interface {
	Inject(ctx context.Context) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context) error

func (f InjectorFunc) Inject(ctx context.Context) error { return f(ctx) }

// Archive stores transcripts and notes when the user asks to keep them.
type Archive interface {
	BeginSession(ctx context.Context, id, specialty, backendMode string) error
	AppendSegment(ctx context.Context, sessionID, text string) (db.Segment, error)
	SaveSummary(ctx context.Context, sessionID, specialty, modelID string, n note.StructuredNote) error
	EndSession(ctx context.Context, id string) error
}

// Broadcaster fans events out to subscribers. *daemon.Server satisfies it.
type Broadcaster interface {
	Broadcast(ev daemon.Event)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithInjector sets how an unresponsive capture agent is restarted.
func WithInjector(i Injector) Option { return func(o *Orchestrator) { o.injector = i } }

// WithArchive enables the session archive.
func WithArchive(a Archive) Option { return func(o *Orchestrator) { o.archive = a } }

// WithBroadcaster sets where events are published.
func WithBroadcaster(b Broadcaster) Option { return func(o *Orchestrator) { o.events = b } }

// WithTranscribeConfig sets the transcription endpoints.
func WithTranscribeConfig(c transcribe.Config) Option {
	return func(o *Orchestrator) { o.transcribeCfg = c }
}

// WithSummarizeConfig sets the summarization endpoint.
func WithSummarizeConfig(c summarize.Config) Option {
	return func(o *Orchestrator) { o.summarizeCfg = c }
}

// WithProbeTimeout bounds the liveness probe sent before lifecycle commands.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithInjectWait bounds the wait for a re-injected agent to announce itself.
func WithInjectWait(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.injectWait = d
		}
	}
}

// Orchestrator implements daemon.Handler.
type Orchestrator struct {
	agent    daemon.Sender
	store    settings.Store
	settings *settings.Cache
	injector Injector
	archive  Archive
	events   Broadcaster

	transcribeCfg transcribe.Config
	summarizeCfg  summarize.Config
	probeTimeout  time.Duration
	injectWait    time.Duration

	mu       sync.Mutex
	loaded   chan struct{}
	archived string
}

// New returns an orchestrator that reaches the capture agent through agent
// and keeps settings in store.
func New(agent daemon.Sender, store settings.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		agent:        agent,
		store:        store,
		probeTimeout: DefaultProbeTimeout,
		injectWait:   DefaultInjectWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.settings = settings.NewCache(store.Get)
	return o
}

// Handle routes one command. Every failure is classified.
func (o *Orchestrator) Handle(ctx context.Context, cmd daemon.Command) daemon.Response {
	if cmd.SessionID != "" {
		ctx = observability.WithSession(ctx, cmd.SessionID)
	}

	switch cmd.Cmd {
	case daemon.CmdPing:
		return daemon.Response{OK: true, Message: "pong"}

	case daemon.CmdStartCapture:
		s, err := o.settings.Get(ctx)
		if err != nil {
			return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, err))
		}
		if !s.PrivacyConsent {
			return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, ErrConsentRequired))
		}
		return o.lifecycle(ctx, cmd)

	case daemon.CmdStopCapture, daemon.CmdStatus:
		return o.lifecycle(ctx, cmd)

	case daemon.CmdNewSession:
		resp := o.lifecycle(ctx, cmd)
		if resp.OK {
			o.endArchived(ctx)
			o.settings.Invalidate()
		}
		return resp

	case daemon.CmdTranscribeAudio:
		return o.transcribe(ctx, cmd)

	case daemon.CmdProcessTranscript:
		return o.process(ctx, cmd)

	case daemon.CmdGetSettings:
		s, err := o.settings.Get(ctx)
		if err != nil {
			return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, err))
		}
		return daemon.Response{OK: true, Settings: &s}

	case daemon.CmdUpdateSettings:
		return o.updateSettings(ctx, cmd)

	case daemon.CmdAgentLoaded:
		o.markLoaded()
		o.broadcast(daemon.Event{Event: daemon.EventAgent, Message: "loaded"})
		observability.LoggerFromContext(ctx).Info("capture agent loaded")
		return daemon.OK()

	case daemon.CmdAgentEvent:
		if cmd.Event != nil {
			o.broadcast(*cmd.Event)
		}
		return daemon.OK()

	case daemon.CmdBackendStatus:
		return o.backendStatus(ctx)

	default:
		return daemon.ErrorResponse(fault.New(fault.Configuration, cmd.Cmd, "unknown command %q", cmd.Cmd))
	}
}

// lifecycle forwards cmd to the capture agent behind a liveness probe. An
// unresponsive agent is re-injected once and the command retried once; a
// second failure is terminal.
func (o *Orchestrator) lifecycle(ctx context.Context, cmd daemon.Command) daemon.Response {
	log := observability.LoggerFromContext(ctx)

	resp, err := o.forward(ctx, cmd)
	if err == nil {
		return resp
	}
	log.Warn("capture agent unresponsive, re-injecting", "cmd", cmd.Cmd, "error", err)

	if ierr := o.reinject(ctx); ierr != nil {
		return daemon.ErrorResponse(fault.Wrap(fault.Transport, cmd.Cmd, fmt.Errorf("re-inject capture agent: %w", ierr)))
	}
	resp, err = o.forward(ctx, cmd)
	if err != nil {
		log.Error("capture agent unavailable after re-injection", "cmd", cmd.Cmd, "error", err)
		return daemon.ErrorResponse(fault.Wrap(fault.Transport, cmd.Cmd, fmt.Errorf("capture agent unavailable after re-injection: %w", err)))
	}
	return resp
}

func (o *Orchestrator) forward(ctx context.Context, cmd daemon.Command) (daemon.Response, error) {
	pctx, cancel := context.WithTimeout(ctx, o.probeTimeout)
	probe, err := o.agent.Send(pctx, daemon.Command{Cmd: daemon.CmdPing})
	cancel()
	if err != nil {
		return daemon.Response{}, err
	}
	if !probe.OK {
		return daemon.Response{}, fault.New(fault.Transport, "ping", "liveness probe failed: %s", probe.Error)
	}
	return o.agent.Send(ctx, cmd)
}

func (o *Orchestrator) reinject(ctx context.Context) error {
	if o.injector == nil {
		return ErrNoInjector
	}
	ready := make(chan struct{})
	o.mu.Lock()
	o.loaded = ready
	o.mu.Unlock()

	if err := o.injector.Inject(ctx); err != nil {
		return err
	}
	t := time.NewTimer(o.injectWait)
	defer t.Stop()
	select {
	case <-ready:
	case <-t.C:
		observability.LoggerFromContext(ctx).Warn("capture agent did not announce itself", "wait", o.injectWait)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (o *Orchestrator) markLoaded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded != nil {
		close(o.loaded)
		o.loaded = nil
	}
}

func (o *Orchestrator) transcribe(ctx context.Context, cmd daemon.Command) daemon.Response {
	log := observability.LoggerFromContext(ctx)
	if cmd.AudioBase64 == "" {
		return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, transcribe.ErrEmptyAudio))
	}
	audio, err := base64.StdEncoding.DecodeString(cmd.AudioBase64)
	if err != nil {
		return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, fmt.Errorf("decode audio: %w", err)))
	}

	s, err := o.settings.Get(ctx)
	if err != nil {
		return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, err))
	}
	backend, err := transcribe.ForSettings(s, o.transcribeCfg)
	if err != nil {
		return daemon.ErrorResponse(err)
	}

	start := time.Now()
	text, err := backend.Transcribe(ctx, audio, cmd.MimeType)
	if err != nil {
		log.Warn("transcription failed", "mode", s.BackendMode, "error", err)
		return daemon.ErrorResponse(fault.Classify(cmd.Cmd, err))
	}
	log.Info("transcribed", "mode", s.BackendMode, "bytes", len(audio), "chars", len(text), "took", time.Since(start))

	if s.SaveTranscripts && cmd.SessionID != "" && text != "" {
		o.archiveSegment(ctx, s, cmd.SessionID, text)
	}
	return daemon.Response{OK: true, SessionID: cmd.SessionID, Transcript: text}
}

func (o *Orchestrator) process(ctx context.Context, cmd daemon.Command) daemon.Response {
	log := observability.LoggerFromContext(ctx)
	if strings.TrimSpace(cmd.Transcript) == "" {
		return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, ErrEmptyTranscript))
	}
	s, err := o.settings.Get(ctx)
	if err != nil {
		return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, err))
	}
	if !s.PrivacyConsent {
		return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, ErrConsentRequired))
	}
	if s.Cloud() && strings.TrimSpace(s.APIKey) == "" {
		return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, summarize.ErrMissingAPIKey))
	}

	specialty := s.Specialty
	if cmd.Specialty != "" {
		specialty = settings.Specialty(cmd.Specialty)
	}
	specialty = specialty.Normalize()

	client := summarize.ForSettings(s, o.summarizeCfg)
	o.broadcast(daemon.Event{Event: daemon.EventModelProcessing, SessionID: cmd.SessionID, ModelProcessing: daemon.BoolPtr(true)})
	start := time.Now()
	n := client.Summarize(ctx, cmd.Transcript, specialty)
	o.broadcast(daemon.Event{Event: daemon.EventModelProcessing, SessionID: cmd.SessionID, ModelProcessing: daemon.BoolPtr(false)})
	log.Info("summarized", "mode", s.BackendMode, "specialty", specialty, "took", time.Since(start))

	if s.SaveTranscripts && cmd.SessionID != "" && o.archive != nil {
		o.beginArchived(ctx, s, cmd.SessionID)
		if err := o.archive.SaveSummary(ctx, cmd.SessionID, string(specialty), client.Model(), n); err != nil {
			log.Warn("archive summary", "error", err)
		}
	}
	return daemon.Response{OK: true, SessionID: cmd.SessionID, Summary: &n}
}

func (o *Orchestrator) updateSettings(ctx context.Context, cmd daemon.Command) daemon.Response {
	if cmd.Settings == nil {
		return daemon.ErrorResponse(fault.New(fault.Configuration, cmd.Cmd, "no settings given"))
	}
	next, err := o.store.Update(ctx, *cmd.Settings)
	o.settings.Invalidate()
	if err != nil {
		return daemon.ErrorResponse(fault.Wrap(fault.Configuration, cmd.Cmd, err))
	}

	// The agent may not be loaded; it refetches on its next session anyway.
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if _, err := o.agent.Send(nctx, daemon.Command{Cmd: daemon.CmdSettingsChanged}); err != nil {
		observability.LoggerFromContext(ctx).Debug("notify capture agent", "error", err)
	}
	return daemon.Response{OK: true, Settings: &next}
}

func (o *Orchestrator) backendStatus(ctx context.Context) daemon.Response {
	ps, err := transcribe.NewLocalBackend(o.transcribeCfg).Probe(ctx)
	resp := daemon.Response{
		OK:          err == nil,
		Status:      ps.Status,
		ModelLoaded: daemon.BoolPtr(ps.ModelLoaded),
		Service:     ps.Service,
	}
	if err != nil {
		e := daemon.ErrorResponse(err)
		resp.Error, resp.Kind = e.Error, e.Kind
	}
	return resp
}

func (o *Orchestrator) archiveSegment(ctx context.Context, s settings.Settings, sessionID, text string) {
	if o.archive == nil {
		return
	}
	o.beginArchived(ctx, s, sessionID)
	if _, err := o.archive.AppendSegment(ctx, sessionID, text); err != nil {
		observability.LoggerFromContext(ctx).Warn("archive segment", "error", err)
	}
}

// beginArchived records sessionID, closing the previously archived session
// when the id changes.
func (o *Orchestrator) beginArchived(ctx context.Context, s settings.Settings, sessionID string) {
	o.mu.Lock()
	prev := o.archived
	o.archived = sessionID
	o.mu.Unlock()
	if prev == sessionID {
		return
	}

	log := observability.LoggerFromContext(ctx)
	if prev != "" {
		if err := o.archive.EndSession(ctx, prev); err != nil {
			log.Warn("end archived session", "session", prev, "error", err)
		}
	}
	if err := o.archive.BeginSession(ctx, sessionID, string(s.Specialty), string(s.BackendMode)); err != nil {
		log.Warn("begin archived session", "error", err)
	}
}

func (o *Orchestrator) endArchived(ctx context.Context) {
	o.mu.Lock()
	prev := o.archived
	o.archived = ""
	o.mu.Unlock()
	if prev == "" || o.archive == nil {
		return
	}
	if err := o.archive.EndSession(ctx, prev); err != nil {
		observability.LoggerFromContext(ctx).Warn("end archived session", "session", prev, "error", err)
	}
}

func (o *Orchestrator) broadcast(ev daemon.Event) {
	if o.events != nil {
		o.events.Broadcast(ev)
	}
}
