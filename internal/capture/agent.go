package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwulff/clinote/internal/daemon"
	"github.com/jwulff/clinote/internal/fault"
	"github.com/jwulff/clinote/internal/note"
	"github.com/jwulff/clinote/internal/observability"
	"github.com/jwulff/clinote/internal/settings"
)

const (
	transcribeTimeout = 10 * time.Minute
	summarizeTimeout  = 3 * time.Minute
	eventTimeout      = 2 * time.Second
	levelBins         = 32
)

// Option configures an Agent.
type Option func(*Agent)

// WithSegmentDuration sets the recording segment length.
func WithSegmentDuration(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.segment = d
		}
	}
}

// WithSummaryDelay sets the quiet period before a summary request.
func WithSummaryDelay(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.summaryDelay = d
		}
	}
}

// WithAfterFunc replaces the timer used to debounce summaries.
func WithAfterFunc(f AfterFunc) Option {
	return func(a *Agent) { a.after = f }
}

// WithVisualizationInterval sets the level meter cadence.
func WithVisualizationInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.vizInterval = d
		}
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(f func() string) Option {
	return func(a *Agent) { a.newID = f }
}

// Status is a snapshot of the agent's session.
type Status struct {
	State      State
	Source     Source
	SessionID  string
	Transcript string
	Summary    *note.StructuredNote
}

// Agent owns the recording device and the live session. It is driven by
// commands from the orchestrator and talks back to it through orch.
type Agent struct {
	devices Devices
	orch    daemon.Sender

	segment      time.Duration
	summaryDelay time.Duration
	vizInterval  time.Duration
	after        AfterFunc
	newID        func() string

	settings *settings.Cache
	summary  *debouncer

	events    chan daemon.Event
	quit      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once

	// op serializes lifecycle operations.
	op sync.Mutex

	mu         sync.Mutex
	state      State
	source     Source
	sessionID  string
	transcript string
	note       *note.StructuredNote
	stream     Stream
	rec        *recording
	mime       string
	finalizing chan struct{}
	vizCancel  context.CancelFunc
	vizDone    chan struct{}
}

// New returns an idle agent. Call Close to release its resources.
func New(devices Devices, orch daemon.Sender, opts ...Option) *Agent {
	a := &Agent{
		devices:      devices,
		orch:         orch,
		segment:      SegmentDuration,
		summaryDelay: SummaryDelay,
		vizInterval:  VisualizationInterval,
		after:        realAfterFunc,
		newID:        uuid.NewString,
		events:       make(chan daemon.Event, 256),
		quit:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
		state:        Idle,
	}
	for _, o := range opts {
		o(a)
	}
	a.settings = settings.NewCache(a.fetchSettings)
	a.summary = newDebouncer(a.summaryDelay, a.after, a.summarize)
	go a.pump()
	return a
}

// Announce tells the orchestrator the agent is ready.
func (a *Agent) Announce(ctx context.Context) error {
	resp, err := a.orch.Send(ctx, daemon.Command{Cmd: daemon.CmdAgentLoaded})
	if err != nil {
		return err
	}
	return daemon.ResponseError(resp)
}

// Status returns a snapshot of the session.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		State:      a.state,
		Source:     a.source,
		SessionID:  a.sessionID,
		Transcript: a.transcript,
		Summary:    a.note,
	}
}

// State returns the current recording state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start begins recording. An active recording is stopped and finalized
// first, and a finalization in progress is waited for, so at most one
// stream is ever held.
func (a *Agent) Start(ctx context.Context) (string, error) {
	a.op.Lock()
	defer a.op.Unlock()

	if a.State() == Recording {
		a.stopLocked(true)
	}
	if err := a.awaitFinalize(ctx); err != nil {
		return "", err
	}

	a.mu.Lock()
	if a.sessionID == "" {
		a.sessionID = a.newID()
	}
	session := a.sessionID
	a.mu.Unlock()

	log := observability.LoggerFromContext(observability.WithSession(ctx, session))
	a.setState(Requesting)

	stream, source, err := acquire(ctx, a.devices)
	if err != nil {
		log.Warn("acquire audio", "error", err)
		a.setState(Idle)
		a.publish(daemon.ErrorEvent(err))
		return session, err
	}

	mime := SelectEncoding(a.devices.Supports)
	rec := &recording{}
	if err := stream.Record(mime, a.segment, rec.add); err != nil {
		stream.Release()
		err = classifyAcquire(err)
		log.Warn("start recorder", "mime", mime, "error", err)
		a.setState(Idle)
		a.publish(daemon.ErrorEvent(err))
		return session, err
	}

	a.mu.Lock()
	a.stream, a.rec, a.mime, a.source = stream, rec, mime, source
	a.mu.Unlock()
	a.setState(Recording)
	a.startViz(stream)

	log.Info("recording started", "source", source, "mime", mime)
	return session, nil
}

// Stop ends the recording. The device is released and the segments are
// assembled before Stop returns; transcription continues in the background
// and the agent returns to Idle once its text is appended.
func (a *Agent) Stop(ctx context.Context) error {
	a.op.Lock()
	defer a.op.Unlock()
	a.stopLocked(true)
	return nil
}

// NewSession discards the live session and starts a fresh one. A recording
// in progress is dropped without transcription, and results still in flight
// for the old session are ignored when they arrive.
func (a *Agent) NewSession(ctx context.Context) string {
	a.op.Lock()
	defer a.op.Unlock()

	a.stopLocked(false)
	a.summary.Reset()
	a.settings.Invalidate()

	a.mu.Lock()
	a.sessionID = a.newID()
	a.transcript = ""
	a.note = nil
	a.source = ""
	a.finalizing = nil
	id := a.sessionID
	a.mu.Unlock()

	a.setState(Idle)
	a.publish(daemon.Event{Event: daemon.EventSession, SessionID: id})
	observability.LoggerFromContext(observability.WithSession(ctx, id)).Info("new session")
	return id
}

// InvalidateSettings drops the cached settings.
func (a *Agent) InvalidateSettings() {
	a.settings.Invalidate()
}

// Close releases the device and stops background work.
func (a *Agent) Close() {
	a.op.Lock()
	a.stopLocked(false)
	a.op.Unlock()
	a.summary.Reset()
	a.closeOnce.Do(func() { close(a.quit) })
	<-a.pumpDone
}

func (a *Agent) awaitFinalize(ctx context.Context) error {
	a.mu.Lock()
	done := a.finalizing
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fault.Wrap(fault.Availability, "start-capture", errors.New("previous recording is still being transcribed"))
	}
}

// stopLocked tears down the active recording. Callers hold a.op.
func (a *Agent) stopLocked(transcribe bool) {
	a.mu.Lock()
	if a.state != Recording {
		a.mu.Unlock()
		return
	}
	stream, rec, mime, session := a.stream, a.rec, a.mime, a.sessionID
	a.stream, a.rec = nil, nil
	done := make(chan struct{})
	a.finalizing = done
	a.mu.Unlock()

	a.stopViz()
	a.setState(Finalizing)

	log := observability.WithFields("session_id", session)
	if err := stream.StopRecording(); err != nil {
		log.Warn("stop recorder", "error", err)
	}
	stream.Release()
	blob, blobMime := rec.assemble(mime)

	if !transcribe || len(blob) == 0 {
		a.finishFinalize(done)
		return
	}
	log.Info("recording stopped", "bytes", len(blob), "mime", blobMime)
	go a.finalize(session, blob, blobMime, done)
}

func (a *Agent) finalize(session string, blob []byte, mime string, done chan struct{}) {
	defer a.finishFinalize(done)

	ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
	defer cancel()
	ctx = observability.WithSession(ctx, session)
	log := observability.LoggerFromContext(ctx)

	resp, err := a.orch.Send(ctx, daemon.Command{
		Cmd:         daemon.CmdTranscribeAudio,
		SessionID:   session,
		AudioBase64: base64.StdEncoding.EncodeToString(blob),
		MimeType:    mime,
	})
	if err == nil {
		err = daemon.ResponseError(resp)
	}
	if err != nil {
		log.Warn("transcribe", "error", err)
		a.publish(daemon.ErrorEvent(err))
		return
	}

	text := strings.TrimSpace(resp.Transcript)
	if text == "" {
		return
	}
	a.mu.Lock()
	if a.sessionID != session {
		a.mu.Unlock()
		log.Info("discarding transcript for stale session")
		return
	}
	if a.transcript != "" {
		a.transcript += "\n"
	}
	a.transcript += text
	full := a.transcript
	a.mu.Unlock()

	a.publish(daemon.Event{Event: daemon.EventTranscript, Text: full, SessionID: session})
	a.summary.Trigger()
}

func (a *Agent) finishFinalize(done chan struct{}) {
	a.mu.Lock()
	owned := a.finalizing == done
	if owned {
		a.finalizing = nil
	}
	// A finalization discarded by NewSession must not end a newer one.
	changed := owned && a.state == Finalizing
	if changed {
		a.state = Idle
	}
	ev := a.statusEventLocked()
	a.mu.Unlock()

	if changed {
		a.publish(ev)
	}
	close(done)
}

// summarize is the debounced summary request.
func (a *Agent) summarize() {
	a.mu.Lock()
	session, transcript := a.sessionID, a.transcript
	a.mu.Unlock()
	if strings.TrimSpace(transcript) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
	defer cancel()
	ctx = observability.WithSession(ctx, session)
	log := observability.LoggerFromContext(ctx)

	s, err := a.settings.Get(ctx)
	if err != nil {
		log.Warn("get settings", "error", err)
		a.publish(daemon.ErrorEvent(err))
		return
	}
	if !s.PrivacyConsent {
		log.Debug("summary skipped without privacy consent")
		return
	}

	resp, err := a.orch.Send(ctx, daemon.Command{
		Cmd:        daemon.CmdProcessTranscript,
		SessionID:  session,
		Transcript: transcript,
		Specialty:  string(s.Specialty),
	})
	if err == nil {
		err = daemon.ResponseError(resp)
	}
	if err != nil {
		log.Warn("process transcript", "error", err)
		a.publish(daemon.ErrorEvent(err))
		return
	}
	if resp.Summary == nil {
		return
	}

	a.mu.Lock()
	if a.sessionID != session {
		a.mu.Unlock()
		log.Info("discarding summary for stale session")
		return
	}
	a.note = resp.Summary
	a.mu.Unlock()

	a.publish(daemon.Event{Event: daemon.EventSummary, SessionID: session, Summary: resp.Summary})
}

func (a *Agent) fetchSettings(ctx context.Context) (settings.Settings, error) {
	resp, err := a.orch.Send(ctx, daemon.Command{Cmd: daemon.CmdGetSettings})
	if err != nil {
		return settings.Settings{}, err
	}
	if err := daemon.ResponseError(resp); err != nil {
		return settings.Settings{}, err
	}
	if resp.Settings == nil {
		return settings.Settings{}, fault.New(fault.Transport, "get-settings", "response carried no settings")
	}
	return *resp.Settings, nil
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	if a.state == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	ev := a.statusEventLocked()
	a.mu.Unlock()
	a.publish(ev)
}

func (a *Agent) statusEventLocked() daemon.Event {
	return daemon.Event{
		Event:     daemon.EventStatus,
		State:     string(a.state),
		Recording: daemon.BoolPtr(a.state == Recording),
		SessionID: a.sessionID,
	}
}

func (a *Agent) startViz(s Stream) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mu.Lock()
	a.vizCancel, a.vizDone = cancel, done
	a.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(a.vizInterval)
		defer t.Stop()
		bins := make([]float32, SpectrumBins)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			if ctx.Err() != nil {
				return
			}
			s.FrequencyData(bins)
			level := Level(bins)
			a.publishLevel(daemon.Event{Event: daemon.EventLevel, Level: &level, Bins: Downsample(bins, levelBins)})
		}
	}()
}

// stopViz cancels the level meter and waits for it to exit.
func (a *Agent) stopViz() {
	a.mu.Lock()
	cancel, done := a.vizCancel, a.vizDone
	a.vizCancel, a.vizDone = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Agent) publish(ev daemon.Event) {
	select {
	case a.events <- ev:
	case <-a.quit:
	}
}

// publishLevel drops the sample when the queue is full.
func (a *Agent) publishLevel(ev daemon.Event) {
	select {
	case a.events <- ev:
	default:
	}
}

// pump forwards events to the orchestrator in order. Level samples queued
// before the recording ended are dropped.
func (a *Agent) pump() {
	defer close(a.pumpDone)
	log := observability.WithFields("component", "capture")
	for {
		select {
		case <-a.quit:
			return
		case ev := <-a.events:
			if ev.Event == daemon.EventLevel && a.State() != Recording {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			_, err := a.orch.Send(ctx, daemon.Command{Cmd: daemon.CmdAgentEvent, SessionID: ev.SessionID, Event: &ev})
			cancel()
			if err != nil {
				log.Debug("forward event", "event", ev.Event, "error", err)
			}
		}
	}
}
