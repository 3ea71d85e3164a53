package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/clinote/internal/daemon"
	"github.com/jwulff/clinote/internal/db"
	"github.com/jwulff/clinote/internal/fault"
	"github.com/jwulff/clinote/internal/settings"
	"github.com/jwulff/clinote/internal/transcribe"
)

// recorder is a capture agent stand-in that logs the commands it sees.
type recorder struct {
	mu   sync.Mutex
	cmds []string
}

func (r *recorder) Handle(ctx context.Context, cmd daemon.Command) daemon.Response {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd.Cmd)
	r.mu.Unlock()
	switch cmd.Cmd {
	case daemon.CmdPing:
		return daemon.Response{OK: true, Message: "pong"}
	case daemon.CmdStartCapture:
		return daemon.Response{OK: true, SessionID: "sess-1", Recording: daemon.BoolPtr(true)}
	}
	return daemon.OK()
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.cmds {
		if c == name {
			n++
		}
	}
	return n
}

type events struct {
	mu  sync.Mutex
	evs []daemon.Event
}

func (e *events) Broadcast(ev daemon.Event) {
	e.mu.Lock()
	e.evs = append(e.evs, ev)
	e.mu.Unlock()
}

func (e *events) named(name string) []daemon.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []daemon.Event
	for _, ev := range e.evs {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func consenting() settings.Settings {
	s := settings.Default()
	s.PrivacyConsent = true
	return s
}

func newWhisperServer(t *testing.T, modelLoaded bool, transcript string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			json.NewEncoder(w).Encode(transcribe.PingStatus{Status: "ok", ModelLoaded: modelLoaded, Service: "whisper"})
		case "/transcribe":
			json.NewEncoder(w).Encode(map[string]string{"transcript": transcript})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLifecycleForwardsAfterProbe(t *testing.T) {
	agent := &recorder{}
	o := New(daemon.NewLocal(agent), settings.NewMemoryStore(consenting()))

	resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdStartCapture})
	if !resp.OK || resp.SessionID != "sess-1" {
		t.Fatalf("resp = %+v", resp)
	}
	if agent.count(daemon.CmdPing) != 1 || agent.count(daemon.CmdStartCapture) != 1 {
		t.Errorf("agent saw %v", agent.cmds)
	}
}

func TestStartRequiresConsent(t *testing.T) {
	agent := &recorder{}
	o := New(daemon.NewLocal(agent), settings.NewMemoryStore(settings.Default()))

	resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdStartCapture})
	if resp.OK || resp.Kind != string(fault.Configuration) {
		t.Errorf("resp = %+v", resp)
	}
	if agent.count(daemon.CmdStartCapture) != 0 {
		t.Error("agent started without consent")
	}
}

func TestLifecycleReinjectsOnce(t *testing.T) {
	agent := &recorder{}
	local := daemon.NewLocal(nil)
	injections := 0
	var o *Orchestrator
	o = New(local, settings.NewMemoryStore(consenting()),
		WithInjector(InjectorFunc(func(ctx context.Context) error {
			injections++
			local.Load(agent)
			o.Handle(ctx, daemon.Command{Cmd: daemon.CmdAgentLoaded})
			return nil
		})),
		WithInjectWait(time.Second),
	)

	resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdStopCapture})
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	if injections != 1 {
		t.Errorf("injections = %d, want 1", injections)
	}
	if agent.count(daemon.CmdStopCapture) != 1 {
		t.Errorf("stop delivered %d times", agent.count(daemon.CmdStopCapture))
	}
}

func TestLifecycleSecondFailureIsTerminal(t *testing.T) {
	injections := 0
	o := New(daemon.NewLocal(nil), settings.NewMemoryStore(consenting()),
		WithInjector(InjectorFunc(func(ctx context.Context) error {
			injections++
			return nil
		})),
		WithInjectWait(10*time.Millisecond),
	)

	resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdStatus})
	if resp.OK {
		t.Fatal("expected failure when the agent never loads")
	}
	if resp.Kind != string(fault.Transport) || resp.Error == "" {
		t.Errorf("resp = %+v, want classified transport error", resp)
	}
	if injections != 1 {
		t.Errorf("injections = %d, want exactly 1", injections)
	}
}

func TestLifecycleWithoutInjector(t *testing.T) {
	o := New(daemon.NewLocal(nil), settings.NewMemoryStore(consenting()))
	resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdStopCapture})
	if resp.OK || resp.Kind != string(fault.Transport) {
		t.Errorf("resp = %+v", resp)
	}
}

func TestLifecycleOverMissingSocket(t *testing.T) {
	o := New(daemon.Dialer{Path: t.TempDir() + "/absent.sock"}, settings.NewMemoryStore(consenting()))
	resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdStopCapture})
	if resp.OK || resp.Kind != string(fault.Transport) {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTranscribeLocalArchives(t *testing.T) {
	srv := newWhisperServer(t, true, "patient reports headache")
	store, err := db.OpenWritable(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()

	s := consenting()
	s.SaveTranscripts = true
	o := New(daemon.NewLocal(&recorder{}), settings.NewMemoryStore(s),
		WithTranscribeConfig(transcribe.Config{LocalURL: srv.URL}),
		WithArchive(store),
	)

	resp := o.Handle(context.Background(), daemon.Command{
		Cmd:         daemon.CmdTranscribeAudio,
		SessionID:   "sess-1",
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("audio")),
		MimeType:    "audio/webm",
	})
	if !resp.OK || resp.Transcript != "patient reports headache" {
		t.Fatalf("resp = %+v", resp)
	}

	transcript, err := store.Transcript("sess-1")
	if err != nil || transcript != "patient reports headache" {
		t.Errorf("archived transcript = %q, %v", transcript, err)
	}
}

func TestTranscribeModelNotReady(t *testing.T) {
	srv := newWhisperServer(t, false, "")
	o := New(daemon.NewLocal(&recorder{}), settings.NewMemoryStore(consenting()),
		WithTranscribeConfig(transcribe.Config{LocalURL: srv.URL}))

	resp := o.Handle(context.Background(), daemon.Command{
		Cmd:         daemon.CmdTranscribeAudio,
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("audio")),
	})
	if resp.OK || resp.Kind != string(fault.Availability) {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTranscribeCloudWithoutKey(t *testing.T) {
	s := consenting()
	s.BackendMode = settings.Cloud
	o := New(daemon.NewLocal(&recorder{}), settings.NewMemoryStore(s))

	resp := o.Handle(context.Background(), daemon.Command{
		Cmd:         daemon.CmdTranscribeAudio,
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("audio")),
	})
	if resp.OK || resp.Kind != string(fault.Configuration) {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTranscribeRejectsBadAudio(t *testing.T) {
	o := New(daemon.NewLocal(&recorder{}), settings.NewMemoryStore(consenting()))
	for _, payload := range []string{"", "not base64!"} {
		resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdTranscribeAudio, AudioBase64: payload})
		if resp.OK || resp.Kind != string(fault.Configuration) {
			t.Errorf("payload %q: resp = %+v", payload, resp)
		}
	}
}

func TestProcessTranscriptLocal(t *testing.T) {
	ev := &events{}
	store, err := db.OpenWritable(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()

	s := consenting()
	s.SaveTranscripts = true
	o := New(daemon.NewLocal(&recorder{}), settings.NewMemoryStore(s), WithBroadcaster(ev), WithArchive(store))

	resp := o.Handle(context.Background(), daemon.Command{
		Cmd:        daemon.CmdProcessTranscript,
		SessionID:  "sess-1",
		Transcript: "chief complaint: headache x3 days",
	})
	if !resp.OK || resp.Summary == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if got := resp.Summary.ChiefComplaint.Plain(); got != "chief complaint: headache x3 days" {
		t.Errorf("chief complaint = %q", got)
	}

	busy := ev.named(daemon.EventModelProcessing)
	if len(busy) != 2 || !*busy[0].ModelProcessing || *busy[1].ModelProcessing {
		t.Errorf("model_processing events = %+v", busy)
	}

	sum, err := store.LatestSummary("sess-1")
	if err != nil || sum == nil {
		t.Fatalf("archived summary = %v, %v", sum, err)
	}
	if sum.ModelID != "section-extraction" {
		t.Errorf("model = %q", sum.ModelID)
	}
}

func TestProcessTranscriptPreconditions(t *testing.T) {
	cloud := consenting()
	cloud.BackendMode = settings.Cloud

	tests := []struct {
		name       string
		settings   settings.Settings
		transcript string
	}{
		{"no consent", settings.Default(), "plan: rest"},
		{"empty transcript", consenting(), "  "},
		{"cloud without key", cloud, "plan: rest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(daemon.NewLocal(&recorder{}), settings.NewMemoryStore(tt.settings))
			resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdProcessTranscript, Transcript: tt.transcript})
			if resp.OK || resp.Kind != string(fault.Configuration) {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestUpdateSettingsInvalidatesAndNotifies(t *testing.T) {
	agent := &recorder{}
	o := New(daemon.NewLocal(agent), settings.NewMemoryStore(settings.Default()))
	ctx := context.Background()

	resp := o.Handle(ctx, daemon.Command{Cmd: daemon.CmdGetSettings})
	if !resp.OK || resp.Settings.PrivacyConsent {
		t.Fatalf("get = %+v", resp)
	}

	consent := true
	mode := settings.Cloud
	resp = o.Handle(ctx, daemon.Command{Cmd: daemon.CmdUpdateSettings, Settings: &settings.Patch{PrivacyConsent: &consent, BackendMode: &mode}})
	if !resp.OK || !resp.Settings.PrivacyConsent || !resp.Settings.Cloud() {
		t.Fatalf("update = %+v", resp)
	}
	if agent.count(daemon.CmdSettingsChanged) != 1 {
		t.Errorf("agent notified %d times", agent.count(daemon.CmdSettingsChanged))
	}

	resp = o.Handle(ctx, daemon.Command{Cmd: daemon.CmdGetSettings})
	if !resp.Settings.PrivacyConsent {
		t.Error("cached settings were not invalidated")
	}
}

func TestUpdateSettingsRejectsBadMode(t *testing.T) {
	o := New(daemon.NewLocal(nil), settings.NewMemoryStore(settings.Default()))
	mode := settings.BackendMode("hybrid")
	resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdUpdateSettings, Settings: &settings.Patch{BackendMode: &mode}})
	if resp.OK || resp.Kind != string(fault.Configuration) {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAgentEventsRelayed(t *testing.T) {
	ev := &events{}
	o := New(daemon.NewLocal(nil), settings.NewMemoryStore(settings.Default()), WithBroadcaster(ev))

	level := float32(0.3)
	o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdAgentEvent, Event: &daemon.Event{Event: daemon.EventLevel, Level: &level}})
	o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdAgentLoaded})

	if got := ev.named(daemon.EventLevel); len(got) != 1 || *got[0].Level != level {
		t.Errorf("level events = %+v", got)
	}
	if got := ev.named(daemon.EventAgent); len(got) != 1 {
		t.Errorf("agent events = %+v", got)
	}
}

func TestBackendStatus(t *testing.T) {
	srv := newWhisperServer(t, true, "")
	o := New(daemon.NewLocal(nil), settings.NewMemoryStore(settings.Default()),
		WithTranscribeConfig(transcribe.Config{LocalURL: srv.URL}))

	resp := o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdBackendStatus})
	if !resp.OK || resp.Status != "ok" || !*resp.ModelLoaded || resp.Service != "whisper" {
		t.Errorf("resp = %+v", resp)
	}

	srv.Close()
	resp = o.Handle(context.Background(), daemon.Command{Cmd: daemon.CmdBackendStatus})
	if resp.OK || resp.Kind != string(fault.Availability) {
		t.Errorf("resp after shutdown = %+v", resp)
	}
}

func TestUnknownCommand(t *testing.T) {
	o := New(daemon.NewLocal(nil), settings.NewMemoryStore(settings.Default()))
	resp := o.Handle(context.Background(), daemon.Command{Cmd: "bogus"})
	if resp.OK || resp.Kind != string(fault.Configuration) {
		t.Errorf("resp = %+v", resp)
	}
}
