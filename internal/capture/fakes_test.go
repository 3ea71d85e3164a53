package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/clinote/internal/daemon"
	"github.com/jwulff/clinote/internal/settings"
)

type fakeStream struct {
	mu        sync.Mutex
	sink      func(Chunk)
	mime      string
	recordErr error
	stopped   int
	released  int
	freqCalls int
}

func (s *fakeStream) Record(mimeType string, segment time.Duration, sink func(Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.sink, s.mime = sink, mimeType
	return nil
}

func (s *fakeStream) emit(data string) {
	s.mu.Lock()
	sink, mime := s.sink, s.mime
	s.mu.Unlock()
	sink(Chunk{Data: []byte(data), MimeType: mime})
}

func (s *fakeStream) StopRecording() error {
	s.mu.Lock()
	s.stopped++
	s.sink = nil
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) FrequencyData(dst []float32) {
	s.mu.Lock()
	s.freqCalls++
	s.mu.Unlock()
	for i := range dst {
		dst[i] = 0.5
	}
}

func (s *fakeStream) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *fakeStream) counts() (stopped, released, freq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, s.released, s.freqCalls
}

type fakeDevices struct {
	mu         sync.Mutex
	micErr     error
	displayErr error
	supported  map[string]bool
	streams    []*fakeStream
	micCalls   int
	dispCalls  int
}

func (d *fakeDevices) newStream() *fakeStream {
	s := &fakeStream{}
	d.streams = append(d.streams, s)
	return s
}

func (d *fakeDevices) Microphone(context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.micCalls++
	if d.micErr != nil {
		return nil, d.micErr
	}
	return d.newStream(), nil
}

func (d *fakeDevices) DisplayAudio(context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispCalls++
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	return d.newStream(), nil
}

func (d *fakeDevices) Supports(mimeType string) bool {
	if d.supported == nil {
		return mimeType == BestEncoding
	}
	return d.supported[mimeType]
}

func (d *fakeDevices) stream(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

// fakeOrch stands in for the orchestrator.
type fakeOrch struct {
	mu         sync.Mutex
	cmds       []daemon.Command
	events     []daemon.Event
	settings   settings.Settings
	transcribe func(daemon.Command) daemon.Response
	summarize  func(daemon.Command) daemon.Response
}

func newFakeOrch() *fakeOrch {
	s := settings.Default()
	s.PrivacyConsent = true
	return &fakeOrch{settings: s}
}

func (o *fakeOrch) Send(ctx context.Context, cmd daemon.Command) (daemon.Response, error) {
	o.mu.Lock()
	if cmd.Cmd == daemon.CmdAgentEvent {
		o.events = append(o.events, *cmd.Event)
		o.mu.Unlock()
		return daemon.OK(), nil
	}
	o.cmds = append(o.cmds, cmd)
	s := o.settings
	transcribe, summarize := o.transcribe, o.summarize
	o.mu.Unlock()

	switch cmd.Cmd {
	case daemon.CmdGetSettings:
		return daemon.Response{OK: true, Settings: &s}, nil
	case daemon.CmdTranscribeAudio:
		if transcribe != nil {
			return transcribe(cmd), nil
		}
		return daemon.Response{OK: true, Transcript: "hello"}, nil
	case daemon.CmdProcessTranscript:
		if summarize != nil {
			return summarize(cmd), nil
		}
		return daemon.OK(), nil
	}
	return daemon.OK(), nil
}

func (o *fakeOrch) commands(name string) []daemon.Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []daemon.Command
	for _, c := range o.cmds {
		if c.Cmd == name {
			out = append(out, c)
		}
	}
	return out
}

func (o *fakeOrch) eventsNamed(name string) []daemon.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []daemon.Event
	for _, e := range o.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock records scheduled calls and runs them on demand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	f     func()
	done  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

// FireAll runs every pending call and returns how many ran.
func (c *fakeClock) FireAll() int {
	c.mu.Lock()
	var due []func()
	for _, t := range c.timers {
		if !t.done {
			t.done = true
			due = append(due, t.f)
		}
	}
	c.timers = nil
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
	return len(due)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
