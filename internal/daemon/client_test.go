package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/jwulff/clinote/internal/fault"
)

// startMockDaemon creates a Unix socket that accepts one connection,
// reads a command, and writes back a canned response. A nil response
// closes the connection without replying.
func startMockDaemon(t *testing.T, response *Response) (string, func()) {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// Read one line (the command)
		buf := make([]byte, 4096)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		if response == nil {
			return
		}

		data, _ := json.Marshal(response)
		data = append(data, '\n')
		conn.Write(data)
	}()

	return sockPath, func() {
		ln.Close()
		os.Remove(sockPath)
	}
}

func TestClientSendCommand(t *testing.T) {
	resp := Response{
		OK:        true,
		SessionID: "sess-1",
		Recording: BoolPtr(true),
	}

	sockPath, cleanup := startMockDaemon(t, &resp)
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	got, err := client.SendCommand(Command{Cmd: CmdStartCapture})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !got.OK {
		t.Error("ok = false, want true")
	}
	if got.SessionID != "sess-1" {
		t.Errorf("sessionId = %q, want %q", got.SessionID, "sess-1")
	}
}

func TestClientClosedWithoutReply(t *testing.T) {
	sockPath, cleanup := startMockDaemon(t, nil)
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	_, err = client.SendCommand(Command{Cmd: CmdPing})
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("err = %v, want ErrNoResponse", err)
	}
	if !fault.Is(err, fault.Transport) {
		t.Errorf("kind = %q, want transport", fault.KindOf(err))
	}
}

func TestClientConnectFailure(t *testing.T) {
	_, err := Connect("/nonexistent/path/clinote.sock")
	if err == nil {
		t.Fatal("expected error connecting to nonexistent socket")
	}
	if !errors.Is(err, ErrNoResponder) {
		t.Errorf("err = %v, want ErrNoResponder", err)
	}
}

func TestDialerMissingSocket(t *testing.T) {
	d := Dialer{Path: filepath.Join(t.TempDir(), "absent.sock")}
	_, err := d.Send(context.Background(), Command{Cmd: CmdPing})
	if !fault.Is(err, fault.Transport) {
		t.Errorf("err = %v, want transport failure", err)
	}
}

func TestDialerRoundTrip(t *testing.T) {
	sockPath, cleanup := startMockDaemon(t, &Response{OK: true, Message: "pong"})
	defer cleanup()

	got, err := Dialer{Path: sockPath}.Send(context.Background(), Command{Cmd: CmdPing})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Message != "pong" {
		t.Errorf("message = %q", got.Message)
	}
}

func TestLocalUnload(t *testing.T) {
	calls := 0
	l := NewLocal(HandlerFunc(func(ctx context.Context, cmd Command) Response {
		calls++
		return OK()
	}))
	ctx := context.Background()

	if _, err := l.Send(ctx, Command{Cmd: CmdPing}); err != nil {
		t.Fatalf("loaded send: %v", err)
	}

	l.Unload()
	_, err := l.Send(ctx, Command{Cmd: CmdPing})
	if !errors.Is(err, ErrNoResponder) || !fault.Is(err, fault.Transport) {
		t.Errorf("err = %v, want transport ErrNoResponder", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// startMockEventStream creates a daemon that sends a subscribe response
// then streams events.
func startMockEventStream(t *testing.T, events []Event) (string, func()) {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// Read subscribe command
		buf := make([]byte, 4096)
		conn.Read(buf)

		// Send subscribe response
		resp, _ := json.Marshal(Response{OK: true})
		conn.Write(append(resp, '\n'))

		// Stream events
		for _, ev := range events {
			data, _ := json.Marshal(ev)
			conn.Write(append(data, '\n'))
		}
	}()

	return sockPath, func() {
		ln.Close()
		os.Remove(sockPath)
	}
}

func TestClientReadEvents(t *testing.T) {
	level := float32(0.5)
	events := []Event{
		{Event: EventTranscript, Text: "hello"},
		{Event: EventLevel, Level: &level},
	}

	sockPath, cleanup := startMockEventStream(t, events)
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	// Send subscribe
	_, err = client.SendCommand(Command{Cmd: CmdSubscribe})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Read first event
	ev1, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("read event 1: %v", err)
	}
	if ev1.Event != EventTranscript || ev1.Text != "hello" {
		t.Errorf("event1 = %+v", ev1)
	}

	// Read second event
	ev2, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("read event 2: %v", err)
	}
	if ev2.Event != EventLevel || ev2.Level == nil || *ev2.Level != 0.5 {
		t.Errorf("event2 = %+v", ev2)
	}

	// Stream ends
	if _, err := client.ReadEvent(); !errors.Is(err, ErrNoResponse) {
		t.Errorf("err after stream end = %v, want ErrNoResponse", err)
	}
}
