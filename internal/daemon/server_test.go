package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func startServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "srv.sock")
	srv := NewServer("test", h)
	if err := srv.Listen(sockPath); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, sockPath
}

func TestServerRoundTrip(t *testing.T) {
	_, sockPath := startServer(t, HandlerFunc(func(ctx context.Context, cmd Command) Response {
		if cmd.Cmd != CmdProcessTranscript {
			return ErrorResponse(context.Canceled)
		}
		return Response{OK: true, Message: "got " + cmd.Transcript}
	}))

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	for i := 0; i < 3; i++ {
		resp, err := client.SendCommand(Command{Cmd: CmdProcessTranscript, Transcript: "plan: rest"})
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if !resp.OK || resp.Message != "got plan: rest" {
			t.Errorf("resp %d = %+v", i, resp)
		}
	}

	resp, err := client.SendCommand(Command{Cmd: "bogus"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK || resp.Kind == "" {
		t.Errorf("error response should be classified, got %+v", resp)
	}
}

func TestServerInvalidLine(t *testing.T) {
	_, sockPath := startServer(t, HandlerFunc(func(ctx context.Context, cmd Command) Response {
		return OK()
	}))

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	client.conn.Write([]byte("{not json\n"))
	if !client.scanner.Scan() {
		t.Fatal("no reply to invalid line")
	}
	if got := string(client.scanner.Bytes()); got == "" {
		t.Error("empty reply")
	}
	resp, err := client.SendCommand(Command{Cmd: CmdPing})
	if err != nil || !resp.OK {
		t.Errorf("connection should survive an invalid line: %+v %v", resp, err)
	}
}

func TestServerBroadcastToSubscribers(t *testing.T) {
	srv, sockPath := startServer(t, HandlerFunc(func(ctx context.Context, cmd Command) Response {
		return OK()
	}))

	sub, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sub.Close()
	if _, err := sub.SendCommand(Command{Cmd: CmdSubscribe, Events: []string{EventSummary}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	plain, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer plain.Close()

	srv.Broadcast(Event{Event: EventLevel})
	srv.Broadcast(Event{Event: EventSummary, SessionID: "s1"})

	ev, err := sub.ReadEvent()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Event != EventSummary || ev.SessionID != "s1" {
		t.Errorf("event = %+v, filtered level event should be skipped", ev)
	}

	// The unsubscribed connection still gets plain responses, not events.
	resp, err := plain.SendCommand(Command{Cmd: CmdPing})
	if err != nil || !resp.OK {
		t.Errorf("plain connection: %+v %v", resp, err)
	}
}
