package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jwulff/clinote/internal/fault"
)

var (
	// ErrNoResponse means the connection closed before a reply arrived.
	ErrNoResponse = errors.New("connection closed without a response")
	// ErrNoResponder means nothing is listening for the command.
	ErrNoResponder = errors.New("no responder")
)

// Sender delivers one command and waits for its one response.
type Sender interface {
	Send(ctx context.Context, cmd Command) (Response, error)
}

func appDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "Clinote")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clinote")
}

// SocketPath returns the default orchestrator socket path.
func SocketPath() string {
	return filepath.Join(appDir(), "clinote.sock")
}

// AgentSocketPath returns the default capture agent socket path.
func AgentSocketPath() string {
	return filepath.Join(appDir(), "capture.sock")
}

// Client holds a persistent connection to a daemon socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex
}

// Connect dials the daemon Unix socket.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fault.Wrap(fault.Transport, "connect", fmt.Errorf("%w: %v", ErrNoResponder, err))
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	return &Client{conn: conn, scanner: scanner}, nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SendCommand sends a command and reads one response line.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return Response{}, fault.Wrap(fault.Transport, cmd.Cmd, fmt.Errorf("write command: %w", err))
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fault.Wrap(fault.Transport, cmd.Cmd, fmt.Errorf("%w: %v", ErrNoResponse, err))
		}
		return Response{}, fault.Wrap(fault.Transport, cmd.Cmd, ErrNoResponse)
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fault.Wrap(fault.Transport, cmd.Cmd, fmt.Errorf("unmarshal response: %w", err))
	}

	return resp, nil
}

// Send is SendCommand bounded by ctx.
func (c *Client) Send(ctx context.Context, cmd Command) (Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()
	return c.SendCommand(cmd)
}

// ReadEvent reads the next NDJSON event line. Blocks until data arrives.
// After subscribing, use this in a loop to receive events.
func (c *Client) ReadEvent() (Event, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Event{}, fault.Wrap(fault.Transport, "read event", err)
		}
		return Event{}, fault.Wrap(fault.Transport, "read event", ErrNoResponse)
	}

	var ev Event
	if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}

	return ev, nil
}

// Dialer opens a fresh connection for every command. A missing socket is
// reported as a transport failure rather than an error from the peer.
type Dialer struct {
	Path string
}

func (d Dialer) Send(ctx context.Context, cmd Command) (Response, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "unix", d.Path)
	if err != nil {
		return Response{}, fault.Wrap(fault.Transport, cmd.Cmd, fmt.Errorf("%w: %v", ErrNoResponder, err))
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	c := &Client{conn: conn, scanner: scanner}
	defer c.Close()
	return c.Send(ctx, cmd)
}

// Local delivers commands to an in-process handler. An unloaded Local
// behaves like a context that is not running.
type Local struct {
	mu sync.RWMutex
	h  Handler
}

// NewLocal returns a Local bound to h.
func NewLocal(h Handler) *Local { return &Local{h: h} }

// Load binds h as the receiver.
func (l *Local) Load(h Handler) {
	l.mu.Lock()
	l.h = h
	l.mu.Unlock()
}

// Unload drops the receiver; later commands get no response.
func (l *Local) Unload() {
	l.mu.Lock()
	l.h = nil
	l.mu.Unlock()
}

func (l *Local) Send(ctx context.Context, cmd Command) (Response, error) {
	l.mu.RLock()
	h := l.h
	l.mu.RUnlock()
	if h == nil {
		return Response{}, fault.Wrap(fault.Transport, cmd.Cmd, ErrNoResponder)
	}
	if err := ctx.Err(); err != nil {
		return Response{}, fault.Wrap(fault.Transport, cmd.Cmd, err)
	}
	return h.Handle(ctx, cmd), nil
}
