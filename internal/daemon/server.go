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

	"github.com/jwulff/clinote/internal/fault"
	"github.com/jwulff/clinote/internal/observability"
)

// maxLine bounds one NDJSON line. Audio payloads travel base64 encoded.
const maxLine = 64 * 1024 * 1024

// Handler processes one command and returns its one response.
type Handler interface {
	Handle(ctx context.Context, cmd Command) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) Response

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) Response { return f(ctx, cmd) }

// Server serves a Handler over a Unix socket. A connection that sends
// subscribe receives every broadcast event from then on.
type Server struct {
	handler Handler
	name    string

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*serverConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

type serverConn struct {
	conn       net.Conn
	wmu        sync.Mutex
	subscribed bool
	filter     map[string]bool
}

func (c *serverConn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// NewServer returns a server for h. name labels its log lines.
func NewServer(name string, h Handler) *Server {
	return &Server{handler: h, name: name, conns: map[*serverConn]struct{}{}}
}

// Listen binds the socket, replacing a stale socket file.
func (s *Server) Listen(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve: not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	log := observability.WithFields("server", s.name)
	log.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		sc := &serverConn{conn: conn}
		s.mu.Lock()
		s.conns[sc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, sc)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, sc *serverConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
		sc.conn.Close()
	}()

	log := observability.WithFields("server", s.name)
	scanner := bufio.NewScanner(sc.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			sc.write(ErrorResponse(fault.New(fault.Configuration, "decode", "invalid command: %v", err)))
			continue
		}

		if cmd.Cmd == CmdSubscribe {
			s.mu.Lock()
			sc.subscribed = true
			if len(cmd.Events) > 0 {
				sc.filter = make(map[string]bool, len(cmd.Events))
				for _, e := range cmd.Events {
					sc.filter[e] = true
				}
			}
			s.mu.Unlock()
			if err := sc.write(OK()); err != nil {
				return
			}
			continue
		}

		log.Debug("command", "cmd", cmd.Cmd, "session_id", cmd.SessionID)
		resp := s.handler.Handle(ctx, cmd)
		if err := sc.write(resp); err != nil {
			log.Warn("write response", "cmd", cmd.Cmd, "error", err)
			return
		}
	}
}

// Broadcast sends ev to every subscribed connection whose filter admits it.
func (s *Server) Broadcast(ev Event) {
	s.mu.Lock()
	targets := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		if !sc.subscribed {
			continue
		}
		if sc.filter != nil && !sc.filter[ev.Event] {
			continue
		}
		targets = append(targets, sc)
	}
	s.mu.Unlock()

	for _, sc := range targets {
		if err := sc.write(ev); err != nil {
			sc.conn.Close()
		}
	}
}

// Close stops accepting and drops every connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sc := range s.conns {
		sc.conn.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
