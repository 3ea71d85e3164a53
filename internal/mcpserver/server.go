// Package mcpserver exposes the session archive to MCP clients over stdio:
// recent sessions, their transcripts, and their latest notes.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jwulff/clinote/internal/db"
	"github.com/jwulff/clinote/internal/note"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	Name    = "clinote"
	Version = "0.1.0"

	defaultLimit = 20
	maxLimit     = 200
)

// Archive is the read side of the session store.
type Archive interface {
	ListSessions(limit int) ([]db.Session, error)
	Session(id string) (*db.Session, error)
	Transcript(sessionID string) (string, error)
	LatestSummary(sessionID string) (*db.Summary, error)
}

type tools struct {
	archive Archive
}

// New returns an MCP server answering from archive.
func New(archive Archive) *server.MCPServer {
	s := server.NewMCPServer(Name, Version, server.WithToolCapabilities(false))
	t := &tools{archive: archive}

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recent clinical sessions, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 20).")),
	), t.listSessions)

	s.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Return the archived transcript of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id from list_sessions.")),
	), t.getTranscript)

	s.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Return the latest structured note of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id from list_sessions.")),
		mcp.WithString("format", mcp.Description(`"document" (default) for the insertable text, "json" for the structured note.`)),
	), t.getNote)

	return s
}

// ServeStdio serves archive on stdin and stdout until the client disconnects.
func ServeStdio(archive Archive) error {
	return server.ServeStdio(New(archive))
}

func (t *tools) listSessions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	sessions, err := t.archive.ListSessions(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}
	if len(sessions) == 0 {
		return mcp.NewToolResultText("No sessions archived."), nil
	}

	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "%s  %s  %s  %s  %s\n",
			s.ID, s.StartedAt.Format("2006-01-02 15:04"), s.Specialty, s.BackendMode, s.Status)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (t *tools) getTranscript(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := t.session(req)
	if errResult != nil {
		return errResult, nil
	}
	text, err := t.archive.Transcript(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read transcript: %v", err)), nil
	}
	if text == "" {
		return mcp.NewToolResultText("No transcript archived for this session."), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (t *tools) getNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := t.session(req)
	if errResult != nil {
		return errResult, nil
	}
	sum, err := t.archive.LatestSummary(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read note: %v", err)), nil
	}
	if sum == nil {
		return mcp.NewToolResultText("No note archived for this session."), nil
	}

	switch format := req.GetString("format", "document"); format {
	case "document", "":
		return mcp.NewToolResultText(note.Document(sum.Note, nil, sum.CreatedAt)), nil
	case "json":
		data, err := json.MarshalIndent(sum.Note, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode note: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q", format)), nil
	}
}

// session resolves the session_id argument to an archived session.
func (t *tools) session(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	sess, err := t.archive.Session(id)
	if err != nil {
		return "", mcp.NewToolResultError(fmt.Sprintf("read session: %v", err))
	}
	if sess == nil {
		return "", mcp.NewToolResultError(fmt.Sprintf("session %q not found", id))
	}
	return id, nil
}
