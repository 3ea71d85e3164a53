package app

import "github.com/jwulff/clinote/internal/daemon"

// DaemonConnectedMsg is sent when both orchestrator connections are established.
type DaemonConnectedMsg struct {
	Client   *daemon.Client // for commands
	EvClient *daemon.Client // for event subscription
}

// DaemonConnectErrorMsg is sent when the orchestrator connection fails.
type DaemonConnectErrorMsg struct {
	Err error
}

// DaemonEventMsg wraps a streamed event from the orchestrator.
type DaemonEventMsg struct {
	Event daemon.Event
}

// DaemonEventErrorMsg is sent when a connection breaks.
type DaemonEventErrorMsg struct {
	Err error
}

// CommandResponseMsg carries the response to a command, keyed by its name.
type CommandResponseMsg struct {
	Cmd      string
	Response daemon.Response
}

// ExportedMsg reports the outcome of writing the note to disk.
type ExportedMsg struct {
	Path string
	Err  error
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// ClearNoticeMsg clears the one-line notice after a timeout.
type ClearNoticeMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}

// BackendTickMsg triggers a local server status refresh.
type BackendTickMsg struct{}
