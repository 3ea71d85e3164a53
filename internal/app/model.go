package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/jwulff/clinote/internal/daemon"
	"github.com/jwulff/clinote/internal/fault"
	"github.com/jwulff/clinote/internal/note"
	"github.com/jwulff/clinote/internal/settings"
	"github.com/jwulff/clinote/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusTranscript PanelFocus = iota
	FocusNote
)

// Agent states as reported by status events.
const (
	stateIdle       = "idle"
	stateRequesting = "requesting"
	stateRecording  = "recording"
	stateFinalizing = "finalizing"
)

const backendRefresh = 30 * time.Second

var errNothingToExport = errors.New("no note to export yet")

// Model is the root bubbletea model for the clinote control surface.
type Model struct {
	socketPath string
	exportDir  string
	now        func() time.Time

	// Connection state
	client    *daemon.Client // command connection
	evClient  *daemon.Client // event subscription connection
	connected bool
	connError string

	// Capture state
	state     string
	recording bool
	sessionID string

	// Session content
	transcript string
	summary    *note.StructuredNote

	// Audio visualization
	level float32
	bins  []float32

	// Settings and backend
	settings        settings.Settings
	haveSettings    bool
	backendStatus   string
	backendErr      string
	modelLoaded     bool
	modelProcessing bool
	spinner         spinner.Model

	// UI state
	focusedPanel     PanelFocus
	width            int
	height           int
	transcriptScroll int
	transcriptLive   bool
	noteScroll       int

	// Errors
	errorMessage   string
	errorTransient bool
	notice         string

	// Status
	statusText string

	// Reconnect
	reconnecting     bool
	reconnectAttempt int
}

// New creates a Model that talks to the orchestrator at socketPath and
// exports notes into exportDir.
func New(socketPath, exportDir string) Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = ui.SpinnerStyle
	return Model{
		socketPath:     socketPath,
		exportDir:      exportDir,
		now:            time.Now,
		state:          stateIdle,
		settings:       settings.Default(),
		statusText:     "Connecting to clinote...",
		transcriptLive: true,
		focusedPanel:   FocusTranscript,
		spinner:        spin,
	}
}

// Init returns the initial command: connect to the orchestrator.
func (m Model) Init() tea.Cmd {
	return connectCmd(m.socketPath)
}

// connectCmd opens two connections: one for commands, one for events.
func connectCmd(sockPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := daemon.Connect(sockPath)
		if err != nil {
			return DaemonConnectErrorMsg{Err: err}
		}
		evClient, err := daemon.Connect(sockPath)
		if err != nil {
			client.Close()
			return DaemonConnectErrorMsg{Err: err}
		}
		return DaemonConnectedMsg{Client: client, EvClient: evClient}
	}
}

// subscribeCmd sends a subscribe command on the event client and starts reading events.
func subscribeCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		_, err := evClient.SendCommand(daemon.Command{Cmd: daemon.CmdSubscribe})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return readEventCmd(evClient)()
	}
}

// readEventCmd reads the next event from the event client.
func readEventCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return DaemonEventMsg{Event: ev}
	}
}

// sendCmd sends cmd on the command client and reports the response.
func sendCmd(client *daemon.Client, cmd daemon.Command) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(cmd)
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return CommandResponseMsg{Cmd: cmd.Cmd, Response: resp}
	}
}

func updateSettingsCmd(client *daemon.Client, p settings.Patch) tea.Cmd {
	return sendCmd(client, daemon.Command{Cmd: daemon.CmdUpdateSettings, Settings: &p})
}

// exportCmd writes the rendered note to a timestamped file in dir.
func exportCmd(dir string, n note.StructuredNote, include map[string]bool, now time.Time) tea.Cmd {
	return func() tea.Msg {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ExportedMsg{Err: err}
		}
		path := filepath.Join(dir, ExportFileName(now))
		if err := os.WriteFile(path, []byte(note.Document(n, include, now)), 0o644); err != nil {
			return ExportedMsg{Err: err}
		}
		return ExportedMsg{Path: path}
	}
}

// ExportFileName names an exported note.
func ExportFileName(now time.Time) string {
	return "clinote-summary-" + now.Format("2006-01-02T15-04-05") + ".txt"
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

func clearNoticeCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearNoticeMsg{}
	})
}

func backendTickCmd() tea.Cmd {
	return tea.Tick(backendRefresh, func(time.Time) tea.Msg {
		return BackendTickMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case DaemonConnectedMsg:
		m.client = msg.Client
		m.evClient = msg.EvClient
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		return m, tea.Batch(
			subscribeCmd(m.evClient),
			sendCmd(m.client, daemon.Command{Cmd: daemon.CmdStatus}),
			sendCmd(m.client, daemon.Command{Cmd: daemon.CmdGetSettings}),
			sendCmd(m.client, daemon.Command{Cmd: daemon.CmdBackendStatus}),
			backendTickCmd(),
		)

	case DaemonConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "Orchestrator not running. Reconnecting..."
		return m, reconnectCmd(m.reconnectAttempt)

	case CommandResponseMsg:
		return m.handleResponse(msg)

	case DaemonEventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, readEventCmd(m.evClient))

	case DaemonEventErrorMsg:
		if !m.connected {
			return m, nil
		}
		m.connected = false
		m.connError = msg.Err.Error()
		m.statusText = "Disconnected. Reconnecting..."
		m.reconnecting = true
		m.closeClients()
		return m, reconnectCmd(m.reconnectAttempt)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.socketPath)

	case BackendTickMsg:
		if !m.connected {
			return m, nil
		}
		return m, tea.Batch(
			sendCmd(m.client, daemon.Command{Cmd: daemon.CmdBackendStatus}),
			backendTickCmd(),
		)

	case ExportedMsg:
		if msg.Err != nil {
			cmd := m.setError(fmt.Sprintf("export: %v", msg.Err), true)
			return m, cmd
		}
		m.notice = "Saved " + msg.Path
		return m, clearNoticeCmd()

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil

	case ClearNoticeMsg:
		m.notice = ""
		return m, nil
	}

	return m, nil
}

// handleResponse applies the result of a command.
func (m Model) handleResponse(msg CommandResponseMsg) (tea.Model, tea.Cmd) {
	r := msg.Response
	if msg.Cmd == daemon.CmdBackendStatus {
		m.backendStatus = r.Status
		m.backendErr = r.Error
		m.modelLoaded = r.ModelLoaded != nil && *r.ModelLoaded
		return m, nil
	}
	if !r.OK {
		err := daemon.ResponseError(r)
		cmd := m.setError(r.Error, !fault.Is(err, fault.Permission))
		return m, cmd
	}

	switch msg.Cmd {
	case daemon.CmdStartCapture:
		m.recording = true
		m.state = stateRecording
		if r.SessionID != "" {
			m.sessionID = r.SessionID
		}
		m.statusText = "Recording"

	case daemon.CmdStopCapture:
		m.recording = false
		if r.State != "" {
			m.state = r.State
		}
		m.level, m.bins = 0, nil
		m.statusText = "Stopped"
		if m.state == stateFinalizing {
			return m, m.spinner.Tick
		}

	case daemon.CmdNewSession:
		m.resetSession(r.SessionID)
		m.statusText = "New session"

	case daemon.CmdStatus:
		if r.Recording != nil {
			m.recording = *r.Recording
		}
		if r.State != "" {
			m.state = r.State
		}
		if r.SessionID != "" {
			m.sessionID = r.SessionID
		}
		m.transcript = r.Transcript
		m.summary = r.Summary
		if m.transcriptLive {
			m.scrollToBottom()
		}

	case daemon.CmdGetSettings, daemon.CmdUpdateSettings:
		if r.Settings != nil {
			modeChanged := m.haveSettings && r.Settings.BackendMode != m.settings.BackendMode
			m.settings = *r.Settings
			m.haveSettings = true
			if modeChanged && m.client != nil {
				return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdBackendStatus})
			}
		}
	}
	return m, nil
}

// handleEvent processes an orchestrator event and returns any resulting command.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch ev.Event {
	case daemon.EventStatus:
		wasBusy := m.busy()
		if ev.State != "" {
			m.state = ev.State
		}
		if ev.Recording != nil {
			m.recording = *ev.Recording
		}
		if ev.SessionID != "" {
			m.sessionID = ev.SessionID
		}
		switch m.state {
		case stateRecording:
			m.statusText = "Recording"
		case stateRequesting:
			m.statusText = "Requesting audio device..."
		case stateFinalizing:
			m.statusText = "Transcribing..."
		default:
			m.statusText = "Idle"
		}
		if m.state != stateRecording {
			m.level, m.bins = 0, nil
		}
		if !wasBusy && m.busy() {
			return m.spinner.Tick
		}

	case daemon.EventLevel:
		if ev.Level != nil {
			m.level = *ev.Level
		}
		m.bins = ev.Bins

	case daemon.EventTranscript:
		if !m.currentSession(ev.SessionID) {
			return nil
		}
		m.transcript = ev.Text
		if m.transcriptLive {
			m.scrollToBottom()
		}

	case daemon.EventSummary:
		if !m.currentSession(ev.SessionID) || ev.Summary == nil {
			return nil
		}
		s := *ev.Summary
		m.summary = &s

	case daemon.EventSession:
		m.resetSession(ev.SessionID)

	case daemon.EventModelProcessing:
		if ev.ModelProcessing != nil {
			wasBusy := m.busy()
			m.modelProcessing = *ev.ModelProcessing
			if !wasBusy && m.busy() {
				return m.spinner.Tick
			}
		}

	case daemon.EventError:
		transient := ev.Transient != nil && *ev.Transient
		return m.setError(ev.Message, transient)

	case daemon.EventAgent:
		m.notice = "Capture agent " + ev.Message
		cmds := []tea.Cmd{clearNoticeCmd()}
		if m.client != nil {
			cmds = append(cmds, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdStatus}))
		}
		return tea.Batch(cmds...)
	}

	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		m.closeClients()
		return m, tea.Quit

	case KeySpace:
		if !m.connected {
			return m, nil
		}
		if m.recording {
			return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdStopCapture})
		}
		if m.haveSettings && !m.settings.PrivacyConsent {
			cmd := m.setError("Privacy consent required before recording (press c)", true)
			return m, cmd
		}
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdStartCapture})

	case KeyNewSession:
		if !m.connected {
			return m, nil
		}
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdNewSession})

	case KeyExport:
		if m.summary == nil {
			cmd := m.setError(errNothingToExport.Error(), true)
			return m, cmd
		}
		return m, exportCmd(m.exportDir, *m.summary, m.settings.IncludeSections, m.now())

	case KeyConsent:
		if !m.connected {
			return m, nil
		}
		v := !m.settings.PrivacyConsent
		return m, updateSettingsCmd(m.client, settings.Patch{PrivacyConsent: &v})

	case KeyMode:
		if !m.connected {
			return m, nil
		}
		mode := settings.Cloud
		if m.settings.Cloud() {
			mode = settings.Local
		}
		return m, updateSettingsCmd(m.client, settings.Patch{BackendMode: &mode})

	case KeySpecialty, KeySpecialtyUpper:
		if !m.connected {
			return m, nil
		}
		step := 1
		if msg.String() == KeySpecialtyUpper {
			step = len(settings.Specialties) - 1
		}
		next := nextSpecialty(m.settings.Specialty.Normalize(), step)
		return m, updateSettingsCmd(m.client, settings.Patch{Specialty: &next})

	case KeyTab:
		if m.focusedPanel == FocusNote {
			m.focusedPanel = FocusTranscript
		} else {
			m.focusedPanel = FocusNote
		}
		return m, nil

	case KeyUp, KeyK:
		if m.focusedPanel == FocusTranscript {
			m.transcriptLive = false
			if m.transcriptScroll > 0 {
				m.transcriptScroll--
			}
		} else if m.noteScroll > 0 {
			m.noteScroll--
		}
		return m, nil

	case KeyDown, KeyJ:
		if m.focusedPanel == FocusTranscript {
			maxScroll := m.maxTranscriptScroll()
			m.transcriptScroll++
			if m.transcriptScroll >= maxScroll {
				m.transcriptScroll = maxScroll
				m.transcriptLive = true
			}
		} else if m.noteScroll < m.maxNoteScroll() {
			m.noteScroll++
		}
		return m, nil
	}

	return m, nil
}

func nextSpecialty(cur settings.Specialty, step int) settings.Specialty {
	for i, s := range settings.Specialties {
		if s == cur {
			return settings.Specialties[(i+step)%len(settings.Specialties)]
		}
	}
	return settings.PrimaryCare
}

// currentSession reports whether an event for id belongs on screen. Events
// without a session id are accepted.
func (m Model) currentSession(id string) bool {
	return id == "" || m.sessionID == "" || id == m.sessionID
}

func (m *Model) resetSession(id string) {
	if id != "" {
		m.sessionID = id
	}
	m.transcript = ""
	m.summary = nil
	m.transcriptScroll = 0
	m.transcriptLive = true
	m.noteScroll = 0
	m.errorMessage = ""
	m.errorTransient = false
}

func (m *Model) setError(msg string, transient bool) tea.Cmd {
	m.errorMessage = msg
	m.errorTransient = transient
	if transient {
		return clearTransientErrorCmd()
	}
	return nil
}

func (m *Model) closeClients() {
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	if m.evClient != nil {
		m.evClient.Close()
		m.evClient = nil
	}
}

// busy reports whether a spinner should be shown.
func (m Model) busy() bool {
	return m.modelProcessing || m.state == stateFinalizing
}
