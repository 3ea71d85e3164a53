package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jwulff/clinote/internal/note"
	"github.com/jwulff/clinote/internal/ui"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

var spectrumBlocks = []rune("▁▂▃▄▅▆▇█")

func (m *Model) scrollToBottom() {
	m.transcriptScroll = m.maxTranscriptScroll()
}

func (m Model) maxTranscriptScroll() int {
	total := len(m.transcriptLines(m.transcriptPanelWidth()))
	visible := m.contentLines()
	if total <= visible {
		return 0
	}
	return total - visible
}

func (m Model) maxNoteScroll() int {
	total := len(m.noteLines(m.notePanelWidth()))
	visible := m.contentLines()
	if total <= visible {
		return 0
	}
	return total - visible
}

// panelHeight is the height of the main content, panel title included.
func (m Model) panelHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(1) + divider(1) + error(1) + footer(1) + padding
	reserved := 7
	return max(5, m.height-reserved)
}

// contentLines is the number of scrollable lines below a panel title.
func (m Model) contentLines() int {
	return m.panelHeight() - 1
}

func (m Model) transcriptPanelWidth() int {
	if m.width == 0 {
		return 50
	}
	return max(30, m.width*55/100)
}

func (m Model) notePanelWidth() int {
	if m.width == 0 {
		return 40
	}
	return max(20, m.width-m.transcriptPanelWidth()-1)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	} else if m.notice != "" {
		sections = append(sections, ui.NoticeStyle.Render(truncate.StringWithTail(m.notice, uint(m.width), "…")))
	}

	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	parts := []string{ui.TitleStyle.Render("CLINOTE")}
	parts = append(parts, ui.DimStyle.Render(string(m.settings.Specialty.Normalize())))
	parts = append(parts, m.backendLabel())
	if !m.settings.PrivacyConsent {
		parts = append(parts, ui.ConsentMissingStyle.Render("NO CONSENT"))
	}
	return strings.Join(parts, ui.DimStyle.Render(" · "))
}

// backendLabel summarises where processing runs and whether it can.
func (m Model) backendLabel() string {
	if m.settings.Cloud() {
		if strings.TrimSpace(m.settings.APIKey) == "" {
			return ui.BackendWarnStyle.Render("cloud (no API key)")
		}
		return ui.BackendOKStyle.Render("cloud")
	}
	switch {
	case m.modelLoaded && m.backendErr == "":
		return ui.BackendOKStyle.Render("local ready")
	case m.backendStatus != "" && !m.modelLoaded:
		return ui.BackendWarnStyle.Render("local model loading")
	case m.backendErr != "":
		return ui.BackendWarnStyle.Render("local server offline")
	}
	return ui.DimStyle.Render("local")
}

func (m Model) renderStatusBar() string {
	var dot string
	switch m.state {
	case stateRecording:
		dot = ui.RecordingDotStyle.Render("● REC")
	case stateRequesting:
		dot = ui.FinalizingDotStyle.Render("◌ WAIT")
	case stateFinalizing:
		dot = ui.FinalizingDotStyle.Render("◐ DONE")
	default:
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}

	var levels string
	if m.state == stateRecording {
		levels = "  " + renderLevelMeter(m.level)
		if len(m.bins) > 0 {
			levels += " " + renderSpectrum(m.bins)
		}
	}

	var processing string
	if m.busy() {
		label := "Transcribing"
		if m.modelProcessing {
			label = "Summarizing"
		}
		processing = "  " + m.spinner.View() + ui.SpinnerStyle.Render(label)
	}

	status := "  " + ui.StatusStyle.Render(m.statusText)
	if m.sessionID != "" {
		status += ui.DimStyle.Render(" [" + shortID(m.sessionID) + "]")
	}
	return dot + levels + processing + status
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderLevelMeter(level float32) string {
	const barLen = 8
	filled := int(level * barLen)
	if filled > barLen {
		filled = barLen
	}

	var bar string
	for i := 0; i < barLen; i++ {
		if i < filled {
			pct := float32(i) / float32(barLen)
			if pct > 0.6 {
				bar += ui.LevelYellowStyle.Render("█")
			} else {
				bar += ui.LevelGreenStyle.Render("█")
			}
		} else {
			bar += ui.LevelGrayStyle.Render("░")
		}
	}
	return ui.DimStyle.Render("LVL") + " " + bar
}

// renderSpectrum draws one block per frequency bin, bins in [0,1].
func renderSpectrum(bins []float32) string {
	var b strings.Builder
	top := len(spectrumBlocks) - 1
	for _, v := range bins {
		i := int(v * float32(top))
		if i < 0 {
			i = 0
		}
		if i > top {
			i = top
		}
		b.WriteRune(spectrumBlocks[i])
	}
	return ui.SpectrumStyle.Render(b.String())
}

func (m Model) renderMainContent() string {
	transcriptW := m.transcriptPanelWidth()
	noteW := m.notePanelWidth()
	contentH := m.panelHeight()

	transcriptLines := strings.Split(m.renderTranscriptPanel(transcriptW, contentH), "\n")
	noteLines := strings.Split(m.renderNotePanel(noteW, contentH), "\n")
	divider := ui.DividerStyle.Render("│")

	var rows []string
	for i := 0; i < contentH; i++ {
		left := strings.Repeat(" ", transcriptW)
		if i < len(transcriptLines) {
			left = padRight(transcriptLines[i], transcriptW)
		}
		right := ""
		if i < len(noteLines) {
			right = noteLines[i]
		}
		rows = append(rows, left+divider+right)
	}
	return strings.Join(rows, "\n")
}

// transcriptLines wraps the running transcript to the panel width.
func (m Model) transcriptLines(width int) []string {
	if m.transcript == "" {
		return nil
	}
	textW := max(10, width-3)
	return clipLines(wordwrap.String(m.transcript, textW), textW)
}

// noteLines renders the enabled note sections, label then wrapped body.
func (m Model) noteLines(width int) []string {
	if m.summary == nil {
		return nil
	}
	textW := max(10, width-4)
	var lines []string
	for _, s := range note.Sections {
		if !note.Included(m.settings.IncludeSections, s.Key) {
			continue
		}
		lines = append(lines, ui.SectionLabelStyle.Render(s.Label))
		for _, l := range clipLines(wordwrap.String(m.summary.Section(s.Key), textW), textW) {
			lines = append(lines, "  "+l)
		}
		lines = append(lines, "")
	}
	return lines
}

// clipLines splits wrapped text and truncates words longer than width.
func clipLines(s string, width int) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if lipgloss.Width(l) > width {
			lines[i] = truncate.StringWithTail(l, uint(width), "…")
		}
	}
	return lines
}

func (m Model) renderTranscriptPanel(width, height int) string {
	var badge string
	if m.transcriptLive {
		badge = ui.LiveBadgeStyle.Render(" LIVE")
	} else {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}
	header := ui.PanelTitleStyle.Render("TRANSCRIPT") + badge
	if m.focusedPanel == FocusTranscript {
		header = ui.PanelTitleActiveStyle.Render("TRANSCRIPT") + badge
	}

	lines := []string{header}
	contentHeight := height - 1

	switch {
	case !m.connected:
		if m.reconnecting {
			lines = append(lines, "", ui.ErrorTextStyle.Render("  Orchestrator disconnected. Reconnecting..."))
			lines = append(lines, ui.DimStyle.Render("  Start with: clinote run"))
		} else {
			lines = append(lines, ui.DimStyle.Render("  Connecting to clinote..."))
		}
	case m.transcript == "":
		lines = append(lines, "")
		if m.state == stateRecording {
			lines = append(lines, ui.DimStyle.Render("  Listening..."))
		} else {
			lines = append(lines, ui.DimStyle.Render("  Press Space to start recording"))
		}
	default:
		body := m.transcriptLines(width)
		start := 0
		if m.transcriptLive {
			if len(body) > contentHeight {
				start = len(body) - contentHeight
			}
		} else {
			start = min(m.transcriptScroll, max(0, len(body)-1))
		}
		end := min(start+contentHeight, len(body))
		for i := start; i < end; i++ {
			lines = append(lines, "  "+body[i])
		}
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderNotePanel(width, height int) string {
	header := ui.PanelTitleStyle.Render("NOTE")
	if m.focusedPanel == FocusNote {
		header = ui.PanelTitleActiveStyle.Render("NOTE")
	}
	lines := []string{" " + header}

	body := m.noteLines(width)
	if len(body) == 0 {
		lines = append(lines, "")
		if m.modelProcessing {
			lines = append(lines, " "+m.spinner.View()+ui.DimStyle.Render("Generating note..."))
		} else {
			lines = append(lines, ui.DimStyle.Render("  The note appears after the first segment"))
		}
	} else {
		start := min(m.noteScroll, max(0, len(body)-1))
		end := min(start+height-1, len(body))
		for i := start; i < end; i++ {
			lines = append(lines, " "+body[i])
		}
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderErrorBar() string {
	line := ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
	return truncate.StringWithTail(line, uint(max(m.width, 10)), "…")
}

func (m Model) renderFooter() string {
	var parts []string
	key := func(k, desc string) {
		parts = append(parts, ui.FooterKeyStyle.Render(k)+ui.FooterDescStyle.Render(" "+desc))
	}

	if m.connected {
		if m.recording {
			key("Space", "Stop")
		} else {
			key("Space", "Record")
		}
		key("n", "Next patient")
		key("e", "Export")
		if m.settings.PrivacyConsent {
			key("c", "Revoke consent")
		} else {
			key("c", "Consent")
		}
		key("m", fmt.Sprintf("Mode (%s)", m.settings.BackendMode))
		key("s", "Specialty")
		key("Tab", "Focus")
		key("↑↓", "Scroll")
	}
	key("q", "Quit")

	return strings.Join(parts, "  ")
}

func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}
