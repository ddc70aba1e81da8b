package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

const (
	maxLogLines = 6
	maxBarWidth = 60
	barPadding  = 14
)

// Model is the progress view state.
type Model struct {
	jobID    string
	followed bool

	download progress.Model
	extract  progress.Model

	downloadFrac float64
	extractFrac  float64
	phase        string

	log []string

	failed    error
	streamErr error
	done      bool
	width     int
}

// NewModel creates the view.
func NewModel(opts Options) Model {
	return Model{
		jobID:    opts.JobID,
		followed: opts.JobID != "",
		download: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		extract:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		phase:    "waiting",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Err returns the followed job's failure or a broken stream.
func (m Model) Err() error {
	if m.failed != nil {
		return m.failed
	}
	return m.streamErr
}

// Update processes messages and returns an updated model and commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := min(msg.Width-barPadding, maxBarWidth)
		if w < 10 {
			w = 10
		}
		m.download.Width = w
		m.extract.Width = w
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, globalKeys.Quit) {
			return m, tea.Quit
		}
		return m, nil

	case EventMsg:
		return m.handleEvent(msg.Event)

	case StreamEndedMsg:
		m.done = true
		if !isStreamClosed(msg.Err) {
			m.streamErr = fmt.Errorf("event stream closed: %w", msg.Err)
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleEvent(ev bus.Event) (tea.Model, tea.Cmd) {
	if ev.Kind != bus.EventDownloadProgress && ev.Kind != bus.EventExtractProgress {
		m.appendLog(eventLine(ev))
	}

	if ev.JobID == "" {
		return m, nil
	}
	if ev.JobID != m.jobID {
		if m.followed {
			return m, nil
		}
		// A new job superseded the one on screen.
		m.jobID = ev.JobID
		m.downloadFrac, m.extractFrac = 0, 0
		m.failed = nil
	}

	switch ev.Kind {
	case bus.EventDownloadProgress:
		m.phase = "downloading"
		m.downloadFrac = ev.Fraction
	case bus.EventDownloadComplete:
		m.phase = "extracting"
		m.downloadFrac = 1
	case bus.EventExtractProgress:
		m.phase = "extracting"
		m.downloadFrac = 1
		m.extractFrac = ev.Fraction
	case bus.EventExtractComplete:
		m.phase = "complete"
		m.extractFrac = 1
	case bus.EventTransferFailed:
		m.phase = "failed"
		m.failed = fmt.Errorf("snapshot install failed while %s: %s", ev.Phase, ev.Error)
	}

	if m.followed && ev.Kind.Terminal() {
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Nine Chronicles snapshot"))
	b.WriteString("  ")
	b.WriteString(m.renderPhase())
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Download"))
	b.WriteString(m.download.ViewAs(m.downloadFrac))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("Install"))
	b.WriteString(m.extract.ViewAs(m.extractFrac))
	b.WriteString("\n\n")

	for _, line := range m.log {
		b.WriteString(logStyle.Render(line))
		b.WriteString("\n")
	}

	if m.streamErr != nil {
		b.WriteString(warnStyle.Render(m.streamErr.Error()))
		b.WriteString("\n")
	}
	if !m.done {
		b.WriteString(hintStyle.Render(globalKeys.Quit.Help().Key + " " + globalKeys.Quit.Help().Desc))
		b.WriteString("\n")
	}
	return lipgloss.NewStyle().MaxWidth(max(m.width, maxBarWidth+barPadding)).Render(b.String())
}

func (m Model) renderPhase() string {
	switch m.phase {
	case "complete":
		return doneStyle.Render("installed")
	case "failed":
		return failedStyle.Render("failed")
	}
	return phaseStyle.Render(m.phase)
}

func eventLine(ev bus.Event) string {
	switch ev.Kind {
	case bus.EventDownloadComplete:
		return fmt.Sprintf("%s %s", ev.Kind, ev.Path)
	case bus.EventTransferFailed:
		return fmt.Sprintf("%s (%s): %s", ev.Kind, ev.Phase, ev.Error)
	case bus.EventNodeExited:
		if ev.HasCode {
			return fmt.Sprintf("%s (code %d)", ev.Kind, ev.Code)
		}
	}
	return string(ev.Kind)
}

func isStreamClosed(err error) bool {
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	return status.Code(err) == codes.Canceled
}
