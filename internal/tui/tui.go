package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"

	"github.com/lox/wingo/internal/client"
	"github.com/lox/wingo/internal/protocol"
	"github.com/lox/wingo/internal/round"
)

const (
	tickInterval          = time.Second
	defaultRevealDuration = 3 * time.Second
)

// Backend is the client surface the model drives.
type Backend interface {
	PlaceBet(kind round.Kind, selection string, stake, multiplier int64) error
	SwitchMode(mode round.Mode) error
	BeginPresentation()
	EndPresentation()
	View() client.View
	TimeLeft() time.Duration
}

// StateMsg carries a client state change into the program.
type StateMsg struct {
	View    client.View
	Reveals []protocol.RoundResultData
}

type tickMsg time.Time

type revealDoneMsg struct{}

// Options configures a TUIModel.
type Options struct {
	DefaultStake   int64
	RevealDuration time.Duration
	NoColor        bool
}

// TUIModel represents the Bubble Tea model for the wagering client
type TUIModel struct {
	backend Backend
	logger  *log.Logger
	opts    Options

	// UI components
	logViewport viewport.Model
	betInput    textinput.Model

	// State
	gameLog    []string
	view       client.View
	timeLeft   time.Duration
	presenting *protocol.RoundResultData
	pending    []protocol.RoundResultData
	quitting   bool

	// Dimensions
	width  int
	height int
}

// NewTUIModel creates a model driving backend.
func NewTUIModel(backend Backend, logger *log.Logger, opts Options) *TUIModel {
	if opts.RevealDuration <= 0 {
		opts.RevealDuration = defaultRevealDuration
	}
	if opts.DefaultStake <= 0 {
		opts.DefaultStake = 10
	}
	if opts.NoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	vp := viewport.New(10, 5)
	vp.SetContent("")

	ti := textinput.New()
	ti.Placeholder = "bet red 100 x5, bet big 50, bet 7 10, mode 1min, quit"
	ti.Focus()
	ti.CharLimit = 64
	ti.Width = 64
	ti.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	ti.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA"))
	ti.Prompt = "> "

	return &TUIModel{
		backend:     backend,
		logger:      logger.WithPrefix("tui"),
		opts:        opts,
		logViewport: vp,
		betInput:    ti,
		view:        backend.View(),
		timeLeft:    backend.TimeLeft(),
	}
}

// ProgramObserver forwards client state changes to a program. Changes
// before Attach are dropped; the model reads the initial view itself.
type ProgramObserver struct {
	mu      sync.Mutex
	program *tea.Program
}

// Attach sets the program receiving state changes.
func (o *ProgramObserver) Attach(p *tea.Program) {
	o.mu.Lock()
	o.program = p
	o.mu.Unlock()
}

func (o *ProgramObserver) Update(v client.View, reveals []protocol.RoundResultData) {
	o.mu.Lock()
	p := o.program
	o.mu.Unlock()
	if p != nil {
		p.Send(StateMsg{View: v, Reveals: reveals})
	}
}

// Init initializes the TUI model
func (m *TUIModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages in the TUI
func (m *TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.timeLeft = m.backend.TimeLeft()
		cmds = append(cmds, tick())

	case StateMsg:
		m.applyState(msg.View)
		if cmd := m.queueReveals(msg.Reveals); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case revealDoneMsg:
		if cmd := m.finishReveal(); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Sequence(tea.ClearScreen, tea.Quit)
		case "enter":
			line := strings.TrimSpace(m.betInput.Value())
			m.betInput.SetValue("")
			if cmd := m.processCommand(line); cmd != nil {
				return m, cmd
			}
		case "pgup":
			m.logViewport.HalfPageUp()
		case "pgdown":
			m.logViewport.HalfPageDown()
		}
	}

	var cmd tea.Cmd
	m.betInput, cmd = m.betInput.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// applyState logs the transitions between the previous and new view.
func (m *TUIModel) applyState(v client.View) {
	prev := m.view
	m.view = v
	m.timeLeft = m.backend.TimeLeft()

	if prev.Conn != v.Conn {
		m.AddLogEntry(InfoStyle.Render(fmt.Sprintf("Connection %s", v.Conn)))
	}
	if v.Round.ID != "" && v.Round.ID != prev.Round.ID {
		m.AddLogEntry(InfoStyle.Render(fmt.Sprintf("Round %s open (%s)", v.Round.ID, v.Mode)))
	}
	if v.BetState != prev.BetState {
		switch {
		case v.BetState == client.BetPending && v.Bet != nil && prev.Bet == nil:
			m.AddLogEntry(SuccessStyle.Render(fmt.Sprintf("Bet accepted: %s x%d on %s",
				formatAmount(v.Bet.Stake), v.Bet.Multiplier, v.Bet.Selection)))
		case v.BetState == client.BetSettled && v.Settlement != nil:
			if v.Settlement.Won {
				m.AddLogEntry(SuccessStyle.Render(fmt.Sprintf("You won %s", formatAmount(v.Settlement.Payout))))
			} else {
				m.AddLogEntry(WarningStyle.Render("Bet lost"))
			}
		}
	}
	if v.LastError != nil && (prev.LastError == nil || *prev.LastError != *v.LastError) {
		m.AddLogEntry(ErrorStyle.Render(fmt.Sprintf("Error %s: %s", v.LastError.Code, v.LastError.Message)))
	}
}

// queueReveals starts presenting the first reveal and holds the rest.
func (m *TUIModel) queueReveals(reveals []protocol.RoundResultData) tea.Cmd {
	if len(reveals) == 0 {
		return nil
	}
	m.pending = append(m.pending, reveals...)
	if m.presenting != nil {
		return nil
	}
	m.backend.BeginPresentation()
	return m.presentNext()
}

func (m *TUIModel) presentNext() tea.Cmd {
	r := m.pending[0]
	m.pending = m.pending[1:]
	m.presenting = &r
	m.AddLogEntry(fmt.Sprintf("Result %s: %s", r.RoundID, formatResult(r)))
	return tea.Tick(m.opts.RevealDuration, func(time.Time) tea.Msg { return revealDoneMsg{} })
}

func (m *TUIModel) finishReveal() tea.Cmd {
	if m.presenting == nil {
		return nil
	}
	if len(m.pending) > 0 {
		return m.presentNext()
	}
	m.presenting = nil
	// Held results come back through a StateMsg.
	m.backend.EndPresentation()
	return nil
}

func (m *TUIModel) processCommand(line string) tea.Cmd {
	cmd, err := ParseCommand(line, m.opts.DefaultStake)
	if err != nil {
		m.AddLogEntry(ErrorStyle.Render(err.Error()))
		return nil
	}

	switch cmd.Type {
	case CommandQuit:
		m.quitting = true
		return tea.Sequence(tea.ClearScreen, tea.Quit)
	case CommandHelp:
		m.AddLogEntry(InfoStyle.Render("bet <red|green|violet|big|small|0-9> [stake] [xN] | mode <name> | quit"))
	case CommandMode:
		if err := m.backend.SwitchMode(cmd.Mode); err != nil {
			m.AddLogEntry(ErrorStyle.Render(err.Error()))
			return nil
		}
		m.AddLogEntry(InfoStyle.Render(fmt.Sprintf("Switched to %s", cmd.Mode)))
	case CommandBet:
		if err := m.backend.PlaceBet(cmd.Kind, cmd.Selection, cmd.Stake, cmd.Multiplier); err != nil {
			m.AddLogEntry(ErrorStyle.Render(err.Error()))
			return nil
		}
		m.AddLogEntry(fmt.Sprintf("Bet submitted: %s x%d on %s", formatAmount(cmd.Stake), cmd.Multiplier, cmd.Selection))
	}
	return nil
}

// View renders the TUI
func (m *TUIModel) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	actionContent := m.renderActionPane()
	actionHeight := lipgloss.Height(actionContent)
	actionPane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#04B575")).
		Width(max(m.width-2, 1)).
		Render(actionContent)

	sidebarContent := m.renderSidebarPane()
	sidebarWidth := max(lipgloss.Width(sidebarContent), 28)
	paneHeight := max(m.height-actionHeight-4, 1)

	sidebarPane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#626262")).
		Width(sidebarWidth).
		Height(paneHeight).
		Render(sidebarContent)

	m.logViewport.Width = max(m.width-sidebarWidth-4, 1)
	m.logViewport.Height = paneHeight
	m.logViewport.SetContent(strings.Join(m.gameLog, "\n"))
	m.logViewport.GotoBottom()

	logPane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#626262")).
		Width(m.logViewport.Width).
		Height(paneHeight).
		Render(m.logViewport.View())

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, logPane, sidebarPane)
	return lipgloss.JoinVertical(lipgloss.Top, topRow, actionPane)
}

func (m *TUIModel) renderSidebarPane() string {
	var content strings.Builder
	v := m.view

	content.WriteString(HeaderStyle.Render(fmt.Sprintf(" %s ", v.Mode)))
	content.WriteString("\n\n")
	content.WriteString(fmt.Sprintf("Balance: %s\n", formatAmount(v.Balance)))
	if v.Conn != client.Synced {
		content.WriteString(WarningStyle.Render(v.Conn.String()))
		content.WriteString("\n")
	}
	content.WriteString("\n")

	content.WriteString(InfoStyle.Render("Recent results:"))
	content.WriteString("\n")
	for _, r := range v.Results {
		content.WriteString("  ")
		content.WriteString(formatResult(r))
		content.WriteString("\n")
	}
	return content.String()
}

func (m *TUIModel) renderActionPane() string {
	var content strings.Builder
	v := m.view

	if v.Round.ID != "" {
		content.WriteString(fmt.Sprintf("Round %s  %s  ", v.Round.ID, v.Round.Status))
		if v.Round.Status == round.StatusBetting {
			content.WriteString(CountdownStyle.Render(FormatCountdown(m.timeLeft)))
		}
		content.WriteString("\n")
	} else {
		content.WriteString(InfoStyle.Render("Waiting for round..."))
		content.WriteString("\n")
	}

	switch {
	case m.presenting != nil:
		content.WriteString(fmt.Sprintf("Result: %s\n", formatResult(*m.presenting)))
	case v.BetState == client.BetPending && v.Request != nil:
		content.WriteString(WarningStyle.Render(fmt.Sprintf("Your bet: %s x%d on %s",
			formatAmount(v.Request.Stake), v.Request.Multiplier, v.Request.Selection)))
		content.WriteString("\n")
	case v.BetState == client.BetSettled && v.Settlement != nil:
		if v.Settlement.Won {
			content.WriteString(SuccessStyle.Render(fmt.Sprintf("Won %s", formatAmount(v.Settlement.Payout))))
		} else {
			content.WriteString(ErrorStyle.Render("Lost"))
		}
		content.WriteString("\n")
	}

	content.WriteString(m.betInput.View())
	content.WriteString("\n")
	content.WriteString(InfoStyle.Render("Enter to submit • PgUp/PgDn scroll • Ctrl+C to quit"))
	return content.String()
}

// AddLogEntry appends an entry to the game log
func (m *TUIModel) AddLogEntry(entry string) {
	m.gameLog = append(m.gameLog, entry)
}

// Log returns the game log entries.
func (m *TUIModel) Log() []string {
	return m.gameLog
}

// FormatCountdown renders a duration as mm:ss, rounding up partial seconds.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func formatResult(r protocol.RoundResultData) string {
	return ColorStyle(r.ResultColor).Render(fmt.Sprintf("%d %s %s", r.ResultValue, r.ResultColor, r.ResultSize))
}

func formatAmount(v int64) string {
	return fmt.Sprintf("%d", v)
}
