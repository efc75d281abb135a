package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/adapters/canvas"
	"github.com/waqar741/EchoAI/adapters/speech"
	"github.com/waqar741/EchoAI/adapters/tts"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
	"github.com/waqar741/EchoAI/utils/log"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive voice chat in the terminal",
	Long: `chat opens the conversation view. Typing starts a capture, as if the
microphone were opened, and interrupts a reply being spoken. Enter submits
the utterance. Esc cancels, Ctrl+R starts over and Ctrl+C quits.`,
	RunE: runChat,
}

var (
	StatusBarStyle = lipgloss.NewStyle().
			Background(canvas.Teal).
			Foreground(canvas.OffWhite).
			Bold(true).
			Padding(0, 1)

	ChatPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(canvas.Teal).
			Padding(0, 1)

	InputBarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(canvas.Teal).
			Padding(0, 1)

	UserMessageStyle      = lipgloss.NewStyle().Foreground(canvas.OffWhite).Bold(true)
	AssistantMessageStyle = lipgloss.NewStyle().Foreground(canvas.Teal)
	ErrorMessageStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#e06c75")).Italic(true)
	PartialStyle          = lipgloss.NewStyle().Foreground(canvas.Gray).Italic(true)
)

type (
	frameMsg      time.Time
	partialMsg    string
	deltaMsg      string
	transcriptMsg string
	turnDoneMsg   struct {
		turn uint64
		err  error
	}
)

type chatModel struct {
	s          *session
	recognizer *speech.TextRecognizer
	ctx        context.Context
	events     chan tea.Msg

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	turn       uint64
	cancelTurn context.CancelFunc
	capturing  bool
	partial    string
	pending    strings.Builder
	notice     string

	width, height int
}

func newChatModel(ctx context.Context, s *session, recognizer *speech.TextRecognizer) *chatModel {
	ti := textinput.New()
	ti.Placeholder = "Start typing to talk..."
	ti.Focus()

	m := &chatModel{
		s:          s,
		recognizer: recognizer,
		ctx:        ctx,
		events:     make(chan tea.Msg, 64),
		input:      ti,
		viewport:   viewport.New(0, 0),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	s.voice.OnPartial = func(text string) { m.emit(partialMsg(text)) }
	return m
}

// emit hands msg to the UI loop from a background goroutine.
func (m *chatModel) emit(msg tea.Msg) {
	select {
	case m.events <- msg:
	case <-m.ctx.Done():
	}
}

func (m *chatModel) waitForEvent() tea.Msg {
	select {
	case msg := <-m.events:
		return msg
	case <-m.ctx.Done():
		return nil
	}
}

func (m *chatModel) tick() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(cfg.AvatarFPS), func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.tick(), m.waitForEvent)
}

// converse runs one voice turn: capture, relay request and spoken reply. A
// newer turn cancels this one.
func (m *chatModel) converse() tea.Cmd {
	if m.cancelTurn != nil {
		m.cancelTurn()
	}
	m.turn++
	turn := m.turn
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelTurn = cancel
	m.capturing = true
	m.partial = ""
	m.pending.Reset()

	return func() tea.Msg {
		defer cancel()
		text, err := m.s.voice.Listen(ctx)
		if err != nil || text == "" {
			return turnDoneMsg{turn: turn, err: err}
		}
		m.emit(transcriptMsg(text))
		_, err = m.s.reply(ctx, text, func(delta string) { m.emit(deltaMsg(delta)) })
		return turnDoneMsg{turn: turn, err: err}
	}
}

func (m *chatModel) stopTurn() {
	if m.cancelTurn != nil {
		m.cancelTurn()
		m.cancelTurn = nil
	}
	m.capturing = false
	m.partial = ""
	m.pending.Reset()
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.stopTurn()
			return m, tea.Quit
		case "esc":
			m.stopTurn()
			m.s.voice.Cancel()
			m.notice = "cancelled"
		case "ctrl+r":
			m.stopTurn()
			m.s.voice.Cancel()
			m.s.chat.Reset()
			m.notice = "conversation cleared"
			m.refresh()
		case "enter":
			if !m.capturing {
				break
			}
			if !m.recognizer.Submit(m.input.Value()) {
				m.notice = "microphone not ready, try again"
				break
			}
			m.input.Reset()
		default:
			if (msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace) && !m.capturing {
				m.notice = ""
				cmds = append(cmds, m.converse())
			}
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case frameMsg:
		cmds = append(cmds, m.tick())

	case partialMsg:
		m.partial = string(msg)
		m.refresh()
		cmds = append(cmds, m.waitForEvent)

	case transcriptMsg:
		m.capturing = false
		m.partial = ""
		m.refresh()
		cmds = append(cmds, m.waitForEvent)

	case deltaMsg:
		m.pending.WriteString(string(msg))
		m.refresh()
		cmds = append(cmds, m.waitForEvent)

	case turnDoneMsg:
		if msg.turn == m.turn {
			m.capturing = false
			m.partial = ""
			m.pending.Reset()
			if msg.err != nil && !usecase.IsCancelled(msg.err) {
				log.Warn("Voice turn failed", zap.Error(msg.err))
				m.notice = msg.err.Error()
			}
			m.refresh()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	// keys belong to the input; the viewport only scrolls with the mouse
	if _, isKey := msg.(tea.KeyMsg); !isKey {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// refresh rebuilds the conversation view from the store.
func (m *chatModel) refresh() {
	var sb strings.Builder
	for _, t := range m.s.chat.Store().Snapshot() {
		switch {
		case t.Error:
			sb.WriteString(ErrorMessageStyle.Render("! " + t.Text))
		case t.Role == domain.UserRole:
			sb.WriteString(UserMessageStyle.Render("you: " + t.Text))
		default:
			sb.WriteString(AssistantMessageStyle.Render("assistant: " + t.Text))
		}
		sb.WriteString("\n")
	}
	if m.pending.Len() > 0 {
		sb.WriteString(AssistantMessageStyle.Render("assistant: " + m.pending.String()))
		sb.WriteString("\n")
	}
	if m.partial != "" {
		sb.WriteString(PartialStyle.Render(m.partial + "..."))
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m *chatModel) statusBarView() string {
	state := m.s.machine.State()
	label := string(state)
	if state == domain.StateThinking {
		label = m.spinner.View() + " " + label
	}
	line := fmt.Sprintf("EchoAI | %s | %s", cfg.RelayURL, label)
	if m.notice != "" {
		line += " | " + m.notice
	}
	return StatusBarStyle.Width(m.width).Render(line)
}

func (m *chatModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	statusBar := m.statusBarView()
	inputBar := InputBarStyle.Width(m.width - 2).Render(m.input.View())
	avatar := m.s.canvas.View()

	contentHeight := m.height - lipgloss.Height(statusBar) - lipgloss.Height(inputBar)
	chatWidth := m.width - lipgloss.Width(avatar) - 1
	m.viewport.Width = chatWidth - 4
	m.viewport.Height = contentHeight - 2
	chat := ChatPanelStyle.Width(chatWidth - 2).Height(contentHeight - 2).Render(m.viewport.View())

	layout := lipgloss.JoinHorizontal(lipgloss.Top, chat, " ", avatar)
	return lipgloss.JoinVertical(lipgloss.Left, statusBar, layout, inputBar)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	recognizer := speech.NewTextRecognizer()
	s, err := newSession(cfg, recognizer, tts.NewConsoleSynthesizer(nil))
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.start(ctx); err != nil {
		return err
	}

	log.Info("Chat session started", zap.String("session_id", s.id), zap.String("relay", cfg.RelayURL))
	_, err = tea.NewProgram(newChatModel(ctx, s, recognizer),
		tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx)).Run()
	return err
}
