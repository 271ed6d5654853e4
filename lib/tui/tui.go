// Package tui is the interactive terminal front end for a chat client.
package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/niss337/securechat/lib/client"
	"github.com/niss337/securechat/lib/protocol"
	"github.com/niss337/securechat/lib/util/logger"
)

var log = logger.GetChatLogger()

// DefaultHistory is how many lines of scrollback are kept.
const DefaultHistory = 500

const helpText = "Commands: /login <username>, /join <room>, /msg <user> <message>, /quit. Anything else goes to the current room."

// Conn is the part of *client.Client the interface drives.
type Conn interface {
	Execute(cmd client.Command) error
	Messages() <-chan protocol.Message
	Username() string
	CurrentRoom() string
	Err() error
	Close() error
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	serverStyle  = lipgloss.NewStyle().Faint(true)
	privateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	systemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

type incomingMsg protocol.Message

type disconnectedMsg struct {
	err error
}

// Model is the bubbletea model of a chat session.
type Model struct {
	conn    Conn
	input   textinput.Model
	lines   []string
	history int

	width, height int
	closed        bool
}

// New returns a model driving conn.
func New(conn Conn) Model {
	input := textinput.New()
	input.Placeholder = "/login <username>"
	input.Prompt = "> "
	input.CharLimit = 4096
	input.Focus()

	m := Model{
		conn:    conn,
		input:   input,
		history: DefaultHistory,
	}
	m.appendLine(systemStyle.Render(helpText))
	return m
}

// Run starts an interactive program on the terminal and blocks until the
// user quits.
func Run(conn Conn, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	_, err := tea.NewProgram(New(conn), opts...).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForMessage(m.conn))
}

// waitForMessage blocks until the next server message or disconnect.
func waitForMessage(conn Conn) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-conn.Messages()
		if !ok {
			return disconnectedMsg{err: conn.Err()}
		}
		return incomingMsg(msg)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.conn.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 10)
		return m, nil

	case incomingMsg:
		m.appendLine(render(protocol.Message(msg)))
		return m, waitForMessage(m.conn)

	case disconnectedMsg:
		m.closed = true
		if msg.err != nil {
			m.appendLine(errorStyle.Render("Connection closed: " + msg.err.Error()))
		} else {
			m.appendLine(systemStyle.Render("Connection closed by server."))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles the line in the input box.
func (m Model) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.input.Reset()

	cmd, err := client.ParseCommand(line)
	if err != nil {
		m.appendLine(systemStyle.Render(err.Error()))
		return m, nil
	}
	switch cmd.Action {
	case client.ActionNone:
		return m, nil
	case client.ActionQuit:
		m.conn.Close()
		return m, tea.Quit
	}
	if m.closed {
		m.appendLine(errorStyle.Render("Not connected."))
		return m, nil
	}

	if err := m.conn.Execute(cmd); err != nil {
		var usage client.UsageError
		if errors.As(err, &usage) {
			m.appendLine(systemStyle.Render(usage.Error()))
		} else {
			log.WithField("at", "tui.Model.submit").WithError(err).Debug("command_failed")
			m.appendLine(errorStyle.Render("Send failed: " + err.Error()))
		}
	}
	return m, nil
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if over := len(m.lines) - m.history; over > 0 {
		m.lines = m.lines[over:]
	}
}

// render styles a server message for the scrollback.
func render(msg protocol.Message) string {
	text := client.Format(msg)
	switch {
	case msg.Kind == protocol.KindErrorResponse:
		return errorStyle.Render(text)
	case msg.Kind == protocol.KindPrivateMessage:
		return privateStyle.Render(text)
	case msg.Sender == protocol.ServerSender:
		return serverStyle.Render(text)
	}
	return text
}

func (m Model) header() string {
	status := "not logged in"
	if u := m.conn.Username(); u != "" {
		status = u
		if room := m.conn.CurrentRoom(); room != "" {
			status += " in " + room
		}
	}
	if m.closed {
		status += " (disconnected)"
	}
	return headerStyle.Render("securechat | " + status)
}

func (m Model) View() string {
	lines := m.lines
	if m.height > 0 {
		// header and input take one line each
		if visible := m.height - 2; visible > 0 && len(lines) > visible {
			lines = lines[len(lines)-visible:]
		}
	}
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteByte('\n')
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString(m.input.View())
	return b.String()
}
