package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/warpmesh/internal/filetransfer"
	"github.com/BioHazard786/warpmesh/internal/session"
	"github.com/BioHazard786/warpmesh/internal/utils"
)

const maxTranscript = 500

// Backend is what the chat screen drives. Implementations talk to the
// session registry and the discovery scheduler.
type Backend interface {
	LocalID() string
	Broadcast(ctx context.Context, text string) error
	SendFile(ctx context.Context, path string) (filetransfer.File, error)
	SaveFile(file filetransfer.File) (string, error)
	Peers() []session.PeerInfo
	Leave(ctx context.Context) error
}

// EventMsg carries a registry event into the bubbletea program.
type EventMsg session.Event

type resultMsg struct {
	line string
	err  error
}

type leftMsg struct{ err error }

// ChatModel is the interactive room screen: a transcript above a single
// line input.
type ChatModel struct {
	ctx     context.Context
	backend Backend
	room    RoomInfo
	input   textinput.Model
	lines   []string
	pending int
	height  int
	err     error
}

func NewChatModel(ctx context.Context, backend Backend, room RoomInfo) *ChatModel {
	input := textinput.New()
	input.Placeholder = "Type a message, /send <path>, /peers or /quit"
	input.Prompt = "> "
	input.PromptStyle = SelfStyle
	input.CharLimit = 4096
	input.Focus()

	return &ChatModel{
		ctx:     ctx,
		backend: backend,
		room:    room,
		input:   input,
	}
}

// Err reports why leaving the room failed, if it did.
func (m *ChatModel) Err() error {
	return m.err
}

func (m *ChatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, m.leave()
		case tea.KeyEnter:
			value := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if value == "" {
				return m, nil
			}
			return m, m.submit(value)
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case EventMsg:
		return m, m.handleEvent(session.Event(msg))

	case resultMsg:
		if m.pending > 0 {
			m.pending--
		}
		if msg.err != nil {
			m.appendLine(ErrorStyle.Render(IconError + " " + msg.err.Error()))
		} else if msg.line != "" {
			m.appendLine(msg.line)
		}
		return m, nil

	case leftMsg:
		m.err = msg.err
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *ChatModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf("%s %s  %s %d connected", IconRoom, m.room.RoomCode, IconPeer, m.readyPeers())
	b.WriteString(HeaderStyle.Render(header))
	b.WriteString("\n")

	lines := m.lines
	if m.height > 0 {
		visible := m.height - 6
		if visible < 1 {
			visible = 1
		}
		if len(lines) > visible {
			lines = lines[len(lines)-visible:]
		}
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	if m.pending > 0 {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  (%d sending)", m.pending)))
	}
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render("enter: send  /send <path>  /peers  /quit"))
	return b.String()
}

func (m *ChatModel) submit(value string) tea.Cmd {
	command, arg := ParseInput(value)
	switch command {
	case "":
		m.appendLine(m.formatLine(m.backend.LocalID(), arg, time.Now(), true))
		m.pending++
		return func() tea.Msg {
			return resultMsg{err: m.backend.Broadcast(m.ctx, arg)}
		}

	case "send":
		if arg == "" {
			m.appendLine(WarningStyle.Render(IconWarning + " usage: /send <path>"))
			return nil
		}
		m.pending++
		return func() tea.Msg {
			file, err := m.backend.SendFile(m.ctx, arg)
			if err != nil {
				return resultMsg{err: err}
			}
			line := fmt.Sprintf("%s sent %s (%s)", IconSend, file.Name, utils.FormatSize(int64(len(file.Data))))
			return resultMsg{line: SystemStyle.Render(line)}
		}

	case "peers":
		m.appendLine(PeerTableView(m.backend.Peers()))
		return nil

	case "quit":
		return m.leave()

	default:
		m.appendLine(WarningStyle.Render(fmt.Sprintf("%s unknown command /%s", IconWarning, command)))
		return nil
	}
}

func (m *ChatModel) handleEvent(ev session.Event) tea.Cmd {
	switch ev.Kind {
	case session.EventMessage:
		m.appendLine(m.formatLine(ev.From, ev.Message.Text, ev.Message.Timestamp, false))

	case session.EventFile:
		file := ev.File
		from := ev.From
		return func() tea.Msg {
			path, err := m.backend.SaveFile(file)
			if err != nil {
				return resultMsg{err: fmt.Errorf("save %s from %s: %w", file.Name, ShortID(from), err)}
			}
			line := fmt.Sprintf("%s %s sent %s (%s), saved to %s",
				IconReceive, ShortID(from), file.Name, utils.FormatSize(int64(len(file.Data))), path)
			return resultMsg{line: SystemStyle.Render(line)}
		}

	case session.EventPeerReady:
		m.appendLine(SystemStyle.Render(fmt.Sprintf("%s %s connected", IconConnect, ShortID(ev.From))))

	case session.EventPeerClosed:
		m.appendLine(SystemStyle.Render(fmt.Sprintf("%s %s left", IconLeave, ShortID(ev.From))))
	}
	return nil
}

func (m *ChatModel) leave() tea.Cmd {
	m.input.Blur()
	m.appendLine(SystemStyle.Render(IconLeave + " leaving room..."))
	return func() tea.Msg {
		return leftMsg{err: m.backend.Leave(m.ctx)}
	}
}

func (m *ChatModel) formatLine(sender, text string, at time.Time, self bool) string {
	name := PeerStyle.Render(ShortID(sender))
	if self {
		name = SelfStyle.Render("you")
	}
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("%s %s %s", TimestampStyle.Render(at.Format("15:04")), name, text)
}

func (m *ChatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxTranscript {
		m.lines = m.lines[len(m.lines)-maxTranscript:]
	}
}

func (m *ChatModel) readyPeers() int {
	n := 0
	for _, p := range m.backend.Peers() {
		if p.State == session.StateReady {
			n++
		}
	}
	return n
}

// ParseInput splits a chat line into a slash command and its argument.
// Plain text yields an empty command and the text as argument.
func ParseInput(value string) (command, arg string) {
	if !strings.HasPrefix(value, "/") {
		return "", value
	}
	command, arg, _ = strings.Cut(strings.TrimPrefix(value, "/"), " ")
	return strings.ToLower(command), strings.TrimSpace(arg)
}
