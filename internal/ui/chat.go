package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wsxxll/webchat/internal/chat"
	"github.com/wsxxll/webchat/internal/protocol"
	"github.com/wsxxll/webchat/internal/transfer"
	"github.com/wsxxll/webchat/internal/utils"
)

const maxLines = 500

// Session is what the chat screen drives. *chat.Client implements it.
type Session interface {
	Events() <-chan chat.Event
	Done() <-chan struct{}
	Self() protocol.UserInfo
	Room() string
	Peers() []protocol.UserInfo
	Linked(peerID string) bool
	CanSwitch() bool
	SendText(text string) error
	SendFile(path string) error
	Join(room string) error
	Leave() error
	Accept(peerID, fileID string) error
	Reject(peerID, fileID string) error
	Cancel(peerID, fileID string) error
}

type eventMsg chat.Event

type sessionDoneMsg struct{}

const helpText = `/join <room>     switch rooms
/leave           leave the current room
/send <path>     share a file with the room
/accept <id>     accept an offered file
/reject <id>     decline an offered file
/cancel <id>     stop a transfer
/who             list who is here
/quit            exit`

// ChatModel is the interactive room screen.
type ChatModel struct {
	session   Session
	viewport  viewport.Model
	input     textinput.Model
	spinner   spinner.Model
	transfers *TransferList
	lines     []string
	room      string
	status    string
	connected bool
	quitting  bool
	width     int
	height    int
	now       func() time.Time
}

func NewChatModel(s Session) *ChatModel {
	in := textinput.New()
	in.Placeholder = "Type a message or /help"
	in.Prompt = "> "
	in.CharLimit = 4096
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	return &ChatModel{
		session:   s,
		viewport:  viewport.New(80, 20),
		input:     in,
		spinner:   sp,
		transfers: NewTransferList(),
		status:    "Connecting...",
		now:       time.Now,
	}
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitEvent())
}

func (m *ChatModel) waitEvent() tea.Cmd {
	events, done := m.session.Events(), m.session.Done()
	return func() tea.Msg {
		select {
		case ev := <-events:
			return eventMsg(ev)
		case <-done:
			return sessionDoneMsg{}
		}
	}
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line != "" && m.submit(line) {
				m.quitting = true
				return m, tea.Quit
			}
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = msg.Width - 4
		m.transfers.SetWidth(msg.Width - 70)
		m.layout()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case eventMsg:
		m.apply(chat.Event(msg))
		cmds = append(cmds, m.waitEvent())

	case sessionDoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// layout sizes the message pane around the header, transfers and input.
func (m *ChatModel) layout() {
	if m.width == 0 {
		return
	}
	used := 4 // header and bordered input
	if n := m.transfers.Len(); n > 0 {
		used += n + 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(3, m.height-used)
	m.refresh()
}

func (m *ChatModel) refresh() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *ChatModel) println(s string) {
	m.lines = append(m.lines, s)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.refresh()
}

func (m *ChatModel) system(format string, args ...any) {
	m.println(SystemStyle.Render(fmt.Sprintf(format, args...)))
}

func (m *ChatModel) errorf(err error) {
	m.println(ErrorStyle.Render(IconError + " " + err.Error()))
}

func (m *ChatModel) apply(ev chat.Event) {
	switch ev.Kind {
	case chat.EventJoined:
		m.room, m.connected = ev.Room, true
		m.status = ""
		m.system("%s joined %s with %d other(s)", IconRoom, ev.Room, len(ev.Users))
	case chat.EventUserJoined:
		m.system("%s %s joined", IconPeer, ev.User.Name)
	case chat.EventUserLeft:
		m.system("%s %s left", IconPeer, ev.User.Name)
	case chat.EventChat:
		m.println(m.formatChat(ev.Chat))
	case chat.EventLinkUp:
		m.system("%s direct link to %s", IconLink, ev.User.Name)
	case chat.EventLinkDown:
		m.system("%s direct link to %s closed, using relay", IconRelay, ev.User.Name)
	case chat.EventTransfer:
		m.applyTransfer(ev.User, ev.Transfer)
	case chat.EventFileSaved:
		m.println(SuccessStyle.Render(fmt.Sprintf("%s saved %s from %s", IconSuccess, ev.Path, ev.User.Name)))
	case chat.EventNotice:
		m.system("%s %s", IconInfo, ev.Text)
	case chat.EventError:
		if ev.Err != nil {
			m.errorf(ev.Err)
		}
	case chat.EventDisconnected:
		m.connected = false
		m.status = "Reconnecting to " + ev.Room + "..."
		m.println(WarningStyle.Render(IconWarning + " connection lost"))
	case chat.EventReconnected:
		m.connected = true
		m.status = ""
		m.system("%s reconnected to %s", IconConnect, ev.Room)
	case chat.EventLeft:
		m.room, m.connected = "", false
		m.status = "Not in a room. /join <room>"
		m.system("%s left %s", IconRoom, ev.Room)
	}
}

func (m *ChatModel) applyTransfer(peer protocol.UserInfo, te transfer.Event) {
	before := m.transfers.Len()
	item := m.transfers.Apply(peer, te)
	switch te.Kind {
	case transfer.EventOffered:
		if te.Direction == transfer.Incoming {
			m.system("%s %s offers %s (%s). /accept %s or /reject %s",
				IconFile, peer.Name, te.Name, utils.FormatSize(te.Size), item.ShortID(), item.ShortID())
		} else {
			m.system("%s offered %s to %s", IconSend, te.Name, peer.Name)
		}
	case transfer.EventCompleted:
		if te.Direction == transfer.Outgoing {
			m.println(SuccessStyle.Render(fmt.Sprintf("%s sent %s to %s", IconComplete, te.Name, peer.Name)))
		}
	case transfer.EventRejected:
		m.system("%s %s declined %s", IconWarning, peer.Name, te.Name)
	case transfer.EventCancelled:
		m.system("%s %s cancelled", IconWarning, te.Name)
	case transfer.EventFailed:
		err := te.Err
		if err == nil {
			err = errors.New("transfer failed")
		}
		m.errorf(fmt.Errorf("%s: %w", te.Name, err))
	}
	if m.transfers.Len() != before {
		m.layout()
	}
}

func (m *ChatModel) formatChat(msg chat.ChatMessage) string {
	at := msg.At
	if at.IsZero() {
		at = m.now()
	}
	name := NameStyle(msg.From.Color).Render(msg.From.Name)
	if msg.Own {
		name = OwnNameStyle.Render(msg.From.Name)
	}
	via := IconRelay
	if msg.Direct {
		via = IconLink
	}
	return fmt.Sprintf("%s %s %s: %s", TimeStyle.Render(at.Format("15:04")), via, name, msg.Text)
}

// parseCommand splits "/cmd args". ok is false for plain text.
func parseCommand(line string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}

// submit handles one input line and reports whether to quit.
func (m *ChatModel) submit(line string) bool {
	cmd, arg, ok := parseCommand(line)
	if !ok {
		if err := m.session.SendText(line); err != nil {
			m.errorf(err)
		}
		return false
	}

	var err error
	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "h":
		m.println(MutedStyle.Render(helpText))
	case "who":
		m.who()
	case "join":
		if arg == "" {
			err = errors.New("usage: /join <room>")
			break
		}
		err = m.session.Join(arg)
	case "leave":
		err = m.session.Leave()
	case "send":
		if arg == "" {
			err = errors.New("usage: /send <path>")
			break
		}
		err = m.session.SendFile(arg)
	case "accept", "reject", "cancel":
		err = m.transferCommand(cmd, arg)
	default:
		err = fmt.Errorf("unknown command /%s, try /help", cmd)
	}
	if err != nil {
		m.errorf(err)
	}
	return false
}

func (m *ChatModel) transferCommand(cmd, arg string) error {
	if arg == "" {
		return fmt.Errorf("usage: /%s <id>", cmd)
	}
	item, ok := m.transfers.Find(arg)
	if !ok {
		return fmt.Errorf("no single active transfer matches %q", arg)
	}
	switch cmd {
	case "accept":
		return m.session.Accept(item.Peer.ID, item.FileID)
	case "reject":
		return m.session.Reject(item.Peer.ID, item.FileID)
	default:
		return m.session.Cancel(item.Peer.ID, item.FileID)
	}
}

func (m *ChatModel) who() {
	peers := m.session.Peers()
	if len(peers) == 0 {
		m.system("%s nobody else is here", IconPeer)
		return
	}
	rows := make([]PeerRow, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, PeerRow{User: p, Direct: m.session.Linked(p.ID)})
	}
	m.println(PeerTableView(rows))
}

func (m *ChatModel) header() string {
	self := m.session.Self()
	room := m.room
	if room == "" {
		room = "-"
	}
	text := fmt.Sprintf("%s %s  %s %s", IconRoom, room, IconPeer, self.Name)
	if m.status != "" {
		text += "  " + m.spinner.View() + " " + m.status
	}
	return HeaderStyle.Width(max(m.width, lipgloss.Width(text))).Render(text)
}

func (m *ChatModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if t := m.transfers.View(); t != "" {
		b.WriteString(t)
		b.WriteString("\n")
	}
	b.WriteString(InputStyle.Render(m.input.View()))
	return b.String()
}
