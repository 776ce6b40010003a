package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/wsxxll/webchat/internal/chat"
	"github.com/wsxxll/webchat/internal/protocol"
	"github.com/wsxxll/webchat/internal/transfer"
)

type fakeSession struct {
	events chan chat.Event
	done   chan struct{}
	peers  []protocol.UserInfo
	linked map[string]bool

	sent     []string
	files    []string
	joined   []string
	left     int
	accepted []string
	rejected []string
	canceled []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events: make(chan chat.Event, 8),
		done:   make(chan struct{}),
		linked: make(map[string]bool),
	}
}

func (f *fakeSession) Events() <-chan chat.Event { return f.events }
func (f *fakeSession) Done() <-chan struct{}     { return f.done }
func (f *fakeSession) Room() string              { return "lobby" }
func (f *fakeSession) CanSwitch() bool           { return true }

func (f *fakeSession) Self() protocol.UserInfo {
	return protocol.UserInfo{ID: "me", Name: "me"}
}

func (f *fakeSession) Peers() []protocol.UserInfo { return f.peers }

func (f *fakeSession) Linked(id string) bool { return f.linked[id] }

func (f *fakeSession) SendText(text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSession) SendFile(path string) error {
	f.files = append(f.files, path)
	return nil
}

func (f *fakeSession) Leave() error {
	f.left++
	return nil
}

func (f *fakeSession) Join(room string) error {
	f.joined = append(f.joined, room)
	return nil
}

func (f *fakeSession) Accept(peerID, fileID string) error {
	f.accepted = append(f.accepted, peerID+"/"+fileID)
	return nil
}

func (f *fakeSession) Reject(peerID, fileID string) error {
	f.rejected = append(f.rejected, peerID+"/"+fileID)
	return nil
}

func (f *fakeSession) Cancel(peerID, fileID string) error {
	f.canceled = append(f.canceled, peerID+"/"+fileID)
	return nil
}

func lastLine(m *ChatModel) string {
	if len(m.lines) == 0 {
		return ""
	}
	return m.lines[len(m.lines)-1]
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		cmd  string
		arg  string
		ok   bool
	}{
		{"hello", "", "", false},
		{"/quit", "quit", "", true},
		{"/JOIN  room one ", "join", "room one", true},
		{"/send /tmp/a b.txt", "send", "/tmp/a b.txt", true},
	}
	for _, tt := range tests {
		cmd, arg, ok := parseCommand(tt.line)
		if cmd != tt.cmd || arg != tt.arg || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %q, %v; want %q, %q, %v",
				tt.line, cmd, arg, ok, tt.cmd, tt.arg, tt.ok)
		}
	}
}

func TestChatModelCommands(t *testing.T) {
	s := newFakeSession()
	m := NewChatModel(s)

	if m.submit("hello there") {
		t.Fatal("plain text should not quit")
	}
	if len(s.sent) != 1 || s.sent[0] != "hello there" {
		t.Fatalf("sent = %v", s.sent)
	}

	m.submit("/join other")
	m.submit("/leave")
	m.submit("/send ./notes.txt")
	if len(s.joined) != 1 || s.joined[0] != "other" {
		t.Errorf("joined = %v", s.joined)
	}
	if s.left != 1 {
		t.Errorf("left = %d, want 1", s.left)
	}
	if len(s.files) != 1 || s.files[0] != "./notes.txt" {
		t.Errorf("files = %v", s.files)
	}

	m.submit("/join")
	if !strings.Contains(lastLine(m), "usage: /join") {
		t.Errorf("last line = %q, want usage", lastLine(m))
	}
	m.submit("/bogus")
	if !strings.Contains(lastLine(m), "unknown command /bogus") {
		t.Errorf("last line = %q, want unknown command", lastLine(m))
	}

	if !m.submit("/quit") {
		t.Error("/quit should quit")
	}
}

func TestChatModelTransferCommands(t *testing.T) {
	s := newFakeSession()
	m := NewChatModel(s)
	bob := protocol.UserInfo{ID: "bob", Name: "bob"}

	m.apply(chat.Event{Kind: chat.EventTransfer, User: bob, Transfer: transfer.Event{
		Kind:      transfer.EventOffered,
		Direction: transfer.Incoming,
		FileID:    "abcdef0123456789",
		Name:      "photo.png",
		Size:      2048,
	}})
	if !strings.Contains(lastLine(m), "/accept abcdef01") {
		t.Errorf("offer line = %q", lastLine(m))
	}

	m.submit("/accept abc")
	if len(s.accepted) != 1 || s.accepted[0] != "bob/abcdef0123456789" {
		t.Fatalf("accepted = %v", s.accepted)
	}

	m.submit("/cancel zzz")
	if len(s.canceled) != 0 {
		t.Errorf("cancel with unknown id reached the session: %v", s.canceled)
	}

	m.apply(chat.Event{Kind: chat.EventTransfer, User: bob, Transfer: transfer.Event{
		Kind:      transfer.EventCompleted,
		Direction: transfer.Incoming,
		FileID:    "abcdef0123456789",
		Name:      "photo.png",
	}})
	m.submit("/reject abc")
	if len(s.rejected) != 0 {
		t.Errorf("finished transfer was rejected: %v", s.rejected)
	}
}

func TestChatModelEvents(t *testing.T) {
	s := newFakeSession()
	m := NewChatModel(s)
	alice := protocol.UserInfo{ID: "a", Name: "alice", Color: "#FF6B6B"}

	m.apply(chat.Event{Kind: chat.EventJoined, Room: "lobby", Users: []protocol.UserInfo{alice}})
	if m.room != "lobby" || !m.connected || m.status != "" {
		t.Fatalf("after join: room=%q connected=%v status=%q", m.room, m.connected, m.status)
	}

	m.apply(chat.Event{Kind: chat.EventChat, User: alice, Chat: chat.ChatMessage{
		From: alice,
		Text: "hi all",
		At:   time.Date(2024, 1, 1, 9, 30, 0, 0, time.Local),
	}})
	if l := lastLine(m); !strings.Contains(l, "hi all") || !strings.Contains(l, "09:30") {
		t.Errorf("chat line = %q", l)
	}

	m.apply(chat.Event{Kind: chat.EventDisconnected, Room: "lobby"})
	if m.connected {
		t.Error("still connected after disconnect")
	}
	m.apply(chat.Event{Kind: chat.EventReconnected, Room: "lobby"})
	if !m.connected {
		t.Error("not connected after reconnect")
	}

	m.apply(chat.Event{Kind: chat.EventLeft, Room: "lobby"})
	if m.room != "" || m.connected {
		t.Errorf("after leave: room=%q connected=%v", m.room, m.connected)
	}
}

func TestChatModelEventLoop(t *testing.T) {
	s := newFakeSession()
	m := NewChatModel(s)

	s.events <- chat.Event{Kind: chat.EventNotice, Text: "ping"}
	msg := m.waitEvent()()
	if _, ok := msg.(eventMsg); !ok {
		t.Fatalf("waitEvent returned %T, want eventMsg", msg)
	}

	close(s.done)
	if _, ok := m.waitEvent()().(sessionDoneMsg); !ok {
		t.Fatal("waitEvent did not report the session ending")
	}
}

func TestTransferListPrunesFinished(t *testing.T) {
	l := NewTransferList()
	peer := protocol.UserInfo{ID: "p", Name: "p"}

	for _, id := range []string{"f1", "f2", "f3", "f4", "f5"} {
		l.Apply(peer, transfer.Event{Kind: transfer.EventOffered, FileID: id, Name: id})
		l.Apply(peer, transfer.Event{Kind: transfer.EventCompleted, FileID: id, Name: id})
	}
	l.Apply(peer, transfer.Event{Kind: transfer.EventProgress, FileID: "live", Chunks: 1, TotalChunks: 4})

	if got, want := l.Len(), keepFinished+1; got != want {
		t.Fatalf("Len = %d, want %d", got, want)
	}
	if _, ok := l.Find("f1"); ok {
		t.Error("oldest finished transfer still listed")
	}
	item, ok := l.Find("li")
	if !ok || item.Percent != 25 {
		t.Fatalf("Find(li) = %+v, %v", item, ok)
	}
}

func TestTransferListAmbiguousPrefix(t *testing.T) {
	l := NewTransferList()
	peer := protocol.UserInfo{ID: "p", Name: "p"}
	l.Apply(peer, transfer.Event{Kind: transfer.EventOffered, FileID: "aa11"})
	l.Apply(peer, transfer.Event{Kind: transfer.EventOffered, FileID: "aa22"})

	if _, ok := l.Find("aa"); ok {
		t.Error("ambiguous prefix matched")
	}
	if item, ok := l.Find("aa2"); !ok || item.FileID != "aa22" {
		t.Errorf("Find(aa2) = %+v, %v", item, ok)
	}
}

func TestRoomStatsView(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := RoomStatsView(RoomStats{
		RoomID:       "lobby",
		UserCount:    2,
		Users:        []string{"u1", "u2"},
		CreatedAt:    now.Add(-time.Hour),
		LastActivity: now.Add(-30 * time.Second),
	}, now)

	for _, want := range []string{"lobby", "u1", "u2", "1h0m0s ago", "30s ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats view missing %q:\n%s", want, out)
		}
	}
}

func TestPeerTableView(t *testing.T) {
	out := PeerTableView([]PeerRow{
		{User: protocol.UserInfo{ID: "a", Name: "alice", Client: protocol.ClientCLI}, Direct: true},
		{User: protocol.UserInfo{ID: "b", Name: "bob"}},
	})
	for _, want := range []string{"alice", "bob", "direct", "relay"} {
		if !strings.Contains(out, want) {
			t.Errorf("peer table missing %q:\n%s", want, out)
		}
	}
	if got := PeerTableView(nil); !strings.Contains(got, "No peers") {
		t.Errorf("empty table = %q", got)
	}
}
