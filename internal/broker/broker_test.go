package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wsxxll/webchat/internal/protocol"
)

func testOptions() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}.withDefaults()
}

func startBroker(t *testing.T) *Broker {
	t.Helper()
	b := newBroker(RoomKey("r1"), testOptions(), nil)
	go b.Run()
	t.Cleanup(b.Close)
	return b
}

func connect(t *testing.T, b *Broker) *Session {
	t.Helper()
	s := newSession(nil, 64)
	if err := b.Connect(s, "r1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	msg := recv(t, s)
	if msg.Type != protocol.TypeConnected {
		t.Fatalf("Expected connected, got %q", msg.Type)
	}
	if msg.SessionID != s.id || msg.RoomID != "r1" {
		t.Fatalf("Unexpected connected payload: %+v", msg)
	}
	return s
}

func send(t *testing.T, b *Broker, s *Session, frame string) {
	t.Helper()
	if err := b.submit(event{kind: eventMessage, session: s, data: []byte(frame)}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
}

func recv(t *testing.T, s *Session) *protocol.Message {
	t.Helper()
	select {
	case data, ok := <-s.send:
		if !ok {
			t.Fatal("Session queue closed")
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}
	return nil
}

func recvRaw(t *testing.T, s *Session) map[string]any {
	t.Helper()
	select {
	case data := <-s.send:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}
	return nil
}

// settle waits until every event submitted so far has been handled.
func settle(t *testing.T, b *Broker) Stats {
	t.Helper()
	st, err := b.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	return st
}

func expectSilent(t *testing.T, sessions ...*Session) {
	t.Helper()
	for _, s := range sessions {
		select {
		case data := <-s.send:
			t.Errorf("Expected no message for %s, got %s", s.id, data)
		default:
		}
	}
}

func join(t *testing.T, b *Broker, s *Session, userID, name string) *protocol.Message {
	t.Helper()
	send(t, b, s, fmt.Sprintf(`{"type":"join","userId":%q,"userInfo":{"name":%q}}`, userID, name))
	msg := recv(t, s)
	if msg.Type != protocol.TypeJoined {
		t.Fatalf("Expected joined, got %q (%s)", msg.Type, msg.Message)
	}
	return msg
}

func TestJoinRoster(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)
	bs := connect(t, b)

	joinedA := join(t, b, a, "A", "A")
	if !reflect.DeepEqual(joinedA.Users, []string{"A"}) {
		t.Errorf("Expected users [A], got %v", joinedA.Users)
	}
	if joinedA.RoomID != "r1" {
		t.Errorf("Expected roomId r1, got %q", joinedA.RoomID)
	}

	joinedB := join(t, b, bs, "B", "B")
	if !reflect.DeepEqual(joinedB.Users, []string{"B", "A"}) {
		t.Errorf("Expected users [B A], got %v", joinedB.Users)
	}
	if _, ok := joinedB.UsersInfo["A"]; !ok {
		t.Error("Expected usersInfo to contain A")
	}
	if info := protocol.DecodeUserInfo("A", joinedB.UsersInfo["A"]); info.Name != "A" {
		t.Errorf("Expected A's name to pass through, got %q", info.Name)
	}

	ev := recv(t, a)
	if ev.Type != protocol.TypeUserJoined || ev.UserID != "B" {
		t.Errorf("Expected user-joined B, got %+v", ev)
	}

	settle(t, b)
	expectSilent(t, bs)
}

func TestJoinGeneratesUserID(t *testing.T) {
	b := startBroker(t)
	s := connect(t, b)

	send(t, b, s, `{"type":"join"}`)
	msg := recv(t, s)
	if msg.UserID == "" {
		t.Fatal("Expected generated user id")
	}
	info := protocol.DecodeUserInfo("", msg.UserInfo)
	if info.ID != msg.UserID {
		t.Errorf("Expected default userInfo id %q, got %q", msg.UserID, info.ID)
	}
}

func TestDoubleJoin(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)
	other := connect(t, b)
	join(t, b, other, "O", "O")
	join(t, b, a, "A", "A")
	recv(t, other)

	send(t, b, a, `{"type":"join","userId":"A2"}`)
	msg := recv(t, a)
	if msg.Type != protocol.TypeError || msg.Message != "Already joined" {
		t.Errorf("Expected Already joined error, got %+v", msg)
	}

	st := settle(t, b)
	if !reflect.DeepEqual(st.Users, []string{"O", "A"}) {
		t.Errorf("Membership changed: %v", st.Users)
	}
	expectSilent(t, other)
}

func TestLeaveIsIdempotent(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)
	other := connect(t, b)
	join(t, b, other, "O", "O")

	send(t, b, a, `{"type":"leave"}`)
	settle(t, b)
	expectSilent(t, a, other)

	join(t, b, a, "A", "A")
	recv(t, other)

	send(t, b, a, `{"type":"leave"}`)
	ev := recv(t, other)
	if ev.Type != protocol.TypeUserLeft || ev.UserID != "A" {
		t.Errorf("Expected user-left A, got %+v", ev)
	}

	send(t, b, a, `{"type":"leave"}`)
	st := settle(t, b)
	expectSilent(t, a, other)
	if st.UserCount != 1 {
		t.Errorf("Expected 1 member, got %d", st.UserCount)
	}
}

func TestRelayUnknownTarget(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)
	other := connect(t, b)
	join(t, b, a, "A", "A")
	join(t, b, other, "O", "O")
	recv(t, a)

	send(t, b, a, `{"type":"offer","targetUserId":"ghost","payload":{"sdp":"x"}}`)
	msg := recv(t, a)
	if msg.Type != protocol.TypeError || msg.Message != "Target user not found" {
		t.Errorf("Expected Target user not found, got %+v", msg)
	}

	send(t, b, a, `{"type":"answer","payload":{}}`)
	msg = recv(t, a)
	if msg.Message != "Target user ID required" {
		t.Errorf("Expected Target user ID required, got %+v", msg)
	}

	settle(t, b)
	expectSilent(t, other)
}

func TestRelayDirected(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)
	c := connect(t, b)
	d := connect(t, b)
	join(t, b, a, "A", "A")
	join(t, b, c, "C", "C")
	join(t, b, d, "D", "D")
	recv(t, a)
	recv(t, a)
	recv(t, c)

	send(t, b, a, `{"type":"ice-candidate","targetUserId":"C","payload":{"candidate":"c1"},"extra":7}`)
	m := recvRaw(t, c)
	if m["userId"] != "A" {
		t.Errorf("Expected sender id A, got %v", m["userId"])
	}
	if m["extra"] != float64(7) {
		t.Errorf("Expected unknown fields to be forwarded, got %v", m)
	}
	payload, _ := m["payload"].(map[string]any)
	if payload["candidate"] != "c1" {
		t.Errorf("Expected payload forwarded verbatim, got %v", m["payload"])
	}

	settle(t, b)
	expectSilent(t, a, d)
}

func TestRelayBeforeJoinIgnored(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)
	c := connect(t, b)
	join(t, b, c, "C", "C")

	send(t, b, a, `{"type":"offer","targetUserId":"C"}`)
	send(t, b, a, `{"type":"message","text":"hi"}`)
	settle(t, b)
	expectSilent(t, a, c)
}

func TestChatBroadcast(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)
	c := connect(t, b)
	join(t, b, a, "A", "Alice")
	join(t, b, c, "C", "Carol")
	recv(t, a)

	send(t, b, a, `{"type":"message","id":"m1","text":"hello"}`)
	msg := recv(t, c)
	if msg.Type != protocol.TypeMessage || msg.Text != "hello" || msg.UserID != "A" {
		t.Errorf("Unexpected chat message: %+v", msg)
	}
	if info := protocol.DecodeUserInfo("A", msg.UserInfo); info.Name != "Alice" {
		t.Errorf("Expected sender info attached, got %+v", info)
	}

	settle(t, b)
	expectSilent(t, a)
}

func TestFileMessageTooLarge(t *testing.T) {
	opts := testOptions()
	opts.MaxFileData = 10
	b := newBroker(RoomKey("r1"), opts, nil)
	go b.Run()
	t.Cleanup(b.Close)

	a := connect(t, b)
	c := connect(t, b)
	join(t, b, a, "A", "A")
	join(t, b, c, "C", "C")
	recv(t, a)

	send(t, b, a, fmt.Sprintf(`{"type":"file-message","fileName":"f","data":%q}`, strings.Repeat("x", 11)))
	msg := recv(t, a)
	if msg.Type != protocol.TypeError || !strings.HasPrefix(msg.Message, "File too large") {
		t.Errorf("Expected file too large, got %+v", msg)
	}
	settle(t, b)
	expectSilent(t, c)

	send(t, b, a, `{"type":"file-message","fileName":"f","data":"aGk="}`)
	msg = recv(t, c)
	if msg.Type != protocol.TypeFileMessage || msg.Data != "aGk=" {
		t.Errorf("Expected file message, got %+v", msg)
	}
}

func TestSoftErrors(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)

	send(t, b, a, `{not json`)
	if msg := recv(t, a); msg.Message != "Invalid message format" {
		t.Errorf("Expected invalid format, got %+v", msg)
	}

	send(t, b, a, `{"type":"dance"}`)
	if msg := recv(t, a); msg.Message != "Unknown message type" {
		t.Errorf("Expected unknown type, got %+v", msg)
	}

	send(t, b, a, `{"type":"heartbeat"}`)
	if msg := recv(t, a); msg.Type != protocol.TypeHeartbeatAck {
		t.Errorf("Expected heartbeat-ack, got %+v", msg)
	}
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	b := startBroker(t)
	a := connect(t, b)
	c := connect(t, b)
	join(t, b, a, "A", "A")
	join(t, b, c, "C", "C")
	recv(t, a)

	if err := b.submit(event{kind: eventDisconnect, session: c}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	ev := recv(t, a)
	if ev.Type != protocol.TypeUserLeft || ev.UserID != "C" {
		t.Errorf("Expected user-left C, got %+v", ev)
	}
	if _, ok := <-c.send; ok {
		t.Error("Expected disconnected session queue to be closed")
	}
}

func TestBrokerStopsWhenEmpty(t *testing.T) {
	emptied := make(chan *Broker, 1)
	b := newBroker(RoomKey("r1"), testOptions(), func(b *Broker) { emptied <- b })
	go b.Run()

	s := connect(t, b)
	if err := b.submit(event{kind: eventDisconnect, session: s}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case got := <-emptied:
		if got != b {
			t.Error("onEmpty called with wrong broker")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected onEmpty")
	}
	<-b.Done()

	if err := b.Connect(newSession(nil, 1), "r1"); err != ErrBrokerClosed {
		t.Errorf("Expected ErrBrokerClosed, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := map[error]Kind{
		ErrInvalidMessage: KindProtocol,
		ErrUnknownType:    KindProtocol,
		ErrAlreadyJoined:  KindState,
		ErrFileTooLarge:   KindCapacity,
		ErrTargetNotFound: KindTarget,
		nil:               KindNone,
	}
	for err, want := range cases {
		if got := Classify(err); got != want {
			t.Errorf("Classify(%v) = %v, want %v", err, got, want)
		}
	}
	if ReplyText(ErrNotJoined) != "" {
		t.Error("Expected ErrNotJoined to have no wire text")
	}
}
