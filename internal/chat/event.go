package chat

import (
	"time"

	"github.com/wsxxll/webchat/internal/protocol"
	"github.com/wsxxll/webchat/internal/transfer"
)

type EventKind int

const (
	EventJoined EventKind = iota
	EventUserJoined
	EventUserLeft
	EventChat
	EventLinkUp
	EventLinkDown
	EventTransfer
	EventFileSaved
	EventNotice
	EventError
	EventDisconnected
	EventReconnected
	EventLeft
)

func (k EventKind) String() string {
	return [...]string{
		"joined", "user-joined", "user-left", "chat", "link-up", "link-down",
		"transfer", "file-saved", "notice", "error", "disconnected",
		"reconnected", "left",
	}[k]
}

// ChatMessage is a text message as shown to the user.
type ChatMessage struct {
	ID     string
	From   protocol.UserInfo
	Text   string
	At     time.Time
	Own    bool
	Direct bool
}

// Event is delivered to the UI. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Room     string
	User     protocol.UserInfo
	Users    []protocol.UserInfo
	Chat     ChatMessage
	Transfer transfer.Event
	Path     string
	Text     string
	Err      error
}
