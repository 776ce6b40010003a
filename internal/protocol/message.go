package protocol

import "encoding/json"

// Message types exchanged with the room broker.
const (
	TypeConnected    = "connected"
	TypeJoin         = "join"
	TypeJoined       = "joined"
	TypeUserJoined   = "user-joined"
	TypeLeave        = "leave"
	TypeUserLeft     = "user-left"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeMessage      = "message"
	TypeFileMessage  = "file-message"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat-ack"
	TypeError        = "error"
)

// Client kinds advertised in UserInfo.Client.
const (
	ClientCLI = "cli"
	ClientWeb = "web"
)

// MaxRelayFileSize is the largest file accepted on the relay path before encoding.
const MaxRelayFileSize = 5 * 1024 * 1024

// Message is the JSON envelope used on the broker connection. Only the
// fields relevant to Type are populated.
type Message struct {
	Type string `json:"type"`

	SessionID string `json:"sessionId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`

	UserID    string                     `json:"userId,omitempty"`
	UserInfo  json.RawMessage            `json:"userInfo,omitempty"`
	Users     []string                   `json:"users,omitempty"`
	UsersInfo map[string]json.RawMessage `json:"usersInfo,omitempty"`

	// Directed relay (offer, answer, ice-candidate).
	TargetUserID string          `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`

	// Chat text.
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Relay-path file, base64 encoded in Data.
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	Data     string `json:"data,omitempty"`

	// Error text.
	Message string `json:"message,omitempty"`
}

// UserInfo is the participant profile. The broker treats it as opaque.
type UserInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color,omitempty"`
	Client string `json:"client,omitempty"`
}

// Encode returns the JSON form of u for use in Message.UserInfo.
func (u UserInfo) Encode() json.RawMessage {
	b, _ := json.Marshal(u)
	return b
}

// DecodeUserInfo parses raw, falling back to a profile carrying only id.
func DecodeUserInfo(id string, raw json.RawMessage) UserInfo {
	var u UserInfo
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &u)
	}
	if u.ID == "" {
		u.ID = id
	}
	if u.Name == "" {
		u.Name = u.ID
	}
	return u
}

// Encode marshals m into a text frame.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a text frame.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
