package broker

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wsxxll/webchat/internal/protocol"
)

// Options tunes sessions and brokers created by a Registry.
type Options struct {
	// ReadLimit is the largest inbound frame accepted from a client.
	ReadLimit int64
	// SendQueue is the per-session outbound queue length.
	SendQueue int
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait time.Duration
	// MaxFileData bounds the encoded data field of a file-message.
	MaxFileData int

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		ReadLimit:   8 * 1024 * 1024,
		SendQueue:   256,
		PongWait:    60 * time.Second,
		MaxFileData: protocol.MaxRelayFileSize * 137 / 100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.SendQueue <= 0 {
		o.SendQueue = d.SendQueue
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.MaxFileData <= 0 {
		o.MaxFileData = d.MaxFileData
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Send pings with this period. Must be less than PongWait.
func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
	eventStats
	eventShutdown
)

type event struct {
	kind    eventKind
	session *Session
	roomID  string
	data    []byte
	stats   chan<- Stats
}

// Stats is a snapshot of one room.
type Stats struct {
	RoomID       string    `json:"roomId"`
	UserCount    int       `json:"userCount"`
	Users        []string  `json:"users"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Broker owns the sessions and roster of one room. All state is confined
// to the goroutine running Run, which handles one event at a time.
type Broker struct {
	key    string
	roomID string

	sessions map[string]*Session
	members  map[string]*Session // by user id
	order    []string            // user ids in join order

	createdAt      time.Time
	lastActivityAt time.Time

	events  chan event
	done    chan struct{}
	onEmpty func(*Broker)

	opts   Options
	logger *slog.Logger
}

func newBroker(key string, opts Options, onEmpty func(*Broker)) *Broker {
	now := opts.Now()
	return &Broker{
		key:            key,
		sessions:       make(map[string]*Session),
		members:        make(map[string]*Session),
		createdAt:      now,
		lastActivityAt: now,
		events:         make(chan event),
		done:           make(chan struct{}),
		onEmpty:        onEmpty,
		opts:           opts,
		logger:         opts.Logger.With("room", shortKey(key)),
	}
}

// Done is closed once the broker has stopped.
func (b *Broker) Done() <-chan struct{} { return b.done }

// submit delivers ev to the broker goroutine, failing once it has stopped.
func (b *Broker) submit(ev event) error {
	select {
	case b.events <- ev:
		return nil
	case <-b.done:
		return ErrBrokerClosed
	}
}

// Connect adds s to the room and acknowledges it.
func (b *Broker) Connect(s *Session, roomID string) error {
	return b.submit(event{kind: eventConnect, session: s, roomID: roomID})
}

// Stats returns a snapshot taken on the broker goroutine.
func (b *Broker) Stats() (Stats, error) {
	ch := make(chan Stats, 1)
	if err := b.submit(event{kind: eventStats, stats: ch}); err != nil {
		return Stats{}, err
	}
	return <-ch, nil
}

// Close disconnects every session and stops the broker.
func (b *Broker) Close() {
	_ = b.submit(event{kind: eventShutdown})
	<-b.done
}

// Run processes events until the last session is gone.
func (b *Broker) Run() {
	defer close(b.done)

	for ev := range b.events {
		switch ev.kind {
		case eventConnect:
			b.handleConnect(ev.session, ev.roomID)
		case eventMessage:
			b.handleMessage(ev.session, ev.data)
		case eventDisconnect:
			b.handleDisconnect(ev.session)
		case eventStats:
			ev.stats <- b.snapshot()
		case eventShutdown:
			for _, s := range b.sessions {
				s.close()
			}
			b.sessions = map[string]*Session{}
		}

		if (ev.kind == eventDisconnect || ev.kind == eventShutdown) && len(b.sessions) == 0 {
			if b.onEmpty != nil {
				b.onEmpty(b)
			}
			b.logger.Info("room closed")
			return
		}
	}
}

func (b *Broker) handleConnect(s *Session, roomID string) {
	if b.roomID == "" {
		b.roomID = roomID
	}
	b.sessions[s.id] = s
	b.touch()
	b.logger.Info("session connected", "session", s.id, "sessions", len(b.sessions))

	b.reply(s, &protocol.Message{
		Type:      protocol.TypeConnected,
		SessionID: s.id,
		RoomID:    b.roomID,
	})
}

// inbound holds the fields the broker inspects. Relayed messages are
// forwarded from the raw frame, not from this struct.
type inbound struct {
	Type         string          `json:"type"`
	UserID       string          `json:"userId"`
	UserInfo     json.RawMessage `json:"userInfo"`
	TargetUserID string          `json:"targetUserId"`
	Data         string          `json:"data"`
}

func (b *Broker) handleMessage(s *Session, data []byte) {
	if _, ok := b.sessions[s.id]; !ok {
		return
	}
	b.touch()

	var in inbound
	err := json.Unmarshal(data, &in)
	if err != nil {
		err = ErrInvalidMessage
	} else {
		err = b.dispatch(s, &in, data)
	}
	if err == nil {
		return
	}

	b.logger.Debug("message rejected", "session", s.id, "type", in.Type, "kind", Classify(err), "error", err)
	if text := ReplyText(err); text != "" {
		b.reply(s, &protocol.Message{Type: protocol.TypeError, Message: text})
	}
}

func (b *Broker) dispatch(s *Session, in *inbound, raw []byte) error {
	switch in.Type {
	case protocol.TypeJoin:
		return b.join(s, in.UserID, in.UserInfo)
	case protocol.TypeLeave:
		b.leave(s)
		return nil
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		return b.relay(s, in.TargetUserID, raw)
	case protocol.TypeMessage:
		return b.broadcastFrom(s, raw)
	case protocol.TypeFileMessage:
		if s.joined && len(in.Data) > b.opts.MaxFileData {
			return ErrFileTooLarge
		}
		return b.broadcastFrom(s, raw)
	case protocol.TypeHeartbeat:
		s.lastHeartbeatAt = b.opts.Now()
		b.reply(s, &protocol.Message{Type: protocol.TypeHeartbeatAck, Timestamp: s.lastHeartbeatAt.UnixMilli()})
		return nil
	default:
		return ErrUnknownType
	}
}

func (b *Broker) join(s *Session, userID string, info json.RawMessage) error {
	if s.joined {
		return ErrAlreadyJoined
	}
	if userID == "" {
		userID = uuid.NewString()
	}
	if len(info) == 0 || string(info) == "null" {
		info = protocol.UserInfo{ID: userID}.Encode()
	}

	// A reconnecting client may reuse its id before the old connection is gone.
	if prev, ok := b.members[userID]; ok {
		b.logger.Info("user id rebound to new session", "user", userID, "old", prev.id, "new", s.id)
		b.removeMember(prev)
	}

	s.userID = userID
	s.userInfo = info
	s.joined = true
	b.members[userID] = s
	b.order = append(b.order, userID)

	b.broadcast(s, &protocol.Message{
		Type:     protocol.TypeUserJoined,
		UserID:   userID,
		UserInfo: info,
	})

	users := make([]string, 0, len(b.order))
	usersInfo := make(map[string]json.RawMessage, len(b.order))
	users = append(users, userID)
	for _, id := range b.order {
		if id != userID {
			users = append(users, id)
		}
		usersInfo[id] = b.members[id].userInfo
	}

	b.reply(s, &protocol.Message{
		Type:      protocol.TypeJoined,
		RoomID:    b.roomID,
		UserID:    userID,
		UserInfo:  info,
		Users:     users,
		UsersInfo: usersInfo,
	})
	b.logger.Info("user joined", "user", userID, "members", len(b.members))
	return nil
}

func (b *Broker) leave(s *Session) {
	if !s.joined {
		return
	}
	userID := s.userID
	b.removeMember(s)
	b.broadcast(nil, &protocol.Message{Type: protocol.TypeUserLeft, UserID: userID})
	b.logger.Info("user left", "user", userID, "members", len(b.members))
}

func (b *Broker) removeMember(s *Session) {
	delete(b.members, s.userID)
	for i, id := range b.order {
		if id == s.userID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	s.joined = false
	s.userID = ""
	s.userInfo = nil
}

// relay forwards a negotiation frame to exactly one member.
func (b *Broker) relay(s *Session, targetID string, raw []byte) error {
	if !s.joined {
		return nil
	}
	if targetID == "" {
		return ErrTargetRequired
	}
	target, ok := b.members[targetID]
	if !ok {
		return ErrTargetNotFound
	}

	data, err := stamp(raw, s, false)
	if err != nil {
		return ErrInvalidMessage
	}
	if !target.enqueue(data) {
		b.logger.Warn("relay dropped", "from", s.userID, "to", targetID)
	}
	return nil
}

// broadcastFrom fans a chat or file frame out to the other members.
func (b *Broker) broadcastFrom(s *Session, raw []byte) error {
	if !s.joined {
		return nil
	}
	data, err := stamp(raw, s, true)
	if err != nil {
		return ErrInvalidMessage
	}
	b.fanOut(s, data)
	return nil
}

// stamp rewrites raw with the sender's identity, leaving other fields as sent.
func stamp(raw []byte, s *Session, withInfo bool) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	id, _ := json.Marshal(s.userID)
	fields["userId"] = id
	if withInfo {
		fields["userInfo"] = s.userInfo
	}
	return json.Marshal(fields)
}

func (b *Broker) handleDisconnect(s *Session) {
	if _, ok := b.sessions[s.id]; !ok {
		return
	}
	b.leave(s)
	delete(b.sessions, s.id)
	s.close()
	b.touch()
	b.logger.Info("session disconnected", "session", s.id, "sessions", len(b.sessions))
}

func (b *Broker) reply(s *Session, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		b.logger.Error("encode failed", "type", msg.Type, "error", err)
		return
	}
	if !s.enqueue(data) {
		b.logger.Warn("send dropped", "session", s.id, "type", msg.Type)
	}
}

// broadcast sends msg to every joined session except skip.
func (b *Broker) broadcast(skip *Session, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		b.logger.Error("encode failed", "type", msg.Type, "error", err)
		return
	}
	b.fanOut(skip, data)
}

func (b *Broker) fanOut(skip *Session, data []byte) {
	for _, id := range b.order {
		s := b.members[id]
		if s == skip {
			continue
		}
		if !s.enqueue(data) {
			b.logger.Warn("send dropped", "session", s.id, "user", id)
		}
	}
}

func (b *Broker) snapshot() Stats {
	return Stats{
		RoomID:       b.roomID,
		UserCount:    len(b.members),
		Users:        append([]string{}, b.order...),
		CreatedAt:    b.createdAt,
		LastActivity: b.lastActivityAt,
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func (b *Broker) touch() {
	b.lastActivityAt = b.opts.Now()
}
