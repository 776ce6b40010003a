// Package chat is the room client: it joins a room through the broker,
// keeps the roster, links directly to peers where it can and falls back to
// the broker relay where it cannot.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wsxxll/webchat/internal/config"
	"github.com/wsxxll/webchat/internal/peerlink"
	"github.com/wsxxll/webchat/internal/protocol"
	"github.com/wsxxll/webchat/internal/signaling"
	"github.com/wsxxll/webchat/internal/transfer"
)

var (
	ErrNotJoined        = errors.New("not in a room")
	ErrSwitchNotAllowed = errors.New("room switching is disabled")
	ErrNoPeers          = errors.New("no one else is in the room")
	ErrClosed           = errors.New("chat client stopped")
	ErrBusy             = errors.New("client busy, try again")
)

var palette = []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F"}

// Conn is a broker connection for one room.
type Conn interface {
	Send(m *protocol.Message) error
	Incoming() <-chan *protocol.Message
	Close()
}

// Dialer opens a broker connection for room.
type Dialer func(ctx context.Context, room string) (Conn, error)

// SignalingDialer dials the broker named in cfg, retrying per opts.
func SignalingDialer(cfg *config.Config, opts signaling.Options) Dialer {
	return func(ctx context.Context, room string) (Conn, error) {
		c, err := signaling.DialRetry(ctx, cfg.RoomURL(room), opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

type Options struct {
	Name   string
	Policy Policy
	Dial   Dialer
	// Links builds direct peer links. When nil every exchange uses the relay.
	Links       peerlink.Factory
	DownloadDir string
	AutoAccept  bool
	Pacing      transfer.Pacing
	Logger      *slog.Logger
	Now         func() time.Time
}

// Client is a room participant. Run drives it; the other methods may be
// called from any goroutine.
type Client struct {
	opts    Options
	logger  *slog.Logger
	events  chan Event
	control chan func(context.Context) error
	done    chan struct{}
	neg     *peerlink.Negotiator

	mu      sync.Mutex
	self    protocol.UserInfo
	room    string
	conn    Conn
	joined  bool
	roster  *Roster
	engines map[string]*transfer.Engine
	sources map[string]*sharedFile
	seen    *seenSet
}

func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == nil {
		opts.Policy = AutoPolicy{}
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "."
	}

	id := uuid.NewString()
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = nickname(id)
	}
	c := &Client{
		opts:    opts,
		logger:  opts.Logger.With("component", "chat"),
		events:  make(chan Event, 1024),
		control: make(chan func(context.Context) error, 8),
		done:    make(chan struct{}),
		self: protocol.UserInfo{
			ID:     id,
			Name:   name,
			Color:  colorFor(id),
			Client: protocol.ClientCLI,
		},
		roster:  NewRoster(),
		engines: make(map[string]*transfer.Engine),
		sources: make(map[string]*sharedFile),
		seen:    newSeenSet(512),
	}
	if opts.Links != nil {
		c.neg = peerlink.NewNegotiator(opts.Links, c, opts.Logger)
	}
	return c
}

func colorFor(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Events delivers UI events. Events are dropped when the UI falls behind.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Self() protocol.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) Peers() []protocol.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster.Users()
}

// Linked reports whether a direct link to peerID is open.
func (c *Client) Linked(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.engines[peerID]
	return ok
}

func (c *Client) CanSwitch() bool { return c.opts.Policy.CanSwitch() }

// Run joins the policy's room and processes broker and link traffic until
// ctx ends or the broker cannot be reached again.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()

	if err := c.enter(ctx, c.opts.Policy.Room()); err != nil {
		return err
	}

	var linkEvents <-chan peerlink.Event
	if c.neg != nil {
		linkEvents = c.neg.Events()
	}
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		var incoming <-chan *protocol.Message
		if conn != nil {
			incoming = conn.Incoming()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-c.control:
			if err := fn(ctx); err != nil {
				c.emit(Event{Kind: EventError, Err: err})
			}

		case m, ok := <-incoming:
			if !ok {
				if err := c.reconnect(ctx); err != nil {
					return err
				}
				continue
			}
			c.handleBroker(m)

		case ev := <-linkEvents:
			c.handleLink(ev)
		}
	}
}

// Join leaves the current room and joins room.
func (c *Client) Join(room string) error {
	if !c.opts.Policy.CanSwitch() {
		return ErrSwitchNotAllowed
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return fmt.Errorf("join: room name required")
	}
	return c.post(func(ctx context.Context) error {
		c.exit(true)
		return c.enter(ctx, room)
	})
}

// Leave leaves the current room without joining another.
func (c *Client) Leave() error {
	if !c.opts.Policy.CanSwitch() {
		return ErrSwitchNotAllowed
	}
	return c.post(func(context.Context) error {
		room := c.Room()
		if room == "" {
			return ErrNotJoined
		}
		c.exit(true)
		c.emit(Event{Kind: EventLeft, Room: room})
		return nil
	})
}

func (c *Client) post(fn func(context.Context) error) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.control <- fn:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBusy
	}
}

func (c *Client) enter(ctx context.Context, room string) error {
	conn, err := c.opts.Dial(ctx, room)
	if err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.room = room
	c.joined = false
	join := &protocol.Message{
		Type:     protocol.TypeJoin,
		UserID:   c.self.ID,
		UserInfo: c.self.Encode(),
	}
	c.mu.Unlock()

	c.logger.Info("joining room", "room", room, "user", join.UserID)
	if err := conn.Send(join); err != nil {
		c.exit(false)
		return fmt.Errorf("join %s: %w", room, err)
	}
	return nil
}

// exit drops the room connection and every link.
func (c *Client) exit(sendLeave bool) {
	c.mu.Lock()
	conn := c.conn
	joined := c.joined
	c.conn = nil
	c.room = ""
	c.joined = false
	c.roster = NewRoster()
	engines := c.engines
	c.engines = make(map[string]*transfer.Engine)
	c.mu.Unlock()

	if conn != nil {
		if sendLeave && joined {
			if err := conn.Send(&protocol.Message{Type: protocol.TypeLeave}); err != nil {
				c.logger.Debug("leave not sent", "error", err)
			}
		}
		conn.Close()
	}
	if c.neg != nil {
		c.neg.CloseAll()
	}
	for _, eng := range engines {
		eng.Close()
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	room := c.Room()
	c.logger.Warn("broker connection lost", "room", room)
	c.emit(Event{Kind: EventDisconnected, Room: room})
	c.exit(false)

	if err := c.enter(ctx, room); err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		return err
	}
	c.emit(Event{Kind: EventReconnected, Room: room})
	return nil
}

func (c *Client) shutdown() {
	c.exit(true)
	if c.neg != nil {
		c.neg.Shutdown()
	}
	close(c.done)
}

// Relay sends a negotiation message to one peer through the broker.
func (c *Client) Relay(msgType, target string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotJoined
	}
	return conn.Send(&protocol.Message{Type: msgType, TargetUserID: target, Payload: raw})
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("ui event dropped", "kind", ev.Kind.String())
	}
}
