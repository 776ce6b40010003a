package chat

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wsxxll/webchat/internal/peerlink"
	"github.com/wsxxll/webchat/internal/protocol"
	"github.com/wsxxll/webchat/internal/transfer"
	"github.com/wsxxll/webchat/internal/utils"
)

func (c *Client) handleBroker(m *protocol.Message) {
	switch m.Type {
	case protocol.TypeConnected:
		c.logger.Debug("connected to broker", "session", m.SessionID)
	case protocol.TypeJoined:
		c.onJoined(m)
	case protocol.TypeUserJoined:
		c.onUserJoined(m)
	case protocol.TypeUserLeft:
		c.onUserLeft(m.UserID)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		c.onSignal(m)
	case protocol.TypeMessage:
		c.receiveChat(m, false)
	case protocol.TypeFileMessage:
		c.receiveFile(m)
	case protocol.TypeHeartbeatAck:
		c.logger.Debug("heartbeat acknowledged")
	case protocol.TypeError:
		c.emit(Event{Kind: EventError, Err: fmt.Errorf("broker: %s", m.Message)})
	default:
		c.logger.Debug("ignoring broker message", "type", m.Type)
	}
}

func (c *Client) onJoined(m *protocol.Message) {
	c.mu.Lock()
	if m.UserID != "" {
		c.self.ID = m.UserID
	}
	c.joined = true
	c.roster.Reset(c.self.ID, m.Users, m.UsersInfo)
	self := c.self
	room := c.room
	users := c.roster.Users()
	c.mu.Unlock()

	if c.neg != nil {
		c.neg.SetLocalID(self.ID)
	}
	c.logger.Info("joined room", "room", room, "user", self.ID, "members", len(users)+1)
	c.emit(Event{Kind: EventJoined, Room: room, User: self, Users: users})
	for _, u := range users {
		c.connect(u.ID)
	}
}

func (c *Client) onUserJoined(m *protocol.Message) {
	u := protocol.DecodeUserInfo(m.UserID, m.UserInfo)
	c.mu.Lock()
	if u.ID == c.self.ID {
		c.mu.Unlock()
		return
	}
	fresh := c.roster.Add(u)
	c.mu.Unlock()

	// A known id joining again is a reconnect; its old link is gone.
	if !fresh {
		c.dropPeer(u.ID)
	}
	c.emit(Event{Kind: EventUserJoined, User: u})
	c.connect(u.ID)
}

func (c *Client) onUserLeft(id string) {
	c.mu.Lock()
	u, ok := c.roster.Remove(id)
	c.mu.Unlock()

	c.dropPeer(id)
	if ok {
		c.emit(Event{Kind: EventUserLeft, User: u})
	}
}

func (c *Client) connect(peerID string) {
	if c.neg == nil {
		return
	}
	if err := c.neg.Connect(peerID); err != nil {
		c.logger.Warn("direct link not started", "peer", peerID, "error", err)
	}
}

// dropPeer closes the link to peerID and fails its transfers.
func (c *Client) dropPeer(peerID string) {
	c.mu.Lock()
	eng := c.engines[peerID]
	delete(c.engines, peerID)
	c.mu.Unlock()

	if c.neg != nil {
		c.neg.Close(peerID)
	}
	if eng != nil {
		eng.Close()
	}
}

func (c *Client) onSignal(m *protocol.Message) {
	if c.neg == nil {
		return
	}
	var err error
	switch m.Type {
	case protocol.TypeOffer, protocol.TypeAnswer:
		var d peerlink.Description
		if err = json.Unmarshal(m.Payload, &d); err != nil {
			break
		}
		if m.Type == protocol.TypeOffer {
			err = c.neg.HandleOffer(m.UserID, d)
		} else {
			err = c.neg.HandleAnswer(m.UserID, d)
		}
	case protocol.TypeICECandidate:
		var cand peerlink.Candidate
		if err = json.Unmarshal(m.Payload, &cand); err != nil {
			break
		}
		err = c.neg.HandleCandidate(m.UserID, cand)
	}
	if err != nil {
		c.logger.Warn("negotiation message dropped", "type", m.Type, "peer", m.UserID, "error", err)
	}
}

func (c *Client) handleLink(ev peerlink.Event) {
	switch ev.Kind {
	case peerlink.EventLinked:
		c.mu.Lock()
		u, known := c.roster.Get(ev.PeerID)
		if !known {
			c.mu.Unlock()
			c.neg.Close(ev.PeerID)
			return
		}
		old := c.engines[ev.PeerID]
		peer := ev.PeerID
		eng := transfer.NewEngine(ev.Channel, transfer.Options{
			Codec:  transfer.SelectCodec(c.self.Client, u.Client),
			Pacing: c.opts.Pacing,
			Logger: c.opts.Logger.With("peer", peer),
			Now:    c.opts.Now,
			Notify: func(te transfer.Event) { c.onTransfer(peer, te) },
		})
		c.engines[peer] = eng
		c.mu.Unlock()

		if old != nil {
			old.Close()
		}
		c.logger.Info("direct link ready", "peer", peer, "codec", eng.Codec().Name())
		c.emit(Event{Kind: EventLinkUp, User: u})

	case peerlink.EventMessage:
		c.handleDirect(ev.PeerID, ev.Data, ev.Text)

	case peerlink.EventFailed:
		c.mu.Lock()
		eng := c.engines[ev.PeerID]
		delete(c.engines, ev.PeerID)
		u, known := c.roster.Get(ev.PeerID)
		c.mu.Unlock()

		if eng != nil {
			eng.Close()
		}
		if known {
			c.emit(Event{Kind: EventLinkDown, User: u, Err: ev.Err})
		}
	}
}

// handleDirect routes a data channel message to chat or to the transfer
// engine of that link. Binary messages are always transfer frames.
func (c *Client) handleDirect(peerID string, data []byte, text bool) {
	typ := transfer.PeekType(data)
	if text && typ == protocol.TypeMessage {
		m, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed direct message", "peer", peerID, "error", err)
			return
		}
		m.UserID = peerID
		c.receiveChat(m, true)
		return
	}
	if text && !transfer.IsTransferType(typ) {
		c.logger.Warn("dropping unknown direct message", "peer", peerID, "type", typ)
		return
	}

	c.mu.Lock()
	eng := c.engines[peerID]
	c.mu.Unlock()
	if eng == nil {
		c.logger.Warn("dropping frame without engine", "peer", peerID)
		return
	}
	eng.Handle(data, text)
}

func (c *Client) receiveChat(m *protocol.Message, direct bool) {
	c.mu.Lock()
	if !c.seen.add(m.ID) || m.UserID == c.self.ID {
		c.mu.Unlock()
		return
	}
	from, ok := c.roster.Get(m.UserID)
	c.mu.Unlock()
	if !ok {
		from = protocol.DecodeUserInfo(m.UserID, m.UserInfo)
	}

	at := c.opts.Now()
	if m.Timestamp > 0 {
		at = time.UnixMilli(m.Timestamp)
	}
	c.emit(Event{Kind: EventChat, User: from, Chat: ChatMessage{
		ID:     m.ID,
		From:   from,
		Text:   m.Text,
		At:     at,
		Direct: direct,
	}})
}

func (c *Client) receiveFile(m *protocol.Message) {
	c.mu.Lock()
	from, ok := c.roster.Get(m.UserID)
	c.mu.Unlock()
	if !ok {
		from = protocol.DecodeUserInfo(m.UserID, m.UserInfo)
	}

	data, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil || int64(len(data)) != m.FileSize {
		c.logger.Warn("dropping corrupt relayed file", "file", m.FileName, "from", m.UserID, "error", err)
		c.emit(Event{Kind: EventError, User: from, Err: fmt.Errorf("relayed file %q from %s was corrupt", m.FileName, from.Name)})
		return
	}

	path, err := utils.SaveFile(c.opts.DownloadDir, m.FileName, data)
	if err != nil {
		c.emit(Event{Kind: EventError, User: from, Err: err})
		return
	}
	c.logger.Info("relayed file saved", "file", m.FileName, "path", path, "from", m.UserID)
	c.emit(Event{Kind: EventFileSaved, User: from, Path: path})
}
