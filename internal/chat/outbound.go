package chat

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wsxxll/webchat/internal/files"
	"github.com/wsxxll/webchat/internal/peerlink"
	"github.com/wsxxll/webchat/internal/protocol"
	"github.com/wsxxll/webchat/internal/transfer"
	"github.com/wsxxll/webchat/internal/utils"
)

// SendText sends a chat message to the room. It goes over the direct links
// when every member is linked and through the broker otherwise.
func (c *Client) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	self := c.self
	m := &protocol.Message{
		Type:      protocol.TypeMessage,
		ID:        uuid.NewString(),
		Text:      text,
		UserID:    self.ID,
		UserInfo:  self.Encode(),
		Timestamp: c.opts.Now().UnixMilli(),
	}
	c.seen.add(m.ID)
	peers := c.roster.IDs()
	conn := c.conn
	c.mu.Unlock()

	direct := c.sendDirect(peers, m)
	if !direct {
		if err := conn.Send(m); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	c.emit(Event{Kind: EventChat, User: self, Chat: ChatMessage{
		ID:     m.ID,
		From:   self,
		Text:   text,
		At:     c.opts.Now(),
		Own:    true,
		Direct: direct,
	}})
	return nil
}

// sendDirect writes m to every peer's link. It reports false when any peer
// lacks a link or a write fails; receivers drop repeats by id.
func (c *Client) sendDirect(peers []string, m *protocol.Message) bool {
	if c.neg == nil || len(peers) == 0 {
		return false
	}
	chans := make([]peerlink.Channel, 0, len(peers))
	for _, p := range peers {
		ch, ok := c.neg.Channel(p)
		if !ok {
			return false
		}
		chans = append(chans, ch)
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return false
	}
	for i, ch := range chans {
		if err := ch.SendText(string(data)); err != nil {
			c.logger.Warn("direct send failed, using relay", "peer", peers[i], "error", err)
			return false
		}
	}
	return true
}

// sharedFile closes the underlying file after its last transfer ends.
type sharedFile struct {
	mu   sync.Mutex
	f    *os.File
	refs int
}

func (s *sharedFile) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		s.f.Close()
	}
}

// SendFile offers the file at path to every member over direct links, or
// sends it once through the relay when some member is not linked. Files
// over the relay limit require direct links.
func (c *Client) SendFile(path string) error {
	f, info, err := files.Open(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		f.Close()
		return ErrNotJoined
	}
	peers := c.roster.IDs()
	engines := make([]*transfer.Engine, 0, len(peers))
	for _, p := range peers {
		if eng, ok := c.engines[p]; ok {
			engines = append(engines, eng)
		}
	}
	self := c.self
	conn := c.conn
	c.mu.Unlock()

	if len(peers) == 0 {
		f.Close()
		return ErrNoPeers
	}
	if len(engines) == len(peers) {
		return c.offer(f, info, engines)
	}

	defer f.Close()
	if info.Size > protocol.MaxRelayFileSize {
		return fmt.Errorf("%s is %s and not every member is linked directly: %w",
			info.Name, utils.FormatSize(info.Size), peerlink.ErrNoLink)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", info.Name, err)
	}
	err = conn.Send(&protocol.Message{
		Type:      protocol.TypeFileMessage,
		ID:        uuid.NewString(),
		UserID:    self.ID,
		UserInfo:  self.Encode(),
		FileName:  info.Name,
		FileType:  info.Type,
		FileSize:  int64(len(data)),
		Data:      base64.StdEncoding.EncodeToString(data),
		Timestamp: c.opts.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", info.Name, err)
	}
	c.emit(Event{Kind: EventNotice, Text: fmt.Sprintf("sent %s (%s) via relay", info.Name, utils.FormatSize(info.Size))})
	return nil
}

func (c *Client) offer(f *os.File, info files.FileInfo, engines []*transfer.Engine) error {
	shared := &sharedFile{f: f, refs: 1}
	src := transfer.Source{Name: info.Name, Mime: info.Type, Size: info.Size, Reader: f}

	var firstErr error
	for _, eng := range engines {
		shared.mu.Lock()
		shared.refs++
		shared.mu.Unlock()

		// Registered before the offer goes out so an early reject finds it.
		src.ID = uuid.NewString()
		c.mu.Lock()
		c.sources[src.ID] = shared
		c.mu.Unlock()

		if _, err := eng.Offer(src); err != nil {
			c.releaseSource(src.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	shared.release()
	return firstErr
}

func (c *Client) releaseSource(fileID string) {
	c.mu.Lock()
	s, ok := c.sources[fileID]
	delete(c.sources, fileID)
	c.mu.Unlock()
	if ok {
		s.release()
	}
}

func (c *Client) engine(peerID string) (*transfer.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eng, ok := c.engines[peerID]
	if !ok {
		return nil, peerlink.ErrNoLink
	}
	return eng, nil
}

// Accept accepts a file offered by peerID.
func (c *Client) Accept(peerID, fileID string) error {
	eng, err := c.engine(peerID)
	if err != nil {
		return err
	}
	return eng.Accept(fileID)
}

func (c *Client) Reject(peerID, fileID string) error {
	eng, err := c.engine(peerID)
	if err != nil {
		return err
	}
	return eng.Reject(fileID)
}

// Cancel stops a transfer with peerID in either direction.
func (c *Client) Cancel(peerID, fileID string) error {
	eng, err := c.engine(peerID)
	if err != nil {
		return err
	}
	eng.Cancel(fileID)
	return nil
}

func (c *Client) onTransfer(peerID string, te transfer.Event) {
	c.mu.Lock()
	u, ok := c.roster.Get(peerID)
	c.mu.Unlock()
	if !ok {
		u = protocol.UserInfo{ID: peerID, Name: peerID}
	}

	terminal := te.Kind == transfer.EventCompleted || te.Kind == transfer.EventRejected ||
		te.Kind == transfer.EventCancelled || te.Kind == transfer.EventFailed

	if te.Direction == transfer.Outgoing {
		if terminal {
			c.releaseSource(te.FileID)
		}
		c.emit(Event{Kind: EventTransfer, User: u, Transfer: te})
		return
	}

	switch te.Kind {
	case transfer.EventOffered:
		c.emit(Event{Kind: EventTransfer, User: u, Transfer: te})
		if c.opts.AutoAccept {
			if err := c.Accept(peerID, te.FileID); err != nil {
				c.emit(Event{Kind: EventError, User: u, Err: err})
			}
		}
	case transfer.EventCompleted:
		data := te.Data
		te.Data = nil
		c.emit(Event{Kind: EventTransfer, User: u, Transfer: te})
		path, err := utils.SaveFile(c.opts.DownloadDir, te.Name, data)
		if err != nil {
			c.emit(Event{Kind: EventError, User: u, Err: err})
			return
		}
		c.emit(Event{Kind: EventFileSaved, User: u, Path: path})
	default:
		c.emit(Event{Kind: EventTransfer, User: u, Transfer: te})
	}
}
