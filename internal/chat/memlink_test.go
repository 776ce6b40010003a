package chat

import (
	"fmt"
	"sync"

	"github.com/wsxxll/webchat/internal/peerlink"
)

// memNet pairs in-process transports through their offer tokens.
type memNet struct {
	mu      sync.Mutex
	next    int
	offers  map[string]*memTransport
	answers map[string]*memTransport
}

func newMemNet() *memNet {
	return &memNet{offers: map[string]*memTransport{}, answers: map[string]*memTransport{}}
}

func (n *memNet) NewTransport(h peerlink.Handlers) (peerlink.Transport, error) {
	return &memTransport{net: n, h: h}, nil
}

type memTransport struct {
	net    *memNet
	h      peerlink.Handlers
	token  string
	local  *memChannel
	remote *memTransport
}

func (t *memTransport) CreateChannel(label string) (peerlink.Channel, error) {
	t.local = newMemChannel(label)
	return t.local, nil
}

func (t *memTransport) CreateOffer() (peerlink.Description, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.next++
	t.token = fmt.Sprintf("offer-%d", t.net.next)
	t.net.offers[t.token] = t
	return peerlink.Description{Type: "offer", SDP: t.token}, nil
}

func (t *memTransport) CreateAnswer() (peerlink.Description, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.answers[t.remote.token] = t
	return peerlink.Description{Type: "answer", SDP: t.remote.token}, nil
}

func (t *memTransport) SetRemoteDescription(d peerlink.Description) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	switch d.Type {
	case "offer":
		t.remote = t.net.offers[d.SDP]
		if t.remote == nil {
			return fmt.Errorf("unknown offer %s", d.SDP)
		}
	case "answer":
		answerer := t.net.answers[d.SDP]
		if answerer == nil {
			return fmt.Errorf("unknown answer %s", d.SDP)
		}
		a := t.local
		b := newMemChannel(a.label)
		a.peer, b.peer = b, a
		answerer.local = b
		go func() {
			answerer.h.OnChannel(b)
			a.open()
			b.open()
		}()
	}
	return nil
}

func (t *memTransport) AddCandidate(peerlink.Candidate) error { return nil }

func (t *memTransport) Close() error {
	if t.local != nil {
		t.local.Close()
	}
	return nil
}

type memMsg struct {
	data []byte
	text bool
}

type memChannel struct {
	label string
	peer  *memChannel
	queue chan memMsg

	mu     sync.Mutex
	closed bool
	onOpen func()
	onMsg  func([]byte, bool)
}

func newMemChannel(label string) *memChannel {
	return &memChannel{label: label, queue: make(chan memMsg, 4096)}
}

func (c *memChannel) open() {
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	go func() {
		for m := range c.queue {
			c.mu.Lock()
			deliver := c.onMsg
			c.mu.Unlock()
			if deliver != nil {
				deliver(m.data, m.text)
			}
		}
	}()
	if fn != nil {
		fn()
	}
}

func (c *memChannel) deliver(m memMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("channel closed")
	}
	c.queue <- m
	return nil
}

func (c *memChannel) Label() string { return c.label }

func (c *memChannel) Send(data []byte) error {
	return c.peer.deliver(memMsg{data: append([]byte(nil), data...)})
}

func (c *memChannel) SendText(s string) error {
	return c.peer.deliver(memMsg{data: []byte(s), text: true})
}

func (c *memChannel) BufferedAmount() uint64 { return 0 }

func (c *memChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	return nil
}

func (c *memChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *memChannel) OnClose(func()) {}

func (c *memChannel) OnMessage(fn func(data []byte, text bool)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}
