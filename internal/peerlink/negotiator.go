package peerlink

import (
	"log/slog"
	"sync"

	"github.com/wsxxll/webchat/internal/protocol"
)

// ChannelLabel names the data channel opened by the initiator.
const ChannelLabel = "webchat"

type link struct {
	peerID    string
	state     State
	transport Transport
	channel   Channel
	remoteSet bool
	pending   []Candidate
}

// Negotiator establishes and tracks at most one direct link per remote user.
// Offers, answers and candidates travel through the Signaler; link events
// are delivered on Events.
type Negotiator struct {
	factory  Factory
	signaler Signaler
	logger   *slog.Logger
	events   chan Event
	done     chan struct{}

	mu       sync.Mutex
	localID  string
	links    map[string]*link
	shutdown bool
}

func NewNegotiator(factory Factory, signaler Signaler, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		factory:  factory,
		signaler: signaler,
		logger:   logger.With("component", "peerlink"),
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		links:    make(map[string]*link),
	}
}

func (n *Negotiator) Events() <-chan Event {
	return n.events
}

// SetLocalID records the user id assigned on join.
func (n *Negotiator) SetLocalID(id string) {
	n.mu.Lock()
	n.localID = id
	n.mu.Unlock()
}

func (n *Negotiator) LocalID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.localID
}

// State returns the link state for peerID; Idle when no link exists.
func (n *Negotiator) State(peerID string) State {
	n.mu.Lock()
	defer n.mu.Unlock()
	if l, ok := n.links[peerID]; ok {
		return l.state
	}
	return Idle
}

// Channel returns the open data channel to peerID.
func (n *Negotiator) Channel(peerID string) (Channel, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.links[peerID]
	if !ok || l.state != Linked {
		return nil, false
	}
	return l.channel, true
}

// Connect offers to peerID if the local side is the initiator for that pair.
func (n *Negotiator) Connect(peerID string) error {
	if !ShouldInitiate(n.LocalID(), peerID) {
		return nil
	}
	return n.Initiate(peerID)
}

// Initiate opens a transport to peerID and relays an offer. It does nothing
// when a negotiation with peerID is already under way.
func (n *Negotiator) Initiate(peerID string) error {
	n.mu.Lock()
	if n.shutdown {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.localID == "" || peerID == "" {
		n.mu.Unlock()
		return NewPeerError("initiate", peerID, ErrUnknownID)
	}
	l := n.links[peerID]
	if l != nil && l.state != Idle && l.state != Failed {
		n.mu.Unlock()
		return nil
	}
	l = n.replaceLocked(peerID, l, false)

	if err := n.openLocked(l); err != nil {
		n.mu.Unlock()
		return n.fail(l, NewPeerError("initiate", peerID, err))
	}
	ch, err := l.transport.CreateChannel(ChannelLabel)
	if err != nil {
		n.mu.Unlock()
		return n.fail(l, NewPeerError("initiate", peerID, err))
	}
	n.watch(l, ch)
	offer, err := l.transport.CreateOffer()
	if err != nil {
		n.mu.Unlock()
		return n.fail(l, NewPeerError("initiate", peerID, err))
	}
	l.state = OfferSent
	n.mu.Unlock()

	n.logger.Debug("sending offer", "peer", peerID)
	if err := n.signaler.Relay(protocol.TypeOffer, peerID, offer); err != nil {
		return n.fail(l, NewPeerError("relay offer", peerID, err))
	}
	return nil
}

// HandleOffer answers an offer from peerID. When both sides offered at once
// the larger id keeps its own offer and the smaller one yields.
func (n *Negotiator) HandleOffer(peerID string, d Description) error {
	n.mu.Lock()
	if n.shutdown {
		n.mu.Unlock()
		return ErrClosed
	}
	l := n.links[peerID]
	if l != nil && l.state == OfferSent && ShouldInitiate(n.localID, peerID) {
		n.mu.Unlock()
		n.logger.Debug("ignoring colliding offer", "peer", peerID)
		return nil
	}
	wasLinked := l != nil && l.state == Linked
	// Candidates buffered before any local offer belong to this one.
	keep := l != nil && (l.state == Idle || l.state == OfferSent || l.state == Failed)
	l = n.replaceLocked(peerID, l, keep)

	if err := n.openLocked(l); err != nil {
		n.mu.Unlock()
		return n.fail(l, NewPeerError("answer", peerID, err))
	}
	l.state = OfferReceived
	if err := l.transport.SetRemoteDescription(d); err != nil {
		n.mu.Unlock()
		return n.fail(l, NewPeerError("answer", peerID, err))
	}
	n.remoteReadyLocked(l)
	answer, err := l.transport.CreateAnswer()
	if err != nil {
		n.mu.Unlock()
		return n.fail(l, NewPeerError("answer", peerID, err))
	}
	l.state = Answered
	n.mu.Unlock()

	if wasLinked {
		n.logger.Info("peer renegotiating", "peer", peerID)
		n.emitAsync(Event{Kind: EventFailed, PeerID: peerID, Err: ErrLinkClosed})
	}
	n.logger.Debug("sending answer", "peer", peerID)
	if err := n.signaler.Relay(protocol.TypeAnswer, peerID, answer); err != nil {
		return n.fail(l, NewPeerError("relay answer", peerID, err))
	}
	return nil
}

// HandleAnswer applies an answer to the outstanding offer to peerID.
func (n *Negotiator) HandleAnswer(peerID string, d Description) error {
	n.mu.Lock()
	l := n.links[peerID]
	if l == nil || l.state != OfferSent {
		n.mu.Unlock()
		return NewPeerError("answer", peerID, ErrUnexpectedAnswer)
	}
	if err := l.transport.SetRemoteDescription(d); err != nil {
		n.mu.Unlock()
		return n.fail(l, NewPeerError("apply answer", peerID, err))
	}
	n.remoteReadyLocked(l)
	l.state = Answered
	n.mu.Unlock()
	return nil
}

// HandleCandidate applies a remote candidate, holding it until the remote
// description is in place.
func (n *Negotiator) HandleCandidate(peerID string, c Candidate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shutdown {
		return ErrClosed
	}
	l := n.links[peerID]
	if l == nil {
		l = &link{peerID: peerID, state: Idle}
		n.links[peerID] = l
	}
	if !l.remoteSet || l.state == Failed {
		l.pending = append(l.pending, c)
		return nil
	}
	if err := l.transport.AddCandidate(c); err != nil {
		return NewPeerError("candidate", peerID, err)
	}
	return nil
}

// Close tears down the link to peerID. Closing an unknown peer does nothing.
func (n *Negotiator) Close(peerID string) {
	n.mu.Lock()
	l, ok := n.links[peerID]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.links, peerID)
	closer := l.detach(Closed)
	n.mu.Unlock()
	closer()
}

// CloseAll tears down every link, as on leaving the room.
func (n *Negotiator) CloseAll() {
	n.mu.Lock()
	closers := make([]func(), 0, len(n.links))
	for _, l := range n.links {
		closers = append(closers, l.detach(Closed))
	}
	n.links = make(map[string]*link)
	n.mu.Unlock()
	for _, closer := range closers {
		closer()
	}
}

// Shutdown closes every link and stops event delivery.
func (n *Negotiator) Shutdown() {
	n.mu.Lock()
	if n.shutdown {
		n.mu.Unlock()
		return
	}
	n.shutdown = true
	close(n.done)
	n.mu.Unlock()
	n.CloseAll()
}

// replaceLocked installs a fresh link for peerID. Callbacks bound to the old
// transport stop matching and are ignored.
func (n *Negotiator) replaceLocked(peerID string, old *link, keepPending bool) *link {
	l := &link{peerID: peerID, state: Idle}
	if old != nil {
		if keepPending {
			l.pending = old.pending
		}
		go old.detach(Closed)()
	}
	n.links[peerID] = l
	return l
}

func (n *Negotiator) openLocked(l *link) error {
	t, err := n.factory.NewTransport(Handlers{
		OnCandidate: func(c Candidate) { n.onCandidate(l, c) },
		OnState:     func(s ConnState) { n.onState(l, s) },
		OnChannel:   func(ch Channel) { n.onChannel(l, ch) },
	})
	if err != nil {
		return err
	}
	l.transport = t
	return nil
}

func (n *Negotiator) remoteReadyLocked(l *link) {
	l.remoteSet = true
	for _, c := range l.pending {
		if err := l.transport.AddCandidate(c); err != nil {
			n.logger.Warn("dropping buffered candidate", "peer", l.peerID, "error", err)
		}
	}
	l.pending = nil
}

func (n *Negotiator) current(l *link) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[l.peerID] == l && l.state != Closed && l.state != Failed
}

func (n *Negotiator) onCandidate(l *link, c Candidate) {
	if !n.current(l) {
		return
	}
	if err := n.signaler.Relay(protocol.TypeICECandidate, l.peerID, c); err != nil {
		n.logger.Warn("candidate relay failed", "peer", l.peerID, "error", err)
	}
}

func (n *Negotiator) onState(l *link, s ConnState) {
	switch s {
	case StateConnected:
		n.logger.Debug("transport connected", "peer", l.peerID)
	case StateFailed:
		n.fail(l, NewPeerError("connect", l.peerID, ErrLinkClosed))
	}
}

func (n *Negotiator) onChannel(l *link, ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links[l.peerID] != l {
		ch.Close()
		return
	}
	n.watch(l, ch)
}

func (n *Negotiator) watch(l *link, ch Channel) {
	ch.OnOpen(func() {
		n.mu.Lock()
		if n.links[l.peerID] != l || l.state == Closed || l.state == Failed {
			n.mu.Unlock()
			return
		}
		l.channel = ch
		l.state = Linked
		n.mu.Unlock()

		n.logger.Info("direct link open", "peer", l.peerID)
		n.emit(Event{Kind: EventLinked, PeerID: l.peerID, Channel: ch})
	})
	ch.OnClose(func() {
		n.mu.Lock()
		stale := n.links[l.peerID] != l || l.channel != ch
		n.mu.Unlock()
		if !stale {
			n.fail(l, NewPeerError("channel", l.peerID, ErrLinkClosed))
		}
	})
	ch.OnMessage(func(data []byte, text bool) {
		if n.current(l) {
			n.emit(Event{Kind: EventMessage, PeerID: l.peerID, Data: data, Text: text})
		}
	})
}

// fail marks l failed and releases its transport. It returns err.
func (n *Negotiator) fail(l *link, err error) error {
	n.mu.Lock()
	if n.links[l.peerID] != l || l.state == Closed || l.state == Failed {
		n.mu.Unlock()
		return err
	}
	closer := l.detach(Failed)
	n.mu.Unlock()

	n.logger.Warn("direct link failed", "peer", l.peerID, "error", err)
	closer()
	n.emitAsync(Event{Kind: EventFailed, PeerID: l.peerID, Err: err})
	return err
}

// detach moves l to a terminal state and returns a func that closes its
// channel and transport. Caller holds n.mu.
func (l *link) detach(state State) func() {
	l.state = state
	l.pending = nil
	ch, t := l.channel, l.transport
	return func() {
		if ch != nil {
			ch.Close()
		}
		if t != nil {
			t.Close()
		}
	}
}

// emit delivers ev from a transport goroutine, blocking until it is taken.
func (n *Negotiator) emit(ev Event) {
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

// emitAsync delivers ev without blocking the caller, which may be the
// consumer of Events itself.
func (n *Negotiator) emitAsync(ev Event) {
	select {
	case n.events <- ev:
	default:
		go n.emit(ev)
	}
}
