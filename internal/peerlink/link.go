package peerlink

import (
	"errors"
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// State is the negotiation state of the link to one remote user.
type State int

const (
	Idle State = iota
	OfferSent
	OfferReceived
	Answered
	Linked
	Closed
	Failed
)

func (s State) String() string {
	return [...]string{"idle", "offer-sent", "offer-received", "answered", "linked", "closed", "failed"}[s]
}

// ConnState is what a Transport reports about the underlying connection.
type ConnState int

const (
	StateConnected ConnState = iota
	StateFailed
	StateClosed
)

// Description is a session description as carried in relay payloads.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a trickled ICE candidate.
type Candidate = pion.ICECandidateInit

// Channel is an open data channel to the peer.
type Channel interface {
	Label() string
	Send(data []byte) error
	SendText(s string) error
	BufferedAmount() uint64
	Close() error
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(data []byte, text bool))
}

// Transport is one peer connection under negotiation.
type Transport interface {
	CreateChannel(label string) (Channel, error)
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetRemoteDescription(d Description) error
	AddCandidate(c Candidate) error
	Close() error
}

// Handlers receive transport callbacks. They may run on any goroutine.
type Handlers struct {
	OnCandidate func(Candidate)
	OnState     func(ConnState)
	OnChannel   func(Channel)
}

// Factory creates transports.
type Factory interface {
	NewTransport(h Handlers) (Transport, error)
}

// Signaler relays negotiation messages to one remote user through the broker.
type Signaler interface {
	Relay(msgType, targetUserID string, payload any) error
}

type EventKind int

const (
	EventLinked EventKind = iota
	EventMessage
	EventFailed
)

func (k EventKind) String() string {
	return [...]string{"linked", "message", "failed"}[k]
}

// Event is emitted by a Negotiator.
type Event struct {
	Kind    EventKind
	PeerID  string
	Channel Channel
	Data    []byte
	Text    bool
	Err     error
}

var (
	ErrClosed           = errors.New("negotiator closed")
	ErrNoLink           = errors.New("no direct link")
	ErrUnexpectedAnswer = errors.New("answer without outstanding offer")
	ErrLinkClosed       = errors.New("data channel closed")
	ErrUnknownID        = errors.New("user ids not known")
)

type LinkError struct {
	Op   string
	Peer string
	Err  error
}

func (e *LinkError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *LinkError {
	return &LinkError{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *LinkError {
	return &LinkError{Op: op, Peer: peer, Err: err}
}

// ShouldInitiate reports whether the local side offers to remote. Both ids
// must be known; the lexically larger id initiates.
func ShouldInitiate(localID, remoteID string) bool {
	if localID == "" || remoteID == "" {
		return false
	}
	return localID > remoteID
}
