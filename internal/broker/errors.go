package broker

import "errors"

var (
	ErrInvalidMessage = errors.New("invalid message format")
	ErrUnknownType    = errors.New("unknown message type")
	ErrAlreadyJoined  = errors.New("already joined")
	ErrNotJoined      = errors.New("not joined")
	ErrTargetRequired = errors.New("target user id required")
	ErrTargetNotFound = errors.New("target user not found")
	ErrFileTooLarge   = errors.New("file too large")
	ErrBrokerClosed   = errors.New("broker closed")
)

// Kind groups handler errors by how the broker reacts to them.
type Kind int

const (
	KindNone Kind = iota
	KindProtocol
	KindState
	KindCapacity
	KindTarget
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindState:
		return "state"
	case KindCapacity:
		return "capacity"
	case KindTarget:
		return "target"
	default:
		return "none"
	}
}

// Classify reports the Kind of a handler error.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnknownType):
		return KindProtocol
	case errors.Is(err, ErrAlreadyJoined), errors.Is(err, ErrNotJoined):
		return KindState
	case errors.Is(err, ErrFileTooLarge):
		return KindCapacity
	case errors.Is(err, ErrTargetRequired), errors.Is(err, ErrTargetNotFound):
		return KindTarget
	default:
		return KindNone
	}
}

// ReplyText returns the text sent back to the client in an error message.
// An empty string means the error is not reported on the wire.
func ReplyText(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return "Invalid message format"
	case errors.Is(err, ErrUnknownType):
		return "Unknown message type"
	case errors.Is(err, ErrAlreadyJoined):
		return "Already joined"
	case errors.Is(err, ErrTargetRequired):
		return "Target user ID required"
	case errors.Is(err, ErrTargetNotFound):
		return "Target user not found"
	case errors.Is(err, ErrFileTooLarge):
		return "File too large, maximum size is 5MB"
	default:
		return ""
	}
}
