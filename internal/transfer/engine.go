package transfer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is the link a transfer runs over.
type Channel interface {
	Send(data []byte) error
	SendText(s string) error
	BufferedAmount() uint64
}

type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

type EventKind int

const (
	EventOffered EventKind = iota
	EventAccepted
	EventProgress
	EventCompleted
	EventRejected
	EventCancelled
	EventFailed
)

func (k EventKind) String() string {
	return [...]string{"offered", "accepted", "progress", "completed", "rejected", "cancelled", "failed"}[k]
}

// Event reports a change in one transfer.
type Event struct {
	Kind      EventKind
	Direction Direction
	FileID    string
	Name      string
	Mime      string
	Size      int64

	Chunks      int
	TotalChunks int
	Bytes       int64
	Rate        float64 // bytes per second

	// Data holds the reassembled file on an incoming EventCompleted.
	Data []byte
	// Remote is set when the counterpart cancelled.
	Remote bool
	Err    error
}

// Percent returns completion in the range 0..100.
func (e Event) Percent() float64 {
	if e.TotalChunks == 0 {
		if e.Kind == EventCompleted {
			return 100
		}
		return 0
	}
	return float64(e.Chunks) * 100 / float64(e.TotalChunks)
}

// Source is a file offered to the peer.
type Source struct {
	// ID names the transfer. Offer generates one when it is empty.
	ID     string
	Name   string
	Mime   string
	Size   int64
	Reader io.ReaderAt
}

// Options configures an Engine.
type Options struct {
	Codec     Codec
	Pacing    Pacing
	ChunkSize int
	Logger    *slog.Logger
	Now       func() time.Time
	// Notify receives every Event. It must not block for long.
	Notify func(Event)
}

// Engine runs file transfers over one peer link in both directions.
type Engine struct {
	ch     Channel
	codec  Codec
	pacing Pacing
	chunk  int
	logger *slog.Logger
	now    func() time.Time
	notify func(Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// sendMu serializes writes to the link.
	sendMu sync.Mutex

	mu       sync.Mutex
	outgoing map[string]*sendSession
	incoming map[string]*recvSession
	closed   bool
}

// NewEngine returns an Engine bound to ch.
func NewEngine(ch Channel, opts Options) *Engine {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.Pacing == (Pacing{}) {
		opts.Pacing = DefaultPacing()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = ChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notify == nil {
		opts.Notify = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		ch:       ch,
		codec:    opts.Codec,
		pacing:   opts.Pacing,
		chunk:    opts.ChunkSize,
		logger:   opts.Logger,
		now:      opts.Now,
		notify:   opts.Notify,
		ctx:      ctx,
		cancel:   cancel,
		outgoing: make(map[string]*sendSession),
		incoming: make(map[string]*recvSession),
	}
}

// Codec returns the frame encoding used for outbound frames.
func (e *Engine) Codec() Codec { return e.codec }

func (e *Engine) send(f *Frame) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.sendLocked(f)
}

func (e *Engine) sendLocked(f *Frame) error {
	data, err := e.codec.Encode(f)
	if err != nil {
		return NewError("encode "+f.Type, err)
	}
	if len(data) > MaxFrameSize {
		return WrapError("send "+f.Type, ErrFrameTooLarge, f.FileID)
	}
	if e.codec.Binary() {
		err = e.ch.Send(data)
	} else {
		err = e.ch.SendText(string(data))
	}
	if err != nil {
		return NewError("send "+f.Type, err)
	}
	return nil
}

// Handle processes one frame received from the peer. Malformed frames and
// frames for unknown transfers are logged and dropped.
func (e *Engine) Handle(data []byte, text bool) {
	f, err := DecodeFrame(data, text)
	if err != nil {
		e.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	switch f.Type {
	case TypeFileOffer:
		e.handleOffer(f)
	case TypeFileAccept:
		e.handleAccept(f)
	case TypeFileReject:
		e.handleReject(f)
	case TypeFileCancelReceive:
		e.handleCancelReceive(f)
	case TypeFileMetadata:
		e.handleMetadata(f)
	case TypeFileChunk:
		e.handleChunk(f)
	case TypeFileCancel:
		e.handleCancel(f)
	default:
		e.logger.Debug("ignoring frame", "type", f.Type)
	}
}

// Cancel aborts a transfer in either direction and tells the peer.
// Cancelling an unknown or finished transfer does nothing.
func (e *Engine) Cancel(fileID string) {
	e.mu.Lock()
	if s, ok := e.outgoing[fileID]; ok {
		delete(e.outgoing, fileID)
		s.state = SendCancelled
		s.stop()
		ev := s.event(EventCancelled)
		ev.Err = ErrTransferCancelled
		e.mu.Unlock()

		if err := e.send(&Frame{Type: TypeFileCancel, FileID: fileID}); err != nil {
			e.logger.Warn("cancel notice failed", "file", fileID, "error", err)
		}
		e.notify(ev)
		return
	}
	if r, ok := e.incoming[fileID]; ok {
		delete(e.incoming, fileID)
		r.state = RecvCancelled
		ev := r.event(EventCancelled)
		ev.Err = ErrTransferCancelled
		r.release()
		e.mu.Unlock()

		if err := e.send(&Frame{Type: TypeFileCancelReceive, FileID: fileID}); err != nil {
			e.logger.Warn("cancel notice failed", "file", fileID, "error", err)
		}
		e.notify(ev)
		return
	}
	e.mu.Unlock()
}

// Close abandons every transfer without notifying the peer, as when the
// link is gone, and waits for running senders to stop.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cancel()

	var events []Event
	for id, s := range e.outgoing {
		delete(e.outgoing, id)
		s.stop()
		ev := s.event(EventFailed)
		ev.Err = ErrLinkClosed
		events = append(events, ev)
	}
	for id, r := range e.incoming {
		delete(e.incoming, id)
		ev := r.event(EventFailed)
		r.release()
		ev.Err = ErrLinkClosed
		events = append(events, ev)
	}
	e.mu.Unlock()

	e.wg.Wait()
	for _, ev := range events {
		e.notify(ev)
	}
}

// Active reports the number of live transfers in each direction.
func (e *Engine) Active() (out, in int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outgoing), len(e.incoming)
}

func newFileID() string {
	return uuid.NewString()
}
