package transfer

import (
	"context"
	"errors"
	"io"
	"time"
)

type SendState int

const (
	SendOffered SendState = iota
	SendAccepted
	SendSending
	SendCompleted
	SendRejected
	SendCancelled
)

func (s SendState) String() string {
	return [...]string{"offered", "accepted", "sending", "completed", "rejected", "cancelled"}[s]
}

type sendSession struct {
	id     string
	src    Source
	state  SendState
	total  int
	chunk  int
	next   int
	sent   int64
	meter  *Meter
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *sendSession) stop() {
	s.cancel()
}

func (s *sendSession) event(kind EventKind) Event {
	return Event{
		Kind:        kind,
		Direction:   Outgoing,
		FileID:      s.id,
		Name:        s.src.Name,
		Mime:        s.src.Mime,
		Size:        s.src.Size,
		Chunks:      s.next,
		TotalChunks: s.total,
		Bytes:       s.sent,
		Rate:        s.meter.Rate(),
	}
}

// Offer announces src to the peer and returns its file id. Chunks flow once
// the peer accepts.
func (e *Engine) Offer(src Source) (string, error) {
	if src.Reader == nil || src.Size < 0 {
		return "", NewFileError("offer", src.Name, ErrInvalidState)
	}

	id := src.ID
	if id == "" {
		id = newFileID()
	}

	ctx, cancel := context.WithCancel(e.ctx)
	s := &sendSession{
		id:     id,
		src:    src,
		state:  SendOffered,
		total:  TotalChunks(src.Size, e.chunk),
		chunk:  e.chunk,
		meter:  NewMeter(e.pacing.SampleInterval, e.now()),
		ctx:    ctx,
		cancel: cancel,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return "", NewFileError("offer", src.Name, ErrLinkClosed)
	}
	if _, dup := e.outgoing[s.id]; dup {
		e.mu.Unlock()
		cancel()
		return "", WrapError("offer", ErrInvalidState, "duplicate file id "+s.id)
	}
	e.outgoing[s.id] = s
	e.mu.Unlock()

	err := e.send(&Frame{
		Type:   TypeFileOffer,
		FileID: s.id,
		Name:   src.Name,
		Mime:   src.Mime,
		Size:   src.Size,
	})
	if err != nil {
		e.mu.Lock()
		if e.outgoing[s.id] == s {
			delete(e.outgoing, s.id)
		}
		e.mu.Unlock()
		cancel()
		return "", err
	}

	e.logger.Info("file offered", "file", s.id, "name", src.Name, "size", src.Size, "chunks", s.total)
	return s.id, nil
}

// State returns the state of an outgoing transfer.
func (e *Engine) State(fileID string) (SendState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.outgoing[fileID]
	if !ok {
		return 0, false
	}
	return s.state, true
}

func (e *Engine) handleAccept(f *Frame) {
	e.mu.Lock()
	s, ok := e.outgoing[f.FileID]
	if !ok || s.state != SendOffered {
		e.mu.Unlock()
		e.logger.Debug("ignoring accept", "file", f.FileID)
		return
	}
	s.state = SendAccepted
	ev := s.event(EventAccepted)
	e.mu.Unlock()

	e.notify(ev)

	err := e.send(&Frame{
		Type:        TypeFileMetadata,
		FileID:      s.id,
		TotalChunks: s.total,
		ChunkSize:   s.chunk,
		Size:        s.src.Size,
	})
	if err != nil {
		e.fail(s, err)
		return
	}

	e.mu.Lock()
	if e.outgoing[s.id] != s {
		e.mu.Unlock()
		return
	}
	s.state = SendSending
	e.wg.Add(1)
	e.mu.Unlock()

	go e.pump(s)
}

func (e *Engine) handleReject(f *Frame) {
	e.mu.Lock()
	s, ok := e.outgoing[f.FileID]
	if !ok || s.state != SendOffered {
		e.mu.Unlock()
		return
	}
	delete(e.outgoing, f.FileID)
	s.state = SendRejected
	s.stop()
	ev := s.event(EventRejected)
	e.mu.Unlock()

	ev.Err = ErrTransferRejected
	e.notify(ev)
}

func (e *Engine) handleCancelReceive(f *Frame) {
	e.mu.Lock()
	s, ok := e.outgoing[f.FileID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.outgoing, f.FileID)
	s.state = SendCancelled
	s.stop()
	ev := s.event(EventCancelled)
	e.mu.Unlock()

	ev.Err = ErrTransferCancelled
	ev.Remote = true
	e.notify(ev)
}

// live reports whether s is still the registered session for its id.
func (e *Engine) live(s *sendSession) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outgoing[s.id] == s && s.ctx.Err() == nil
}

var errStopped = errors.New("transfer stopped")

// sendChunk writes a chunk unless the transfer was stopped, so nothing for
// a cancelled file follows its cancel notice on the link.
func (e *Engine) sendChunk(s *sendSession, f *Frame) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if !e.live(s) {
		return errStopped
	}
	return e.sendLocked(f)
}

// pump streams the chunks of one file, pacing on the link's buffered amount.
func (e *Engine) pump(s *sendSession) {
	defer e.wg.Done()

	buf := make([]byte, s.chunk)
	for s.next < s.total {
		if !e.live(s) {
			return
		}

		wait, ok := e.pacing.delay(e.ch.BufferedAmount())
		if !ok {
			if !sleep(s.ctx, wait) {
				return
			}
			continue
		}

		offset := int64(s.next) * int64(s.chunk)
		n, err := s.src.Reader.ReadAt(buf, offset)
		if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
			e.fail(s, NewFileError("read", s.src.Name, err))
			return
		}

		err = e.sendChunk(s, &Frame{
			Type:        TypeFileChunk,
			FileID:      s.id,
			Index:       s.next,
			TotalChunks: s.total,
			Data:        buf[:n],
		})
		switch {
		case errors.Is(err, errStopped):
			return
		case errors.Is(err, ErrFrameTooLarge):
			e.logger.Warn("skipping oversize chunk", "file", s.id, "index", s.next)
			e.mu.Lock()
			s.next++
			e.mu.Unlock()
			if !sleep(s.ctx, e.pacing.Skip) {
				return
			}
			continue
		case err != nil:
			e.fail(s, err)
			return
		}

		e.mu.Lock()
		if e.outgoing[s.id] != s {
			e.mu.Unlock()
			return
		}
		s.next++
		s.sent += int64(n)
		s.meter.Update(e.now(), s.sent)
		ev := s.event(EventProgress)
		e.mu.Unlock()
		e.notify(ev)

		if s.next < s.total && !sleep(s.ctx, wait) {
			return
		}
	}

	e.mu.Lock()
	if e.outgoing[s.id] != s {
		e.mu.Unlock()
		return
	}
	delete(e.outgoing, s.id)
	s.state = SendCompleted
	s.stop()
	ev := s.event(EventCompleted)
	e.mu.Unlock()

	e.logger.Info("file sent", "file", s.id, "bytes", s.sent)
	e.notify(ev)
}

func (e *Engine) fail(s *sendSession, err error) {
	e.mu.Lock()
	if e.outgoing[s.id] != s {
		e.mu.Unlock()
		return
	}
	delete(e.outgoing, s.id)
	s.stop()
	ev := s.event(EventFailed)
	e.mu.Unlock()

	e.logger.Error("transfer failed", "file", s.id, "error", err)
	ev.Err = err
	e.notify(ev)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
