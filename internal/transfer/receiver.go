package transfer

type RecvState int

const (
	RecvOfferShown RecvState = iota
	RecvAccepting
	RecvReceiving
	RecvCompleted
	RecvRejected
	RecvCancelled
)

func (s RecvState) String() string {
	return [...]string{"offer-shown", "accepting", "receiving", "completed", "rejected", "cancelled"}[s]
}

type recvSession struct {
	id        string
	name      string
	mime      string
	size      int64
	state     RecvState
	total     int
	chunkSize int
	chunks    [][]byte
	received  int
	bytes     int64
	meter     *Meter
}

func (r *recvSession) event(kind EventKind) Event {
	return Event{
		Kind:        kind,
		Direction:   Incoming,
		FileID:      r.id,
		Name:        r.name,
		Mime:        r.mime,
		Size:        r.size,
		Chunks:      r.received,
		TotalChunks: r.total,
		Bytes:       r.bytes,
		Rate:        r.meter.Rate(),
	}
}

func (r *recvSession) release() {
	r.chunks = nil
}

// plan checks a peer-declared chunk layout against the offered size and
// returns the chunk size to use. chunkSize 0 keeps the current one.
func (r *recvSession) plan(total, chunkSize int) (int, bool) {
	if chunkSize <= 0 {
		chunkSize = r.chunkSize
	}
	if chunkSize > MaxFrameSize || total > MaxChunks {
		return 0, false
	}
	return chunkSize, total == TotalChunks(r.size, chunkSize)
}

// allocate sizes the chunk table once the chunk count is known.
func (r *recvSession) allocate(total, chunkSize int) {
	r.total = total
	if chunkSize > 0 {
		r.chunkSize = chunkSize
	}
	r.chunks = make([][]byte, total)
	r.state = RecvReceiving
}

func (r *recvSession) assemble() []byte {
	out := make([]byte, 0, r.bytes)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

// Accept tells the peer to start sending an offered file.
func (e *Engine) Accept(fileID string) error {
	e.mu.Lock()
	r, ok := e.incoming[fileID]
	if !ok {
		e.mu.Unlock()
		return NewError("accept", ErrUnknownFile)
	}
	if r.state != RecvOfferShown {
		e.mu.Unlock()
		return WrapError("accept", ErrInvalidState, r.state.String())
	}
	r.state = RecvAccepting
	r.meter = NewMeter(e.pacing.SampleInterval, e.now())
	e.mu.Unlock()

	if err := e.send(&Frame{Type: TypeFileAccept, FileID: fileID}); err != nil {
		e.mu.Lock()
		if e.incoming[fileID] == r {
			delete(e.incoming, fileID)
		}
		e.mu.Unlock()
		return err
	}
	return nil
}

// Reject declines an offered file.
func (e *Engine) Reject(fileID string) error {
	e.mu.Lock()
	r, ok := e.incoming[fileID]
	if !ok || r.state != RecvOfferShown {
		e.mu.Unlock()
		return NewError("reject", ErrUnknownFile)
	}
	delete(e.incoming, fileID)
	r.state = RecvRejected
	ev := r.event(EventRejected)
	e.mu.Unlock()

	e.notify(ev)
	return e.send(&Frame{Type: TypeFileReject, FileID: fileID})
}

// ReceiveState returns the state of an incoming transfer.
func (e *Engine) ReceiveState(fileID string) (RecvState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.incoming[fileID]
	if !ok {
		return 0, false
	}
	return r.state, true
}

func (e *Engine) handleOffer(f *Frame) {
	if f.FileID == "" || f.Size < 0 {
		e.logger.Warn("dropping malformed offer", "file", f.FileID)
		return
	}
	if f.Size > MaxReceiveSize {
		e.logger.Warn("dropping oversize offer", "file", f.FileID, "size", f.Size)
		return
	}

	e.mu.Lock()
	if _, ok := e.incoming[f.FileID]; ok || e.closed {
		e.mu.Unlock()
		e.logger.Warn("dropping duplicate offer", "file", f.FileID)
		return
	}
	r := &recvSession{
		id:        f.FileID,
		name:      f.Name,
		mime:      f.Mime,
		size:      f.Size,
		state:     RecvOfferShown,
		chunkSize: e.chunk,
		meter:     NewMeter(e.pacing.SampleInterval, e.now()),
	}
	e.incoming[f.FileID] = r
	ev := r.event(EventOffered)
	e.mu.Unlock()

	e.notify(ev)
}

func (e *Engine) handleMetadata(f *Frame) {
	e.mu.Lock()
	r, ok := e.incoming[f.FileID]
	if !ok || (r.state != RecvAccepting && r.state != RecvReceiving) {
		e.mu.Unlock()
		e.logger.Warn("dropping metadata for unknown file", "file", f.FileID)
		return
	}
	chunk, ok := r.plan(f.TotalChunks, f.ChunkSize)
	if !ok || (r.state == RecvReceiving && f.TotalChunks != r.total) {
		e.mu.Unlock()
		e.logger.Warn("dropping inconsistent metadata", "file", f.FileID,
			"chunks", f.TotalChunks, "chunk_size", f.ChunkSize, "size", r.size)
		return
	}
	if r.state == RecvAccepting {
		r.allocate(f.TotalChunks, chunk)
	} else {
		r.chunkSize = chunk
	}
	ev, done := e.checkComplete(r)
	e.mu.Unlock()

	if done {
		e.finish(ev)
	}
}

func (e *Engine) handleChunk(f *Frame) {
	e.mu.Lock()
	r, ok := e.incoming[f.FileID]
	if !ok || (r.state != RecvAccepting && r.state != RecvReceiving) {
		e.mu.Unlock()
		e.logger.Warn("dropping chunk for unknown file", "file", f.FileID, "index", f.Index)
		return
	}
	if r.state == RecvAccepting {
		if _, ok := r.plan(f.TotalChunks, 0); !ok || f.TotalChunks == 0 {
			e.mu.Unlock()
			e.logger.Warn("dropping chunk before metadata", "file", f.FileID,
				"index", f.Index, "chunks", f.TotalChunks, "size", r.size)
			return
		}
		r.allocate(f.TotalChunks, 0)
	}
	if f.Index < 0 || f.Index >= r.total {
		e.mu.Unlock()
		e.logger.Warn("dropping chunk", "file", f.FileID, "index", f.Index, "error", ErrChunkOutOfRange)
		return
	}
	if len(f.Data) > r.chunkSize {
		e.mu.Unlock()
		e.logger.Warn("dropping oversize chunk", "file", f.FileID, "index", f.Index, "bytes", len(f.Data))
		return
	}
	if r.chunks[f.Index] != nil {
		e.mu.Unlock()
		e.logger.Debug("ignoring duplicate chunk", "file", f.FileID, "index", f.Index)
		return
	}

	r.chunks[f.Index] = f.Data
	r.received++
	r.bytes += int64(len(f.Data))
	r.meter.Update(e.now(), r.bytes)
	progress := r.event(EventProgress)
	ev, done := e.checkComplete(r)
	e.mu.Unlock()

	e.notify(progress)
	if done {
		e.finish(ev)
	}
}

// checkComplete removes r once every chunk is in. Caller holds e.mu.
func (e *Engine) checkComplete(r *recvSession) (Event, bool) {
	if r.state != RecvReceiving || r.received < r.total {
		return Event{}, false
	}
	delete(e.incoming, r.id)

	data := r.assemble()
	r.release()
	if int64(len(data)) != r.size {
		ev := r.event(EventFailed)
		ev.Err = NewFileError("assemble", r.name, ErrIncomplete)
		return ev, true
	}
	r.state = RecvCompleted
	ev := r.event(EventCompleted)
	ev.Data = data
	return ev, true
}

func (e *Engine) finish(ev Event) {
	if ev.Kind == EventFailed {
		e.logger.Error("transfer failed", "file", ev.FileID, "error", ev.Err)
	} else {
		e.logger.Info("file received", "file", ev.FileID, "bytes", len(ev.Data))
	}
	e.notify(ev)
}

func (e *Engine) handleCancel(f *Frame) {
	e.mu.Lock()
	r, ok := e.incoming[f.FileID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.incoming, f.FileID)
	r.state = RecvCancelled
	ev := r.event(EventCancelled)
	r.release()
	e.mu.Unlock()

	ev.Err = ErrTransferCancelled
	ev.Remote = true
	e.notify(ev)
}
