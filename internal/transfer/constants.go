package transfer

import "time"

// Frame types carried over a peer link.
const (
	TypeFileOffer         = "file-offer"
	TypeFileAccept        = "file-accept"
	TypeFileReject        = "file-reject"
	TypeFileMetadata      = "file-metadata"
	TypeFileChunk         = "file-chunk"
	TypeFileCancel        = "file-cancel"
	TypeFileCancelReceive = "file-cancel-receive"
)

const (
	ChunkSize    = 64 * 1024
	MaxFrameSize = 256 * 1024

	// MaxChunks bounds the chunk table a receiver allocates for one file.
	MaxChunks = 1 << 20

	// MaxReceiveSize is the largest offer a receiver will consider.
	MaxReceiveSize = int64(MaxChunks) * ChunkSize
)

// Pacing controls how fast chunks are handed to the link.
type Pacing struct {
	// HighWater defers the next chunk while more than this many bytes are buffered.
	HighWater uint64
	// LowWater selects the shorter gap when buffering is at or below it.
	LowWater uint64

	Backoff  time.Duration // retry delay above HighWater
	Moderate time.Duration // gap between chunks above LowWater
	Fast     time.Duration // gap between chunks at or below LowWater
	Skip     time.Duration // delay after dropping an oversize frame

	// SampleInterval is the minimum spacing of throughput samples.
	SampleInterval time.Duration
}

// DefaultPacing returns the production pacing.
func DefaultPacing() Pacing {
	return Pacing{
		HighWater:      256 * 1024,
		LowWater:       64 * 1024,
		Backoff:        100 * time.Millisecond,
		Moderate:       50 * time.Millisecond,
		Fast:           20 * time.Millisecond,
		Skip:           50 * time.Millisecond,
		SampleInterval: time.Second,
	}
}

// delay returns the wait before the next chunk given the buffered amount,
// and whether the chunk should be sent at all.
func (p Pacing) delay(buffered uint64) (time.Duration, bool) {
	switch {
	case buffered > p.HighWater:
		return p.Backoff, false
	case buffered > p.LowWater:
		return p.Moderate, true
	default:
		return p.Fast, true
	}
}

// TotalChunks returns how many chunks of chunkSize cover size bytes.
func TotalChunks(size int64, chunkSize int) int {
	if size <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}
