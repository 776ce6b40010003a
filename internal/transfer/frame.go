package transfer

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wsxxll/webchat/internal/protocol"
)

// Frame is one transfer protocol message. Only the fields relevant to Type are set.
type Frame struct {
	Type        string `json:"type" msgpack:"type"`
	FileID      string `json:"fileId" msgpack:"fileId"`
	Name        string `json:"name,omitempty" msgpack:"name,omitempty"`
	Mime        string `json:"mime,omitempty" msgpack:"mime,omitempty"`
	Size        int64  `json:"size,omitempty" msgpack:"size,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty" msgpack:"totalChunks,omitempty"`
	ChunkSize   int    `json:"chunkSize,omitempty" msgpack:"chunkSize,omitempty"`
	Index       int    `json:"index" msgpack:"index"`
	Data        []byte `json:"data,omitempty" msgpack:"data,omitempty"`
}

// IsTransferType reports whether t names a transfer frame.
func IsTransferType(t string) bool {
	switch t {
	case TypeFileOffer, TypeFileAccept, TypeFileReject, TypeFileMetadata,
		TypeFileChunk, TypeFileCancel, TypeFileCancelReceive:
		return true
	}
	return false
}

// Codec turns frames into link payloads.
type Codec interface {
	Encode(f *Frame) ([]byte, error)
	// Binary reports whether encoded frames go out as binary messages.
	Binary() bool
	Name() string
}

// JSONCodec encodes frames as text with base64 chunk data.
type JSONCodec struct{}

func (JSONCodec) Encode(f *Frame) ([]byte, error) { return json.Marshal(f) }
func (JSONCodec) Binary() bool                    { return false }
func (JSONCodec) Name() string                    { return "json" }

// MsgpackCodec encodes frames as compact binary messages.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(f *Frame) ([]byte, error) { return msgpack.Marshal(f) }
func (MsgpackCodec) Binary() bool                    { return true }
func (MsgpackCodec) Name() string                    { return "msgpack" }

// SelectCodec picks the frame encoding for a pair of clients. Terminal
// clients on both ends use binary frames; anything else falls back to text.
func SelectCodec(local, remote string) Codec {
	if local == protocol.ClientCLI && remote == protocol.ClientCLI {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// DecodeFrame parses a frame received as text (JSON) or binary (msgpack).
func DecodeFrame(data []byte, text bool) (*Frame, error) {
	var f Frame
	var err error
	if text {
		err = json.Unmarshal(data, &f)
	} else {
		err = msgpack.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, NewError("decode frame", err)
	}
	return &f, nil
}

// PeekType returns the type field of a text frame.
func PeekType(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Type
}
