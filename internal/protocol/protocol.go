// Package protocol implements the binary framing used on the sync websocket.
// Every frame starts with a varint message-type tag followed by an opaque payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Message type tags carried as the leading varint of every frame.
const (
	// MessageSync wraps a document sync-protocol payload.
	MessageSync uint64 = 0
	// MessageAwareness wraps an encoded presence delta.
	MessageAwareness uint64 = 1
)

var (
	// ErrTruncatedFrame indicates a frame too short to carry its type tag.
	ErrTruncatedFrame = errors.New("protocol: truncated frame")
	// ErrUnknownMessageType indicates an unrecognized leading type tag.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
)

// EncodeFrame prefixes the payload with the message-type tag.
func EncodeFrame(messageType uint64, payload []byte) []byte {
	frame := binary.AppendUvarint(make([]byte, 0, len(payload)+binary.MaxVarintLen64), messageType)
	return append(frame, payload...)
}

// DecodeFrame splits a frame into its message-type tag and payload.
func DecodeFrame(frame []byte) (uint64, []byte, error) {
	messageType, read := binary.Uvarint(frame)
	if read <= 0 {
		return 0, nil, ErrTruncatedFrame
	}
	if messageType != MessageSync && messageType != MessageAwareness {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, messageType)
	}
	return messageType, frame[read:], nil
}
