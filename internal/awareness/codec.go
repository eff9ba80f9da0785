package awareness

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedUpdate indicates a presence delta that does not decode.
var ErrMalformedUpdate = errors.New("awareness: malformed update")

const maxPayloadBytes = 1 << 16

// Entry is one presence record on the wire: a zero-length payload marks a
// removal.
type Entry struct {
	ClientID uint64
	Clock    uint64
	Payload  []byte
}

// EncodeEntries serializes presence records into an update payload.
// Wire format: varint entry count, then per entry varint client id,
// varint clock, varint payload length, payload bytes.
func EncodeEntries(entries ...Entry) []byte {
	update := binary.AppendUvarint(nil, uint64(len(entries)))
	for _, entry := range entries {
		update = binary.AppendUvarint(update, entry.ClientID)
		update = binary.AppendUvarint(update, entry.Clock)
		update = binary.AppendUvarint(update, uint64(len(entry.Payload)))
		update = append(update, entry.Payload...)
	}
	return update
}

// DecodeEntries parses an update payload into presence records.
func DecodeEntries(update []byte) ([]Entry, error) {
	count, offset := readUvarint(update, 0)
	if offset < 0 {
		return nil, fmt.Errorf("%w: missing entry count", ErrMalformedUpdate)
	}
	// An entry occupies at least three bytes on the wire, which bounds any
	// honest count before a slice for it is allocated.
	if count > uint64(len(update)-offset)/3 {
		return nil, fmt.Errorf("%w: entry count exceeds buffer", ErrMalformedUpdate)
	}

	entries := make([]Entry, 0, count)
	for index := uint64(0); index < count; index++ {
		clientID, next := readUvarint(update, offset)
		if next < 0 {
			return nil, fmt.Errorf("%w: truncated client id", ErrMalformedUpdate)
		}
		clock, afterClock := readUvarint(update, next)
		if afterClock < 0 {
			return nil, fmt.Errorf("%w: truncated clock", ErrMalformedUpdate)
		}
		payloadLength, afterLength := readUvarint(update, afterClock)
		if afterLength < 0 || payloadLength > maxPayloadBytes {
			return nil, fmt.Errorf("%w: invalid payload length", ErrMalformedUpdate)
		}
		end := afterLength + int(payloadLength)
		if end > len(update) {
			return nil, fmt.Errorf("%w: truncated payload", ErrMalformedUpdate)
		}
		payload := make([]byte, payloadLength)
		copy(payload, update[afterLength:end])
		entries = append(entries, Entry{ClientID: clientID, Clock: clock, Payload: payload})
		offset = end
	}
	return entries, nil
}

func readUvarint(buffer []byte, offset int) (uint64, int) {
	if offset >= len(buffer) {
		return 0, -1
	}
	value, read := binary.Uvarint(buffer[offset:])
	if read <= 0 {
		return 0, -1
	}
	return value, offset + read
}
