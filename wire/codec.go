// Package wire implements the relay's framing: every frame is a 4-byte
// big-endian length prefix followed by exactly that many bytes of UTF-8 JSON
// holding a single object.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 4

// DefaultMaxFrameSize bounds the payload a Decoder accepts when no limit is given.
const DefaultMaxFrameSize = 16 * 1024 * 1024

var (
	// ErrInvalidJSON is reported for a complete frame whose payload does not parse.
	ErrInvalidJSON = errors.New("wire: invalid json payload")

	// ErrNotObject is reported for a complete frame holding JSON that is not an object.
	ErrNotObject = errors.New("wire: payload is not a json object")

	// ErrFrameTooLarge is returned by Feed when a length prefix exceeds the
	// decoder limit. The stream cannot be resynchronised after it.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
)

// Object is a decoded JSON object.
type Object = map[string]any

// Frame is the outcome of decoding one complete frame. Exactly one of Object
// and Err is set. Raw always holds the payload bytes.
type Frame struct {
	Object Object
	Raw    []byte
	Err    error
}

// Encode marshals v to JSON and prepends the length prefix.
//
// Parameters:
//   - v: The value to encode; it must marshal to a JSON object
//
// Returns:
//   - The complete frame bytes
//   - An error if v cannot be marshalled or is too large for the prefix
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}

	return EncodePayload(payload)
}

// EncodePayload prepends the length prefix to an already marshalled payload.
func EncodePayload(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Decoder turns a byte stream into frames. It keeps partial frames buffered
// across calls to Feed. A Decoder is not safe for concurrent use; each
// connection owns its own.
type Decoder struct {
	buf      []byte
	maxFrame uint32
}

// NewDecoder creates a Decoder that rejects frames larger than maxFrame bytes.
// A maxFrame of zero selects DefaultMaxFrameSize.
func NewDecoder(maxFrame uint32) *Decoder {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameSize
	}

	return &Decoder{maxFrame: maxFrame}
}

// Feed appends p to the buffered stream and decodes every complete frame now
// available, in arrival order. A frame whose prefix is complete but whose
// payload has not fully arrived stays buffered untouched until a later Feed.
// A malformed payload yields a Frame with Err set and the decoder moves past
// exactly the declared length, so later frames are unaffected.
//
// Parameters:
//   - p: Bytes just read from the stream; p is copied and may be reused
//
// Returns:
//   - The decoded frames, possibly none
//   - ErrFrameTooLarge if a prefix exceeds the limit; frames decoded before it
//     are still returned
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	d.buf = append(d.buf, p...)

	var frames []Frame
	offset := 0
	for {
		rest := d.buf[offset:]
		if len(rest) < HeaderSize {
			break
		}

		size := binary.BigEndian.Uint32(rest)
		if size > d.maxFrame {
			d.compact(offset)
			return frames, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, d.maxFrame)
		}

		end := HeaderSize + int(size)
		if len(rest) < end {
			break
		}

		payload := make([]byte, size)
		copy(payload, rest[HeaderSize:end])
		frames = append(frames, decodePayload(payload))
		offset += end
	}

	d.compact(offset)
	return frames, nil
}

// Buffered reports how many bytes are waiting for the rest of their frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) compact(offset int) {
	if offset == 0 {
		return
	}

	n := copy(d.buf, d.buf[offset:])
	d.buf = d.buf[:n]
}

func decodePayload(payload []byte) Frame {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if json.Valid(trimmed) {
			return Frame{Raw: payload, Err: ErrNotObject}
		}

		return Frame{Raw: payload, Err: ErrInvalidJSON}
	}

	var obj Object
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return Frame{Raw: payload, Err: fmt.Errorf("%w: %v", ErrInvalidJSON, err)}
	}

	return Frame{Object: obj, Raw: payload}
}
