package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFrame(payload string) []byte {
	b := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(b, uint32(len(payload)))
	copy(b[HeaderSize:], payload)
	return b
}

func TestEncode(t *testing.T) {
	t.Run("prefix holds payload length big-endian", func(t *testing.T) {
		frame, err := Encode(map[string]any{"type": "login", "username": "alice"})
		require.NoError(t, err)

		size := binary.BigEndian.Uint32(frame[:HeaderSize])
		assert.Equal(t, len(frame)-HeaderSize, int(size))
		assert.JSONEq(t, `{"type":"login","username":"alice"}`, string(frame[HeaderSize:]))
	})

	t.Run("unmarshalable value returns error", func(t *testing.T) {
		_, err := Encode(map[string]any{"bad": make(chan int)})
		assert.Error(t, err)
	})
}

func TestDecoder_Feed_roundTrip(t *testing.T) {
	messages := []Object{
		{"type": "login", "username": "alice"},
		{"type": "login", "success": true, "users": []any{"bob", "carol"}},
		{"type": "message", "text": "hi", "recipient": "bob"},
		{"type": "message", "sender": "alice", "text": "héllo ✓"},
	}

	for _, m := range messages {
		frame, err := Encode(m)
		require.NoError(t, err)

		frames, err := NewDecoder(0).Feed(frame)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		require.NoError(t, frames[0].Err)
		assert.Equal(t, m, frames[0].Object)
	}
}

func TestDecoder_Feed_partialDelivery(t *testing.T) {
	var stream []byte
	for _, m := range []Object{
		{"type": "login", "username": "alice"},
		{"type": "message", "text": "first"},
		{"type": "message", "text": "second", "recipient": "bob"},
	} {
		frame, err := Encode(m)
		require.NoError(t, err)
		stream = append(stream, frame...)
	}

	whole, err := NewDecoder(0).Feed(stream)
	require.NoError(t, err)
	require.Len(t, whole, 3)

	for _, chunk := range []int{1, 2, 3, 5, 7, 13, len(stream) - 1} {
		d := NewDecoder(0)
		var got []Frame
		for i := 0; i < len(stream); i += chunk {
			end := i + chunk
			if end > len(stream) {
				end = len(stream)
			}
			frames, err := d.Feed(stream[i:end])
			require.NoError(t, err)
			got = append(got, frames...)
		}

		assert.Equal(t, whole, got, "chunk size %d", chunk)
		assert.Zero(t, d.Buffered(), "chunk size %d", chunk)
	}
}

func TestDecoder_Feed_incompleteFrameIsRetained(t *testing.T) {
	frame := rawFrame(`{"type":"login","username":"alice"}`)
	d := NewDecoder(0)

	frames, err := d.Feed(frame[:2])
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, 2, d.Buffered())

	frames, err = d.Feed(frame[2 : len(frame)-1])
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, len(frame)-1, d.Buffered())

	frames, err = d.Feed(frame[len(frame)-1:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "alice", frames[0].Object["username"])
	assert.Zero(t, d.Buffered())
}

func TestDecoder_Feed_malformedPayload(t *testing.T) {
	t.Run("invalid json skips exactly one frame", func(t *testing.T) {
		stream := append(rawFrame(`{"type":`), rawFrame(`{"type":"login","username":"bob"}`)...)

		frames, err := NewDecoder(0).Feed(stream)
		require.NoError(t, err)
		require.Len(t, frames, 2)
		assert.ErrorIs(t, frames[0].Err, ErrInvalidJSON)
		assert.Nil(t, frames[0].Object)
		assert.Equal(t, []byte(`{"type":`), frames[0].Raw)
		require.NoError(t, frames[1].Err)
		assert.Equal(t, "bob", frames[1].Object["username"])
	})

	t.Run("non-object json is rejected", func(t *testing.T) {
		for _, payload := range []string{`[1,2,3]`, `"hello"`, `42`, `true`, `null`} {
			frames, err := NewDecoder(0).Feed(rawFrame(payload))
			require.NoError(t, err)
			require.Len(t, frames, 1)
			assert.ErrorIs(t, frames[0].Err, ErrNotObject, payload)
		}
	})

	t.Run("empty payload is invalid json", func(t *testing.T) {
		frames, err := NewDecoder(0).Feed(rawFrame(""))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.ErrorIs(t, frames[0].Err, ErrInvalidJSON)
	})

	t.Run("trailing garbage after object is invalid", func(t *testing.T) {
		frames, err := NewDecoder(0).Feed(rawFrame(`{"a":1} x`))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.ErrorIs(t, frames[0].Err, ErrInvalidJSON)
	})
}

func TestDecoder_Feed_frameTooLarge(t *testing.T) {
	d := NewDecoder(8)
	stream := append(rawFrame(`{"a":1}`), rawFrame(`{"type":"message"}`)...)

	frames, err := d.Feed(stream)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	require.Len(t, frames, 1)
	assert.Equal(t, float64(1), frames[0].Object["a"])
}
