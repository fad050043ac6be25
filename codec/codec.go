// Package codec turns protocol messages into wire frames and back:
// frame = FRAME(DEFLATE(SERIALIZE(message))).
package codec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"sync"

	"github.com/cyberinferno/gemcarry/framing"
	"github.com/cyberinferno/gemcarry/message"
)

// MaxInflatedSize bounds the decompressed size of a single payload.
const MaxInflatedSize = 1 << 20

// ErrPayloadTooLarge is returned when a payload inflates past MaxInflatedSize.
// It matches message.ErrMalformed under errors.Is.
var ErrPayloadTooLarge = fmt.Errorf("%w: inflated payload too large", message.ErrMalformed)

// Codec compresses, serializes and frames messages. It is safe for
// concurrent use; flate writers and scratch buffers are pooled.
type Codec struct {
	framer  framing.Framer
	level   int
	writers sync.Pool
	buffers sync.Pool
}

// New creates a Codec.
//
// Parameters:
//   - framer: The framer used for outbound frames
//   - level: The flate compression level (flate.NoCompression..flate.BestCompression,
//     flate.DefaultCompression or flate.HuffmanOnly)
//
// Returns:
//   - The new Codec
//   - An error if level is invalid
func New(framer framing.Framer, level int) (*Codec, error) {
	if _, err := flate.NewWriter(io.Discard, level); err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	c := &Codec{framer: framer, level: level}
	c.writers.New = func() any {
		w, _ := flate.NewWriter(io.Discard, c.level)
		return w
	}
	c.buffers.New = func() any {
		return new(bytes.Buffer)
	}

	return c, nil
}

// Framer returns the framer used by the codec.
func (c *Codec) Framer() framing.Framer {
	return c.framer
}

// EncodePayload serializes and compresses m into a frame payload.
func (c *Codec) EncodePayload(m message.Message) ([]byte, error) {
	raw, err := message.Marshal(m)
	if err != nil {
		return nil, err
	}

	buf := c.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.buffers.Put(buf)

	w := c.writers.Get().(*flate.Writer)
	defer c.writers.Put(w)
	w.Reset(buf)

	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: compress: %w", err)
	}

	return bytes.Clone(buf.Bytes()), nil
}

// DecodePayload decompresses and deserializes a frame payload.
//
// Returns:
//   - The decoded message; unknown type tags decode to *message.Unknown
//   - message.ErrMalformed for corrupt compression or envelopes,
//     ErrPayloadTooLarge for oversized payloads
func (c *Codec) DecodePayload(payload []byte) (message.Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", message.ErrMalformed)
	}

	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()

	buf := c.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.buffers.Put(buf)

	n, err := buf.ReadFrom(io.LimitReader(r, MaxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", message.ErrMalformed, err)
	}
	if n > MaxInflatedSize {
		return nil, ErrPayloadTooLarge
	}

	return message.Unmarshal(buf.Bytes())
}

// Frame appends the framed payload to dst.
func (c *Codec) Frame(dst, payload []byte) ([]byte, error) {
	return c.framer.Append(dst, payload)
}

// EncodeFrame produces the complete wire bytes for m.
func (c *Codec) EncodeFrame(m message.Message) ([]byte, error) {
	payload, err := c.EncodePayload(m)
	if err != nil {
		return nil, err
	}

	return c.framer.Append(make([]byte, 0, len(payload)+c.framer.Overhead()), payload)
}
