// Package framing delimits a byte stream into discrete messages. A Framer
// appends framing to outbound payloads and extracts every complete payload
// from an accumulated inbound buffer, leaving any partial tail in place.
package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultTerminator is the end-of-message marker written after every payload
// by the delimiter framer.
var DefaultTerminator = []byte("<EOF>")

const (
	// KindDelimiter selects DelimiterFramer.
	KindDelimiter = "delimiter"

	// KindLength selects LengthPrefixFramer.
	KindLength = "length"

	lengthPrefixSize = 4
)

var (
	// ErrTerminatorInPayload is returned by DelimiterFramer.Append when the
	// payload itself contains the terminator and would be mis-split on receipt.
	ErrTerminatorInPayload = errors.New("framing: payload contains terminator")

	// ErrFrameTooLarge is returned when a length-prefixed frame exceeds the
	// configured maximum.
	ErrFrameTooLarge = errors.New("framing: frame too large")
)

// Framer frames outbound payloads and extracts inbound ones.
type Framer interface {
	// Append writes payload followed (or preceded) by its framing to dst.
	//
	// Parameters:
	//   - dst: The slice to append to; may be nil
	//   - payload: The bytes to frame
	//
	// Returns:
	//   - dst extended with the framed payload
	//   - An error if the payload cannot be framed
	Append(dst, payload []byte) ([]byte, error)

	// Extract scans buf left to right and returns every complete payload in
	// order, plus the trailing bytes that do not yet form a complete frame.
	// Both frames and rest alias buf.
	//
	// Parameters:
	//   - buf: The accumulated inbound bytes
	//
	// Returns:
	//   - The complete payloads found, in stream order
	//   - The unconsumed tail of buf
	//   - An error if buf holds a frame that can never be valid
	Extract(buf []byte) (frames [][]byte, rest []byte, err error)

	// Overhead returns the number of framing bytes added to every payload.
	Overhead() int
}

// New returns the framer selected by kind.
//
// Parameters:
//   - kind: KindDelimiter or KindLength
//   - maxFrame: Largest payload accepted by the length framer
//
// Returns:
//   - The framer
//   - An error for an unknown kind
func New(kind string, maxFrame int) (Framer, error) {
	switch kind {
	case KindDelimiter, "":
		return NewDelimiterFramer(DefaultTerminator), nil
	case KindLength:
		return NewLengthPrefixFramer(maxFrame), nil
	default:
		return nil, fmt.Errorf("framing: unknown framer %q", kind)
	}
}

// DelimiterFramer terminates every payload with a fixed byte sequence. The
// sequence is not escaped, so inbound payloads containing it are split at
// the first occurrence; Append refuses to produce such payloads.
type DelimiterFramer struct {
	terminator []byte
}

// NewDelimiterFramer creates a DelimiterFramer using a copy of terminator.
// It panics if terminator is empty.
func NewDelimiterFramer(terminator []byte) *DelimiterFramer {
	if len(terminator) == 0 {
		panic("framing: empty terminator")
	}

	return &DelimiterFramer{terminator: bytes.Clone(terminator)}
}

// Terminator returns the end-of-message marker.
func (f *DelimiterFramer) Terminator() []byte {
	return f.terminator
}

// Append implements Framer.
func (f *DelimiterFramer) Append(dst, payload []byte) ([]byte, error) {
	if bytes.Contains(payload, f.terminator) {
		return dst, ErrTerminatorInPayload
	}

	dst = append(dst, payload...)
	return append(dst, f.terminator...), nil
}

// Extract implements Framer. It never fails: bytes without a terminator are
// simply left in rest.
func (f *DelimiterFramer) Extract(buf []byte) ([][]byte, []byte, error) {
	var frames [][]byte
	for {
		idx := bytes.Index(buf, f.terminator)
		if idx < 0 {
			return frames, buf, nil
		}

		frames = append(frames, buf[:idx:idx])
		buf = buf[idx+len(f.terminator):]
	}
}

// Overhead implements Framer.
func (f *DelimiterFramer) Overhead() int {
	return len(f.terminator)
}

// LengthPrefixFramer precedes every payload with its length as a 4-byte
// big-endian integer.
type LengthPrefixFramer struct {
	maxFrame int
}

// NewLengthPrefixFramer creates a LengthPrefixFramer rejecting payloads over
// maxFrame bytes. A non-positive maxFrame disables the limit.
func NewLengthPrefixFramer(maxFrame int) *LengthPrefixFramer {
	return &LengthPrefixFramer{maxFrame: maxFrame}
}

// Append implements Framer.
func (f *LengthPrefixFramer) Append(dst, payload []byte) ([]byte, error) {
	if f.maxFrame > 0 && len(payload) > f.maxFrame {
		return dst, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), f.maxFrame)
	}

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// Extract implements Framer.
func (f *LengthPrefixFramer) Extract(buf []byte) ([][]byte, []byte, error) {
	var frames [][]byte
	for len(buf) >= lengthPrefixSize {
		n := int(binary.BigEndian.Uint32(buf))
		if f.maxFrame > 0 && n > f.maxFrame {
			return frames, buf, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, f.maxFrame)
		}

		if len(buf) < lengthPrefixSize+n {
			break
		}

		end := lengthPrefixSize + n
		frames = append(frames, buf[lengthPrefixSize:end:end])
		buf = buf[end:]
	}

	return frames, buf, nil
}

// Overhead implements Framer.
func (f *LengthPrefixFramer) Overhead() int {
	return lengthPrefixSize
}
