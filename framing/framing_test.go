package framing

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func framers() map[string]Framer {
	return map[string]Framer{
		KindDelimiter: NewDelimiterFramer(DefaultTerminator),
		KindLength:    NewLengthPrefixFramer(1 << 16),
	}
}

// accumulate feeds chunks through a fixed buffer the way a connection does:
// append the read, extract, move the tail to the front.
func accumulate(t *testing.T, f Framer, chunks ...[]byte) ([][]byte, []byte) {
	t.Helper()
	buf := make([]byte, 0, 4096)
	var out [][]byte
	for _, c := range chunks {
		buf = append(buf, c...)
		frames, rest, err := f.Extract(buf)
		require.NoError(t, err)
		for _, fr := range frames {
			out = append(out, bytes.Clone(fr))
		}
		buf = append(buf[:0], rest...)
	}
	return out, buf
}

func TestNew(t *testing.T) {
	f, err := New(KindDelimiter, 0)
	require.NoError(t, err)
	assert.IsType(t, &DelimiterFramer{}, f)

	f, err = New("", 0)
	require.NoError(t, err)
	assert.IsType(t, &DelimiterFramer{}, f)

	f, err = New(KindLength, 10)
	require.NoError(t, err)
	assert.IsType(t, &LengthPrefixFramer{}, f)

	_, err = New("morse", 0)
	assert.Error(t, err)
}

func TestFramer_ExtractAppendIdentity(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{0x00, 0x01, 0xFE, 0xFF},
		bytes.Repeat([]byte{'x'}, 1000),
	}

	for name, f := range framers() {
		t.Run(name, func(t *testing.T) {
			for _, p := range payloads {
				framed, err := f.Append(nil, p)
				require.NoError(t, err)
				assert.Len(t, framed, len(p)+f.Overhead())

				frames, rest, err := f.Extract(framed)
				require.NoError(t, err)
				require.Len(t, frames, 1)
				assert.Equal(t, p, frames[0])
				assert.Empty(t, rest)
			}
		})
	}
}

func TestFramer_SplitReassembly(t *testing.T) {
	payload := []byte("split me anywhere, the framer must not care")

	for name, f := range framers() {
		t.Run(name, func(t *testing.T) {
			framed, err := f.Append(nil, payload)
			require.NoError(t, err)

			for cut := 0; cut <= len(framed); cut++ {
				out, rest := accumulate(t, f, framed[:cut], framed[cut:])
				require.Len(t, out, 1, "cut at %d", cut)
				assert.Equal(t, payload, out[0])
				assert.Empty(t, rest)
			}
		})
	}
}

func TestFramer_MergedFrames(t *testing.T) {
	for name, f := range framers() {
		t.Run(name, func(t *testing.T) {
			a, err := f.Append(nil, []byte("first"))
			require.NoError(t, err)
			both, err := f.Append(a, []byte("second"))
			require.NoError(t, err)

			frames, rest, err := f.Extract(both)
			require.NoError(t, err)
			require.Len(t, frames, 2)
			assert.Equal(t, []byte("first"), frames[0])
			assert.Equal(t, []byte("second"), frames[1])
			assert.Empty(t, rest)
		})
	}
}

func TestFramer_RandomChunking(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for name, f := range framers() {
		t.Run(name, func(t *testing.T) {
			var want [][]byte
			var stream []byte
			for i := 0; i < 50; i++ {
				p := make([]byte, 1+rng.Intn(64))
				for j := range p {
					p[j] = byte('a' + rng.Intn(26))
				}
				want = append(want, p)
				var err error
				stream, err = f.Append(stream, p)
				require.NoError(t, err)
			}

			var chunks [][]byte
			for len(stream) > 0 {
				n := 1 + rng.Intn(40)
				if n > len(stream) {
					n = len(stream)
				}
				chunks = append(chunks, stream[:n])
				stream = stream[n:]
			}

			got, rest := accumulate(t, f, chunks...)
			assert.Equal(t, want, got)
			assert.Empty(t, rest)
		})
	}
}

func TestDelimiterFramer(t *testing.T) {
	f := NewDelimiterFramer(DefaultTerminator)

	t.Run("partial terminator stays in rest", func(t *testing.T) {
		frames, rest, err := f.Extract([]byte("abc<EO"))
		require.NoError(t, err)
		assert.Empty(t, frames)
		assert.Equal(t, []byte("abc<EO"), rest)
	})

	t.Run("append refuses embedded terminator", func(t *testing.T) {
		dst := []byte("keep")
		out, err := f.Append(dst, []byte("a<EOF>b"))
		assert.ErrorIs(t, err, ErrTerminatorInPayload)
		assert.Equal(t, []byte("keep"), out)
	})

	t.Run("frames are capped at their own length", func(t *testing.T) {
		frames, _, err := f.Extract([]byte("ab<EOF>cd<EOF>"))
		require.NoError(t, err)
		require.Len(t, frames, 2)
		assert.Equal(t, 2, cap(frames[0]))
	})

	t.Run("back to back terminators give empty frame", func(t *testing.T) {
		frames, rest, err := f.Extract([]byte("<EOF><EOF>"))
		require.NoError(t, err)
		assert.Len(t, frames, 2)
		assert.Empty(t, frames[0])
		assert.Empty(t, rest)
	})

	t.Run("empty terminator panics", func(t *testing.T) {
		assert.Panics(t, func() { NewDelimiterFramer(nil) })
	})
}

func TestLengthPrefixFramer(t *testing.T) {
	f := NewLengthPrefixFramer(8)

	t.Run("append rejects oversized payload", func(t *testing.T) {
		_, err := f.Append(nil, bytes.Repeat([]byte{1}, 9))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("extract rejects oversized header", func(t *testing.T) {
		_, _, err := f.Extract([]byte{0, 0, 1, 0, 'x'})
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("short header waits for more bytes", func(t *testing.T) {
		frames, rest, err := f.Extract([]byte{0, 0})
		require.NoError(t, err)
		assert.Empty(t, frames)
		assert.Len(t, rest, 2)
	})

	t.Run("payload containing terminator is fine", func(t *testing.T) {
		framed, err := f.Append(nil, []byte("a<EOF>"))
		require.NoError(t, err)
		frames, _, err := f.Extract(framed)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, []byte("a<EOF>"), frames[0])
	})
}
