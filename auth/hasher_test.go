package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultAlgorithm, h.algorithm)
	assert.Equal(t, DefaultIterations, h.iterations)

	_, err = NewHasher("md5", 10)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestHasher_HashVerify(t *testing.T) {
	for _, alg := range []string{AlgorithmSHA1, AlgorithmSHA256} {
		t.Run(alg, func(t *testing.T) {
			h, err := NewHasher(alg, 1000)
			require.NoError(t, err)

			d, err := h.Hash("pw1")
			require.NoError(t, err)
			assert.Equal(t, alg, d.Algorithm)
			assert.Equal(t, 1000, d.Iterations)

			ok, err := h.Verify("pw1", d)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.Verify("pw2", d)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestHasher_SaltIsRandom(t *testing.T) {
	h, err := NewHasher(AlgorithmSHA256, 10)
	require.NoError(t, err)

	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestHasher_VerifiesOlderParameters(t *testing.T) {
	legacy, err := NewHasher(AlgorithmSHA1, 1000)
	require.NoError(t, err)
	d, err := legacy.Hash("pw")
	require.NoError(t, err)

	current, err := NewHasher(AlgorithmSHA256, 5000)
	require.NoError(t, err)

	ok, err := current.Verify("pw", d)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasher_VerifyBadDigest(t *testing.T) {
	h, err := NewHasher("", 10)
	require.NoError(t, err)
	good, err := h.Hash("pw")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Digest)
		want   error
	}{
		{"algorithm", func(d *Digest) { d.Algorithm = "crc" }, ErrUnknownAlgorithm},
		{"iterations", func(d *Digest) { d.Iterations = 0 }, ErrBadDigest},
		{"salt", func(d *Digest) { d.Salt = "!!" }, ErrBadDigest},
		{"hash", func(d *Digest) { d.Hash = "" }, ErrBadDigest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := good
			tt.mutate(&d)
			_, err := h.Verify("pw", d)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDigest_StringParse(t *testing.T) {
	d := Digest{Algorithm: "sha1", Iterations: 1000, Salt: "c2FsdA==", Hash: "aGFzaA=="}
	assert.Equal(t, "sha1:1000:c2FsdA==:aGFzaA==", d.String())

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	for _, bad := range []string{"", "sha1:1000:salt", "sha1:x:s:h", "sha1:-1:s:h"} {
		_, err := ParseDigest(bad)
		assert.ErrorIs(t, err, ErrBadDigest, bad)
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "already_exists", AlreadyExists.String())
	assert.Equal(t, "invalid_credentials", InvalidCredentials.String())
	assert.Equal(t, "store_unavailable", StoreUnavailable.String())
	assert.Equal(t, "status_9", Status(9).String())
	assert.True(t, Success.OK())
	assert.False(t, StoreUnavailable.OK())
}
