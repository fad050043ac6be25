package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Supported digest algorithm tags.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
)

const (
	DefaultAlgorithm  = AlgorithmSHA256
	DefaultIterations = 10000
	SaltBytes         = 24
	KeyBytes          = 24
)

var (
	ErrUnknownAlgorithm = errors.New("auth: unknown hash algorithm")
	ErrBadDigest        = errors.New("auth: malformed password digest")
)

// Digest is a PBKDF2 password hash with the parameters needed to verify it.
type Digest struct {
	Algorithm  string
	Iterations int
	Salt       string
	Hash       string
}

// String encodes d as "algorithm:iterations:salt:hash".
func (d Digest) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", d.Algorithm, d.Iterations, d.Salt, d.Hash)
}

// ParseDigest decodes the output of Digest.String.
func ParseDigest(s string) (Digest, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Digest{}, ErrBadDigest
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return Digest{}, ErrBadDigest
	}

	return Digest{Algorithm: parts[0], Iterations: iterations, Salt: parts[2], Hash: parts[3]}, nil
}

// Hasher derives and checks PBKDF2 password digests. Existing digests are
// verified with the parameters they carry, so changing the defaults does not
// lock out older accounts.
type Hasher struct {
	algorithm  string
	iterations int
}

// NewHasher creates a Hasher for new digests.
//
// Parameters:
//   - algorithm: AlgorithmSHA1 or AlgorithmSHA256; DefaultAlgorithm when empty
//   - iterations: PBKDF2 rounds; DefaultIterations when not positive
//
// Returns:
//   - The Hasher, or ErrUnknownAlgorithm
func NewHasher(algorithm string, iterations int) (*Hasher, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}

	if _, err := hashFunc(algorithm); err != nil {
		return nil, err
	}

	if iterations <= 0 {
		iterations = DefaultIterations
	}

	return &Hasher{algorithm: algorithm, iterations: iterations}, nil
}

// Hash derives a digest of password under a fresh random salt.
func (h *Hasher) Hash(password string) (Digest, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return Digest{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	fn, _ := hashFunc(h.algorithm)
	key := pbkdf2.Key([]byte(password), salt, h.iterations, KeyBytes, fn)

	return Digest{
		Algorithm:  h.algorithm,
		Iterations: h.iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Hash:       base64.StdEncoding.EncodeToString(key),
	}, nil
}

// Verify reports whether password matches d. The comparison runs in
// constant time.
//
// Returns:
//   - true on a match
//   - ErrUnknownAlgorithm or ErrBadDigest when d cannot be evaluated
func (h *Hasher) Verify(password string, d Digest) (bool, error) {
	fn, err := hashFunc(d.Algorithm)
	if err != nil {
		return false, err
	}

	if d.Iterations <= 0 {
		return false, ErrBadDigest
	}

	salt, err := base64.StdEncoding.DecodeString(d.Salt)
	if err != nil {
		return false, fmt.Errorf("%w: salt: %v", ErrBadDigest, err)
	}

	want, err := base64.StdEncoding.DecodeString(d.Hash)
	if err != nil || len(want) == 0 {
		return false, fmt.Errorf("%w: hash", ErrBadDigest)
	}

	got := pbkdf2.Key([]byte(password), salt, d.Iterations, len(want), fn)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case AlgorithmSHA1:
		return sha1.New, nil
	case AlgorithmSHA256:
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}
