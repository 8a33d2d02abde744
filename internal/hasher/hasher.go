// Package hasher provides the two-tier hashing primitives used by the
// catalogue: a cheap fast fingerprint and a cryptographic strong digest.
package hasher

import (
	"crypto/md5"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/cespare/xxhash/v2"
)

// ByteHasher mixes bytes incrementally and produces a hex digest.
//
// Finalize resets internal state for the next file; the digest returned
// by Digest remains valid until the next Update call.
type ByteHasher interface {
	Update(data []byte)
	Finalize()
	Digest() string
}

// FastDigestSize is the length in hex characters of a Fast digest.
const FastDigestSize = 16

// StrongShortDigestSize is the hex length of the short (MD5) strong digest.
const StrongShortDigestSize = 32

// StrongLongDigestSize is the hex length of the long (SHA-512) strong digest.
const StrongLongDigestSize = 128

// fast wraps a 64-bit non-cryptographic fingerprint (xxHash64). It serves
// only as a cheap discriminator - collisions are expected and handled by
// the lazy-promotion protocol, never treated as proof of duplication.
type fast struct {
	h      *xxhash.Digest
	digest string
}

// NewFast creates a ByteHasher producing 16-hex-char fast fingerprints.
func NewFast() ByteHasher {
	return &fast{h: xxhash.New()}
}

func (f *fast) Update(data []byte) { _, _ = f.h.Write(data) }

func (f *fast) Finalize() {
	sum := f.h.Sum64()
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(sum)
		sum >>= 8
	}
	f.digest = hex.EncodeToString(buf[:])
	f.h.Reset()
}

func (f *fast) Digest() string { return f.digest }

// strong wraps a stdlib cryptographic hash (MD5 or SHA-512), selected by
// the catalogue's strong_algorithm_is_long config flag.
type strong struct {
	new    func() hash.Hash
	h      hash.Hash
	digest string
}

// NewStrongShort creates a ByteHasher producing 32-hex-char (MD5) digests.
func NewStrongShort() ByteHasher {
	s := &strong{new: md5.New}
	s.h = s.new()
	return s
}

// NewStrongLong creates a ByteHasher producing 128-hex-char (SHA-512) digests.
func NewStrongLong() ByteHasher {
	s := &strong{new: sha512.New}
	s.h = s.new()
	return s
}

func (s *strong) Update(data []byte) { _, _ = s.h.Write(data) }

func (s *strong) Finalize() {
	s.digest = hex.EncodeToString(s.h.Sum(nil))
	s.h.Reset()
}

func (s *strong) Digest() string { return s.digest }

// New returns a strong ByteHasher, long (SHA-512) if long is true, else
// short (MD5).
func New(long bool) ByteHasher {
	if long {
		return NewStrongLong()
	}
	return NewStrongShort()
}
