// Package checksum normalizes item text and computes the tagged content
// digests used for duplicate detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"unicode/utf16"
)

// Algorithm identifies the function that produced a digest.
type Algorithm int

const (
	// None marks an item that has not been hashed yet.
	None Algorithm = iota
	// SHA256 is the primary algorithm (persisted hash_version 1).
	SHA256
	// Fallback32 is the non-cryptographic 32-bit accumulator
	// (persisted hash_version 2).
	Fallback32
)

func (a Algorithm) String() string {
	switch a {
	case SHA256:
		return "sha256"
	case Fallback32:
		return "fallback32"
	default:
		return "none"
	}
}

// Digest is a content hash tagged with the algorithm that produced it.
// Digests of different algorithms never compare equal.
type Digest struct {
	Algorithm Algorithm
	Value     string
}

// Version returns the persisted hash_version for the digest.
func (d Digest) Version() int {
	return int(d.Algorithm)
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d.Algorithm == None || d.Value == ""
}

// Matches reports whether d and other were produced by the same algorithm
// over the same normalized content.
func (d Digest) Matches(other Digest) bool {
	if d.IsZero() || other.IsZero() {
		return false
	}
	return d.Algorithm == other.Algorithm && d.Value == other.Value
}

// DigestFrom rebuilds a digest from persisted fields. Unknown versions yield
// the zero digest.
func DigestFrom(version int, value string) Digest {
	switch Algorithm(version) {
	case SHA256, Fallback32:
		if value == "" {
			return Digest{}
		}
		return Digest{Algorithm: Algorithm(version), Value: value}
	default:
		return Digest{}
	}
}

// Normalize returns the canonical comparison form of text: surrounding
// whitespace trimmed and every run of whitespace (newlines included)
// collapsed to a single space. It is idempotent.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeValue normalizes an untyped value. Anything that is not a string
// normalizes to "".
func NormalizeValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Normalize(s)
}

// Hasher computes digests of normalized content.
type Hasher struct {
	newHash func() hash.Hash
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithoutCrypto builds a hasher that has no cryptographic primitive and
// always produces Fallback32 digests.
func WithoutCrypto() HasherOption {
	return func(h *Hasher) {
		h.newHash = nil
	}
}

// WithPrimitive replaces the SHA-256 constructor. A nil constructor is the
// same as WithoutCrypto.
func WithPrimitive(fn func() hash.Hash) HasherOption {
	return func(h *Hasher) {
		h.newHash = fn
	}
}

// NewHasher returns a SHA-256 hasher.
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{newHash: sha256.New}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Sum hashes already-normalized text. ok is false for empty input.
func (h *Hasher) Sum(normalized string) (d Digest, ok bool) {
	if normalized == "" {
		return Digest{}, false
	}
	if h == nil || h.newHash == nil {
		return Digest{Algorithm: Fallback32, Value: fallback32(normalized)}, true
	}
	value, err := h.cryptoSum(normalized)
	if err != nil {
		return Digest{Algorithm: Fallback32, Value: fallback32(normalized)}, true
	}
	return Digest{Algorithm: SHA256, Value: value}, true
}

// SumContent normalizes raw content and hashes it.
func (h *Hasher) SumContent(content string) (Digest, bool) {
	return h.Sum(Normalize(content))
}

func (h *Hasher) cryptoSum(s string) (value string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("checksum: hash primitive: %v", r)
		}
	}()
	hh := h.newHash()
	if _, err := hh.Write([]byte(s)); err != nil {
		return "", err
	}
	return hex.EncodeToString(hh.Sum(nil)), nil
}

// fallback32 is h = h*31 + c over UTF-16 code units with 32-bit wraparound,
// rendered as 8 lowercase hex digits of the unsigned value.
func fallback32(s string) string {
	var acc int32
	for _, unit := range utf16.Encode([]rune(s)) {
		acc = (acc << 5) - acc + int32(unit)
	}
	return fmt.Sprintf("%08x", uint32(acc))
}
