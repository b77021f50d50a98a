// Package hashing computes stable content digests over typed values and byte
// payloads. Digests are the identity for memoization keys, cache entries, and
// the content-addressed store: two values with equal digests are treated as
// the same value everywhere in the engine.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainParams  = "pants/params/v1"
	DomainValue   = "pants/value/v1"
	DomainBlob    = "pants/blob/v1"
	DomainProcess = "pants/process/v1"
)

// Digest is a SHA-256 content hash. The zero Digest is reserved and never
// produced by hashing; it marks "no value yet" on a graph node.
type Digest [sha256.Size]byte

// Zero reports whether d is the reserved zero digest.
func (d Digest) Zero() bool {
	return d == Digest{}
}

// String returns the full lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns a 12-character hex prefix for logs and error messages.
func (d Digest) Short() string {
	return d.String()[:12]
}

// Parse decodes a 64-character hex string into a Digest.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(sha256.Size) {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", hex.EncodedLen(sha256.Size), len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	copy(d[:], b)
	return d, nil
}

// OfBytes computes the digest of raw bytes with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func OfBytes(domain string, data []byte) Digest {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// OfValue computes the digest of a structured value via canonical encoding.
// Returns an error if the value contains types the canonical form forbids
// (floats, nil).
func OfValue(domain string, v any) (Digest, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return Digest{}, fmt.Errorf("OfValue: %w", err)
	}
	return OfBytes(domain, canonical), nil
}
