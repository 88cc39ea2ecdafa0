// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SumSize is the digest length in bytes. All supported algorithms
// produce 256-bit sums.
const SumSize = 32

// Algorithm identifies the hash algorithm of a digest. The zero value
// is invalid, so a zero Digest can never verify anything. Algorithms
// are identified by name everywhere they are serialized (contract
// frames, spool index, config) — the numeric values are internal and
// carry no compatibility weight.
type Algorithm uint8

const (
	// AlgorithmSHA256 is SHA-256 from the standard library.
	AlgorithmSHA256 Algorithm = 1

	// AlgorithmBLAKE3 is BLAKE3 with a 256-bit output. The default
	// algorithm for new digests.
	AlgorithmBLAKE3 Algorithm = 2

	// AlgorithmBLAKE2b is BLAKE2b-256.
	AlgorithmBLAKE2b Algorithm = 3
)

// String returns the lowercase algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmSHA256:
		return "sha256"
	case AlgorithmBLAKE3:
		return "blake3"
	case AlgorithmBLAKE2b:
		return "blake2b"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses an algorithm from its lowercase name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "sha256":
		return AlgorithmSHA256, nil
	case "blake3":
		return AlgorithmBLAKE3, nil
	case "blake2b":
		return AlgorithmBLAKE2b, nil
	default:
		return 0, fmt.Errorf("unknown digest algorithm: %q", name)
	}
}

// Digest is an algorithm-tagged 32-byte content digest. The zero value
// is the absent digest: it has no algorithm, formats as the empty
// string, and never compares equal to any computed digest.
type Digest struct {
	algorithm Algorithm
	sum       [SumSize]byte
}

// FromSum constructs a Digest from an algorithm tag and a raw sum.
func FromSum(algorithm Algorithm, sum [SumSize]byte) Digest {
	return Digest{algorithm: algorithm, sum: sum}
}

// Parse parses the canonical "<algorithm>:<hex>" text form.
func Parse(text string) (Digest, error) {
	name, hexSum, ok := strings.Cut(text, ":")
	if !ok {
		return Digest{}, fmt.Errorf("digest %q: missing algorithm prefix", text)
	}
	algorithm, err := ParseAlgorithm(name)
	if err != nil {
		return Digest{}, fmt.Errorf("digest %q: %w", text, err)
	}
	decoded, err := hex.DecodeString(hexSum)
	if err != nil {
		return Digest{}, fmt.Errorf("digest %q: %w", text, err)
	}
	if len(decoded) != SumSize {
		return Digest{}, fmt.Errorf("digest %q: sum is %d bytes, want %d", text, len(decoded), SumSize)
	}
	var sum [SumSize]byte
	copy(sum[:], decoded)
	return Digest{algorithm: algorithm, sum: sum}, nil
}

// Algorithm returns the digest's algorithm tag.
func (d Digest) Algorithm() Algorithm { return d.algorithm }

// Sum returns the raw 32-byte sum.
func (d Digest) Sum() [SumSize]byte { return d.sum }

// IsZero reports whether d is the absent digest.
func (d Digest) IsZero() bool { return d.algorithm == 0 }

// Equal reports byte-exact equality: same algorithm, same sum. The
// comparison is not constant-time — digests are public identities,
// not secrets.
func (d Digest) Equal(other Digest) bool {
	return d.algorithm == other.algorithm && d.sum == other.sum
}

// String returns the canonical "<algorithm>:<hex>" form, or the empty
// string for the zero digest.
func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return d.algorithm.String() + ":" + hex.EncodeToString(d.sum[:])
}

// MarshalText implements encoding.TextMarshaler using the canonical
// text form. The zero digest marshals as the empty string.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The empty string
// unmarshals as the zero digest.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
