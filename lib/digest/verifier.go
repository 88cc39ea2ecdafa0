// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// MismatchError reports a failed verification. It carries both digests
// so the caller can surface the disagreement without re-reading the
// content.
type MismatchError struct {
	// Expected is the digest the content was supposed to have.
	Expected Digest

	// Actual is the digest computed over the bytes that arrived.
	Actual Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Verifier incrementally hashes a byte stream for comparison against
// an expected digest. It implements io.Writer; Write never returns an
// error (hash functions cannot fail mid-stream), so it can sit in an
// io.MultiWriter without disturbing the data path.
//
// One verifier serves one stream. Sum and Verify may be called once
// the stream is complete; writing after that point is a logic error
// and panics.
type Verifier struct {
	algorithm Algorithm
	hasher    hash.Hash
	count     int64
	finished  bool
}

// New returns a Verifier computing the given algorithm.
func New(algorithm Algorithm) (*Verifier, error) {
	hasher, err := newHasher(algorithm)
	if err != nil {
		return nil, err
	}
	return &Verifier{algorithm: algorithm, hasher: hasher}, nil
}

// Write feeds content bytes into the running digest.
func (v *Verifier) Write(p []byte) (int, error) {
	if v.finished {
		panic("digest: Write after Sum/Verify")
	}
	v.hasher.Write(p)
	v.count += int64(len(p))
	return len(p), nil
}

// ByteCount returns the number of content bytes written so far.
func (v *Verifier) ByteCount() int64 { return v.count }

// Sum finalizes the stream and returns the computed digest.
func (v *Verifier) Sum() Digest {
	v.finished = true
	var sum [SumSize]byte
	copy(sum[:], v.hasher.Sum(nil))
	return Digest{algorithm: v.algorithm, sum: sum}
}

// Verify finalizes the stream and compares the computed digest against
// expected. Returns nil on byte-exact equality and a *MismatchError
// otherwise. An expected digest with a different algorithm than the
// verifier's is a mismatch by construction.
func (v *Verifier) Verify(expected Digest) error {
	actual := v.Sum()
	if !actual.Equal(expected) {
		return &MismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

// Compute streams r through a fresh verifier and returns the digest
// and the number of bytes read.
func Compute(algorithm Algorithm, r io.Reader) (Digest, int64, error) {
	verifier, err := New(algorithm)
	if err != nil {
		return Digest{}, 0, err
	}
	count, err := io.Copy(verifier, r)
	if err != nil {
		return Digest{}, count, fmt.Errorf("hashing stream: %w", err)
	}
	return verifier.Sum(), count, nil
}

// ComputeFile computes the digest of the file at path. The file is
// streamed through the hash function so memory usage is constant
// regardless of file size.
func ComputeFile(algorithm Algorithm, path string) (Digest, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()
	digest, count, err := Compute(algorithm, file)
	if err != nil {
		return Digest{}, count, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, count, nil
}

// newHasher constructs the hash.Hash for an algorithm.
func newHasher(algorithm Algorithm) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmBLAKE3:
		return blake3.New(), nil
	case AlgorithmBLAKE2b:
		// An error is only possible with an oversized key; unkeyed
		// construction cannot fail.
		hasher, err := blake2b.New256(nil)
		if err != nil {
			return nil, fmt.Errorf("blake2b init: %w", err)
		}
		return hasher, nil
	default:
		return nil, fmt.Errorf("unknown digest algorithm: %s", algorithm)
	}
}
