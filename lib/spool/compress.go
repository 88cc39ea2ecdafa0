// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how a stored payload is encoded. The tag
// is the first byte of every payload file — these values are format
// constants, changing them breaks existing spool directories.
type CompressionTag uint8

const (
	// CompressionNone: the payload bytes follow the tag unchanged.
	// Used for configured-off compression and as the fallback when
	// compressed output is not smaller than the input
	// (already-compressed content: archives, media, ciphertext).
	CompressionNone CompressionTag = 0

	// CompressionLZ4: LZ4 frame stream. Cheap to decode, modest
	// ratios; the choice when spool reads dominate.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd: zstd stream at the default level. Better
	// ratios on text-like content at decode speeds that still beat
	// the network.
	CompressionZstd CompressionTag = 2
)

// String returns the tag's configuration name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompressionTag parses a configuration name into a tag.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// newEncoder returns a stream encoder for the tag writing to w. The
// caller must Close it to flush; the underlying writer is left open.
func newEncoder(w io.Writer, tag CompressionTag) (io.WriteCloser, error) {
	switch tag {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// newDecoder returns a stream decoder for the tag reading from r,
// plus a release function for the decoder's resources. Closing the
// underlying reader remains the caller's job.
func newDecoder(r io.Reader, tag CompressionTag) (io.Reader, func(), error) {
	switch tag {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return decoder, decoder.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
