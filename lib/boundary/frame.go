// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/retrieval/lib/codec"
)

// MaxMessageSize caps a single boundary message. Requests and results
// are small metadata structs; 1 MiB leaves room for long URLs and
// detail strings while bounding what a misbehaving peer can make the
// loop allocate.
const MaxMessageSize = 1 << 20

// FrameErrorKind classifies boundary framing failures.
type FrameErrorKind int

const (
	// FrameErrorPartial: the stream ended inside a length prefix or
	// message body.
	FrameErrorPartial FrameErrorKind = iota

	// FrameErrorOversize: a length prefix declared more than
	// MaxMessageSize bytes.
	FrameErrorOversize

	// FrameErrorDecode: a complete frame arrived but its payload is
	// not a decodable message.
	FrameErrorDecode
)

// String returns the kind's contract name.
func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorOversize:
		return "oversize"
	case FrameErrorDecode:
		return "decode"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// FrameError is a boundary framing failure.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the stream is unusable after this error.
// Partial and oversize frames lose length-prefix alignment; a decode
// failure leaves the stream positioned at the next frame.
func (e *FrameError) IsFatal() bool {
	return e.Kind != FrameErrorDecode
}

// WriteMessage encodes v as deterministic CBOR and writes it with a
// 4-byte big-endian length prefix.
func WriteMessage(w io.Writer, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return &FrameError{
			Kind: FrameErrorOversize,
			Msg:  fmt.Sprintf("message size %d exceeds maximum %d", len(data), MaxMessageSize),
		}
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its raw
// payload without decoding it. Returns io.EOF when the stream ends
// cleanly on a frame boundary; any other failure is a *FrameError.
// Used by "retrieval boundary decode" to inspect frames without
// committing to a message type.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "reading message length", Err: err}
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > MaxMessageSize {
		return nil, &FrameError{
			Kind: FrameErrorOversize,
			Msg:  fmt.Sprintf("message size %d exceeds maximum %d", length, MaxMessageSize),
		}
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "reading message body", Err: err}
	}
	return data, nil
}

// ReadMessage reads one length-prefixed message and decodes it into v.
// Returns io.EOF when the stream ends cleanly on a frame boundary;
// any other failure is a *FrameError.
func ReadMessage(r io.Reader, v any) error {
	data, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "decoding message", Err: err}
	}
	return nil
}
