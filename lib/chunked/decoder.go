// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"bufio"
	"fmt"
	"io"
)

// State is the decoder's position in the chunked framing. Exactly one
// state is active at a time; StateDone and StateFailed are terminal.
type State uint8

const (
	// StateSizeLine: reading the hex size line of the next chunk,
	// including any chunk extensions.
	StateSizeLine State = iota

	// StateData: reading declared-size payload bytes.
	StateData

	// StateDataTerminator: expecting the CRLF that closes a chunk's
	// payload.
	StateDataTerminator

	// StateTrailers: after the zero-length chunk, consuming trailer
	// header lines up to the blank-line terminator.
	StateTrailers

	// StateDone: the stream decoded completely. Terminal.
	StateDone

	// StateFailed: the stream ended in a classified error. Terminal.
	StateFailed
)

// String returns the state name for logs and test output.
func (s State) String() string {
	switch s {
	case StateSizeLine:
		return "size-line"
	case StateData:
		return "data"
	case StateDataTerminator:
		return "data-terminator"
	case StateTrailers:
		return "trailers"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Kind classifies a decode failure.
type Kind uint8

const (
	// KindMalformed: the server violated chunked framing syntax.
	KindMalformed Kind = 1 + iota

	// KindTruncated: the byte source ended before the terminal zero
	// chunk.
	KindTruncated

	// KindSizeExceeded: a configured size bound was exceeded.
	KindSizeExceeded
)

// String returns the kind name used in the cross-boundary contract.
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindTruncated:
		return "truncated"
	case KindSizeExceeded:
		return "size-exceeded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Error is a classified decode failure. Offset is the wire offset
// (bytes consumed from the source, starting at zero for the first body
// byte) of the offending byte, or of end-of-stream for truncation.
type Error struct {
	Kind   Kind
	Offset int64
	Detail string

	// Err is the underlying source error, if the failure came from the
	// byte source rather than its content. io.ErrUnexpectedEOF for a
	// clean early EOF.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chunked: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

// Unwrap returns the underlying source error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Default bounds. MaxPayloadSize has no default: zero means unbounded,
// since the per-retrieval ceiling is the caller's policy decision.
const (
	DefaultMaxChunkSize   = 16 << 20 // 16 MiB declared size per chunk
	DefaultMaxLineLength  = 4096     // size line (with extensions) and each trailer line
	DefaultMaxTrailerSize = 16 << 10 // all trailer bytes combined
)

// Limits bounds the decoder against hostile or buggy servers. The
// zero value of each field selects its default; MaxPayloadSize zero
// means unbounded.
type Limits struct {
	// MaxChunkSize caps the declared size of a single chunk.
	MaxChunkSize int64

	// MaxPayloadSize caps the cumulative decoded payload. Checked
	// against the declared size when a size line completes, so an
	// oversized stream fails before its payload is pulled.
	MaxPayloadSize int64

	// MaxLineLength caps the size line (including extensions) and
	// each trailer line.
	MaxLineLength int

	// MaxTrailerSize caps the combined trailer section.
	MaxTrailerSize int
}

func (l Limits) withDefaults() Limits {
	if l.MaxChunkSize == 0 {
		l.MaxChunkSize = DefaultMaxChunkSize
	}
	if l.MaxLineLength == 0 {
		l.MaxLineLength = DefaultMaxLineLength
	}
	if l.MaxTrailerSize == 0 {
		l.MaxTrailerSize = DefaultMaxTrailerSize
	}
	return l
}

// maxHexDigits caps the significant digits of a size line. 16 hex
// digits can already express sizes no configuration permits, so more
// is always a size violation rather than a syntax one.
const maxHexDigits = 16

// Decoder decodes one chunked-encoded byte stream. Create with
// NewDecoder; read decoded payload through Read.
type Decoder struct {
	reader *bufio.Reader
	limits Limits
	state  State
	err    *Error
	srcErr error // source error observed alongside payload, replayed next call

	offset  int64 // wire bytes consumed from the source
	decoded int64 // payload bytes delivered
	frames  int64 // completed data chunks

	chunkRemaining int64 // payload bytes left in the current chunk
	trailerBytes   int   // bytes consumed inside the trailer section
}

// NewDecoder returns a Decoder reading raw wire bytes from r. The
// reader is buffered internally (an existing *bufio.Reader is used
// as-is); the decoder owns r until it reaches a terminal state.
func NewDecoder(r io.Reader, limits Limits) *Decoder {
	buffered, ok := r.(*bufio.Reader)
	if !ok {
		buffered = bufio.NewReader(r)
	}
	return &Decoder{
		reader: buffered,
		limits: limits.withDefaults(),
		state:  StateSizeLine,
	}
}

// State returns the decoder's current state.
func (d *Decoder) State() State { return d.state }

// WireOffset returns the number of raw bytes consumed from the source.
func (d *Decoder) WireOffset() int64 { return d.offset }

// DecodedCount returns the number of payload bytes delivered so far.
func (d *Decoder) DecodedCount() int64 { return d.decoded }

// Frames returns the number of completed data chunks (the terminal
// zero-length chunk is not counted).
func (d *Decoder) Frames() int64 { return d.frames }

// Read returns decoded payload bytes. It returns io.EOF exactly once
// the terminal zero chunk and all trailers have been consumed; any
// other termination is a *Error. After a failure the same *Error is
// returned on every call.
func (d *Decoder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		switch d.state {
		case StateDone:
			return 0, io.EOF
		case StateFailed:
			return 0, d.err
		}
		return 0, nil
	}
	for {
		switch d.state {
		case StateDone:
			return 0, io.EOF

		case StateFailed:
			return 0, d.err

		case StateSizeLine:
			if err := d.readSizeLine(); err != nil {
				return 0, err
			}

		case StateData:
			return d.readData(p)

		case StateDataTerminator:
			if err := d.readChunkTerminator(); err != nil {
				return 0, err
			}

		case StateTrailers:
			if err := d.readTrailers(); err != nil {
				return 0, err
			}
		}
	}
}

// fail moves the decoder to StateFailed with a classified error whose
// offset is the current wire position.
func (d *Decoder) fail(kind Kind, detail string, underlying error) *Error {
	d.state = StateFailed
	d.err = &Error{Kind: kind, Offset: d.offset, Detail: detail, Err: underlying}
	return d.err
}

// failAt is fail with an explicit offset, used when the offending byte
// has already been consumed.
func (d *Decoder) failAt(offset int64, kind Kind, detail string) *Error {
	d.state = StateFailed
	d.err = &Error{Kind: kind, Offset: offset, Detail: detail}
	return d.err
}

// failSource classifies a source error as truncation. A clean EOF
// surfaces as io.ErrUnexpectedEOF since the stream ended mid-protocol.
func (d *Decoder) failSource(err error, where string) *Error {
	if err == io.EOF {
		return d.fail(KindTruncated, "stream ended "+where, io.ErrUnexpectedEOF)
	}
	return d.fail(KindTruncated, "source failed "+where+": "+err.Error(), err)
}

// readByte consumes one byte from the source. Source exhaustion or
// failure anywhere before StateDone is truncation, not malformation.
func (d *Decoder) readByte() (byte, *Error) {
	if d.srcErr != nil {
		return 0, d.failSource(d.srcErr, "before terminal chunk")
	}
	b, err := d.reader.ReadByte()
	if err != nil {
		return 0, d.failSource(err, "before terminal chunk")
	}
	d.offset++
	return b, nil
}

// readSizeLine parses "<hex size>[;extensions]CRLF" and transitions to
// StateData, StateTrailers (zero chunk), or StateFailed. sawDigit and
// digits are tracked separately: "0" is a valid size line with zero
// significant digits, "" is not a size line at all.
func (d *Decoder) readSizeLine() *Error {
	var (
		size      uint64
		sawDigit  bool
		digits    int
		lineBytes int
		inExt     bool
	)

	for {
		b, failure := d.readByte()
		if failure != nil {
			return failure
		}
		lineBytes++
		if lineBytes > d.limits.MaxLineLength {
			return d.failAt(d.offset-1, KindSizeExceeded,
				fmt.Sprintf("chunk size line exceeds %d bytes", d.limits.MaxLineLength))
		}

		if b == '\r' {
			b, failure = d.readByte()
			if failure != nil {
				return failure
			}
			if b != '\n' {
				return d.failAt(d.offset-1, KindMalformed, "CR in chunk size line not followed by LF")
			}
			if !sawDigit {
				return d.failAt(d.offset-2, KindMalformed, "chunk size line has no size digits")
			}
			return d.beginChunk(size)
		}
		if b == '\n' {
			return d.failAt(d.offset-1, KindMalformed, "bare LF in chunk size line")
		}

		if inExt {
			// Extension content is skipped without interpretation; only
			// the line terminator and the length bound apply.
			continue
		}

		if b == ';' {
			if !sawDigit {
				return d.failAt(d.offset-1, KindMalformed, "chunk extension before size digits")
			}
			inExt = true
			continue
		}

		value, ok := hexDigit(b)
		if !ok {
			return d.failAt(d.offset-1, KindMalformed,
				fmt.Sprintf("invalid character %q in chunk size", b))
		}
		sawDigit = true
		// Leading zeros consume line budget but not digit budget.
		if size == 0 && value == 0 {
			continue
		}
		if digits >= maxHexDigits {
			return d.failAt(d.offset-1, KindSizeExceeded, "chunk size has too many hex digits")
		}
		size = size<<4 | uint64(value)
		digits++
	}
}

// beginChunk applies the size bounds and advances past the parsed size
// line. A parsed zero ("0", "000") arrives here with size 0 and starts
// the trailer section.
func (d *Decoder) beginChunk(size uint64) *Error {
	if size > uint64(d.limits.MaxChunkSize) {
		return d.failAt(d.offset, KindSizeExceeded,
			fmt.Sprintf("declared chunk size %d exceeds limit %d", size, d.limits.MaxChunkSize))
	}
	declared := int64(size)
	if d.limits.MaxPayloadSize > 0 && declared > d.limits.MaxPayloadSize-d.decoded {
		return d.failAt(d.offset, KindSizeExceeded,
			fmt.Sprintf("decoded size would exceed limit %d", d.limits.MaxPayloadSize))
	}
	if declared == 0 {
		d.state = StateTrailers
		return nil
	}
	d.chunkRemaining = declared
	d.state = StateData
	return nil
}

// readData copies payload bytes into p, up to the end of the current
// chunk. Returns as soon as any bytes are available; a source error
// arriving alongside data is delivered on the following call.
func (d *Decoder) readData(p []byte) (int, error) {
	if d.srcErr != nil {
		return 0, d.failSource(d.srcErr, "inside chunk payload")
	}

	want := len(p)
	if int64(want) > d.chunkRemaining {
		want = int(d.chunkRemaining)
	}

	n, err := d.reader.Read(p[:want])
	d.offset += int64(n)
	d.decoded += int64(n)
	d.chunkRemaining -= int64(n)

	if d.chunkRemaining == 0 && n > 0 {
		d.frames++
		d.state = StateDataTerminator
	}
	if n > 0 {
		if err != nil {
			d.srcErr = err
		}
		return n, nil
	}
	if err != nil {
		return 0, d.failSource(err, "inside chunk payload")
	}
	return 0, nil
}

// readChunkTerminator consumes the CRLF that must follow a chunk's
// payload.
func (d *Decoder) readChunkTerminator() *Error {
	b, failure := d.readByte()
	if failure != nil {
		return failure
	}
	if b != '\r' {
		return d.failAt(d.offset-1, KindMalformed,
			fmt.Sprintf("expected CR after chunk payload, got %q", b))
	}
	b, failure = d.readByte()
	if failure != nil {
		return failure
	}
	if b != '\n' {
		return d.failAt(d.offset-1, KindMalformed,
			fmt.Sprintf("expected LF after chunk payload CR, got %q", b))
	}
	d.state = StateSizeLine
	return nil
}

// readTrailers consumes trailer header lines up to the blank-line
// terminator. Content is discarded, not validated; only framing (CRLF
// discipline) and size bounds apply.
func (d *Decoder) readTrailers() *Error {
	for {
		lineBytes := 0
		sawContent := false

		for {
			b, failure := d.readByte()
			if failure != nil {
				return failure
			}
			d.trailerBytes++
			if d.trailerBytes > d.limits.MaxTrailerSize {
				return d.failAt(d.offset-1, KindSizeExceeded,
					fmt.Sprintf("trailer section exceeds %d bytes", d.limits.MaxTrailerSize))
			}
			lineBytes++
			if lineBytes > d.limits.MaxLineLength {
				return d.failAt(d.offset-1, KindSizeExceeded,
					fmt.Sprintf("trailer line exceeds %d bytes", d.limits.MaxLineLength))
			}

			if b == '\r' {
				b, failure = d.readByte()
				if failure != nil {
					return failure
				}
				d.trailerBytes++
				if b != '\n' {
					return d.failAt(d.offset-1, KindMalformed, "CR in trailer not followed by LF")
				}
				break
			}
			if b == '\n' {
				return d.failAt(d.offset-1, KindMalformed, "bare LF in trailer")
			}
			sawContent = true
		}

		if !sawContent {
			// Blank line: the trailer section (possibly empty) is over.
			d.state = StateDone
			return nil
		}
	}
}

// hexDigit returns the value of an ASCII hex digit.
func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
