// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/retrieval/lib/chunked"
	"github.com/bureau-foundation/retrieval/lib/digest"
)

// OutcomeCode is the terminal classification of a session. Exactly one
// code is produced per session.
type OutcomeCode uint8

const (
	// OutcomeVerified: the stream decoded completely and the digest
	// matched.
	OutcomeVerified OutcomeCode = 1 + iota

	// OutcomeMismatch: the stream decoded completely but the digest
	// differed from the expected one.
	OutcomeMismatch

	// OutcomeProtocolError: the origin's bytes violated the protocol
	// (bad framing, truncation, size violation, or a body that is not
	// chunked).
	OutcomeProtocolError

	// OutcomeConnectionError: the origin could not be reached, rejected
	// the request, or the connection failed before the body began.
	OutcomeConnectionError

	// OutcomeTimedOut: the session deadline elapsed.
	OutcomeTimedOut

	// OutcomeCancelled: the caller abandoned the session.
	OutcomeCancelled
)

// String returns the wire name of the code, shared with the boundary
// contract and the CLI.
func (c OutcomeCode) String() string {
	switch c {
	case OutcomeVerified:
		return "verified"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeProtocolError:
		return "protocol-error"
	case OutcomeConnectionError:
		return "connection-error"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ProtocolKind narrows an OutcomeProtocolError.
type ProtocolKind uint8

const (
	ProtocolMalformed ProtocolKind = 1 + iota
	ProtocolTruncated
	ProtocolSizeExceeded
	ProtocolUnsupportedEncoding
)

// String returns the wire name of the kind.
func (k ProtocolKind) String() string {
	switch k {
	case ProtocolMalformed:
		return "malformed"
	case ProtocolTruncated:
		return "truncated"
	case ProtocolSizeExceeded:
		return "size-exceeded"
	case ProtocolUnsupportedEncoding:
		return "unsupported-encoding"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// protocolKind maps a decoder failure kind onto the session taxonomy.
func protocolKind(kind chunked.Kind) ProtocolKind {
	switch kind {
	case chunked.KindMalformed:
		return ProtocolMalformed
	case chunked.KindTruncated:
		return ProtocolTruncated
	case chunked.KindSizeExceeded:
		return ProtocolSizeExceeded
	default:
		return ProtocolMalformed
	}
}

// Connection failure kinds carried in Outcome.ConnKind.
const (
	ConnKindDNS         = "dns"
	ConnKindRefused     = "refused"
	ConnKindUnreachable = "unreachable"
	ConnKindTLS         = "tls"
	ConnKindReset       = "reset"
	ConnKindStatus      = "status"
	ConnKindOther       = "other"
)

// Outcome is the single terminal result of a session. Code is always
// set; the other fields are populated according to the code.
type Outcome struct {
	Code OutcomeCode

	// ByteCount is the number of decoded payload bytes delivered before
	// the session ended, whatever the code.
	ByteCount int64

	// Expected and Actual are set for OutcomeMismatch.
	Expected digest.Digest
	Actual   digest.Digest

	// ProtocolKind and Offset are set for OutcomeProtocolError. Offset
	// is the wire offset into the response body.
	ProtocolKind ProtocolKind
	Offset       int64

	// ConnKind is set for OutcomeConnectionError.
	ConnKind string

	// Detail is a human-readable elaboration. Never required for
	// classification.
	Detail string

	// Elapsed is the session duration from connect through terminal.
	Elapsed time.Duration
}
