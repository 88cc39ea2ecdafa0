// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/retrieval/lib/codec"
	"github.com/bureau-foundation/retrieval/lib/digest"
	"github.com/bureau-foundation/retrieval/lib/fetch"
)

// ContractVersion is the boundary contract revision. A Request
// carrying any other version is rejected without running a session.
const ContractVersion = 1

// OutcomeRejected is the Result outcome for requests the boundary
// refused to run: wrong contract version, undecodable digest, or
// unusable fields. The session outcome strings are fetch.OutcomeCode
// strings; rejected exists only at this layer.
const OutcomeRejected = "rejected"

// Request is one retrieval order from the host. Flat by contract:
// strings and integers only, so every binding maps it onto native
// types without intermediate structures.
//
// CBOR tags fix the wire names; json tags serve debugging output and
// the daemon's JSON surfaces.
type Request struct {
	Version uint32 `cbor:"version" json:"version"`
	URL     string `cbor:"url"     json:"url"`

	// Digest is the expected content identity in "<alg>:<hex>" text
	// form.
	Digest string `cbor:"digest" json:"digest"`

	MaxBytes  int64  `cbor:"max_bytes,omitempty"  json:"max_bytes,omitempty"`
	TimeoutMS int64  `cbor:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	SizeHint  int64  `cbor:"size_hint,omitempty"  json:"size_hint,omitempty"`
	UserAgent string `cbor:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// Result is the single terminal answer for one Request.
//
// Outcome is one of the fetch.OutcomeCode strings or "rejected". Kind
// narrows protocol-error (malformed, truncated, size-exceeded,
// unsupported-encoding) and connection-error (dns, refused,
// unreachable, tls, reset, status, other). Offset is the wire offset
// of a protocol violation. Expected and Actual are digest text forms,
// set on mismatch.
type Result struct {
	Version   uint32 `cbor:"version"              json:"version"`
	Outcome   string `cbor:"outcome"              json:"outcome"`
	ByteCount int64  `cbor:"byte_count,omitempty" json:"byte_count,omitempty"`
	Expected  string `cbor:"expected,omitempty"   json:"expected,omitempty"`
	Actual    string `cbor:"actual,omitempty"     json:"actual,omitempty"`
	Kind      string `cbor:"kind,omitempty"       json:"kind,omitempty"`
	Offset    int64  `cbor:"offset,omitempty"     json:"offset,omitempty"`
	Detail    string `cbor:"detail,omitempty"     json:"detail,omitempty"`
	ElapsedMS int64  `cbor:"elapsed_ms,omitempty" json:"elapsed_ms,omitempty"`
}

// EncodeRequest encodes a Request as deterministic CBOR.
func EncodeRequest(r Request) ([]byte, error) {
	return codec.Marshal(r)
}

// DecodeRequest decodes a deterministic-CBOR Request.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := codec.Unmarshal(data, &r); err != nil {
		return Request{}, err
	}
	return r, nil
}

// EncodeResult encodes a Result as deterministic CBOR.
func EncodeResult(r Result) ([]byte, error) {
	return codec.Marshal(r)
}

// DecodeResult decodes a deterministic-CBOR Result.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	if err := codec.Unmarshal(data, &r); err != nil {
		return Result{}, err
	}
	return r, nil
}

// RequestToFetch translates a contract Request into an engine request.
// The error text is host-facing: Serve copies it into a rejected
// Result's detail.
func RequestToFetch(r Request) (fetch.Request, error) {
	if r.Version != ContractVersion {
		return fetch.Request{}, fmt.Errorf("unsupported contract version %d (want %d)", r.Version, ContractVersion)
	}
	if r.URL == "" {
		return fetch.Request{}, fmt.Errorf("request has no url")
	}
	expected, err := digest.Parse(r.Digest)
	if err != nil {
		return fetch.Request{}, fmt.Errorf("undecodable digest: %v", err)
	}
	if r.MaxBytes < 0 || r.TimeoutMS < 0 || r.SizeHint < 0 {
		return fetch.Request{}, fmt.Errorf("request has negative limits")
	}
	return fetch.Request{
		URL:       r.URL,
		Digest:    expected,
		SizeHint:  r.SizeHint,
		MaxBytes:  r.MaxBytes,
		Timeout:   time.Duration(r.TimeoutMS) * time.Millisecond,
		UserAgent: r.UserAgent,
	}, nil
}

// OutcomeToResult flattens a session outcome into the contract layout.
// Values are copied field by field; no engine types cross the
// boundary.
func OutcomeToResult(outcome fetch.Outcome) Result {
	result := Result{
		Version:   ContractVersion,
		Outcome:   outcome.Code.String(),
		ByteCount: outcome.ByteCount,
		Detail:    outcome.Detail,
		ElapsedMS: outcome.Elapsed.Milliseconds(),
	}
	switch outcome.Code {
	case fetch.OutcomeMismatch:
		result.Expected = outcome.Expected.String()
		result.Actual = outcome.Actual.String()
	case fetch.OutcomeProtocolError:
		result.Kind = outcome.ProtocolKind.String()
		result.Offset = outcome.Offset
	case fetch.OutcomeConnectionError:
		result.Kind = outcome.ConnKind
	}
	return result
}

// Rejected builds the Result for a request the boundary refused to
// run.
func Rejected(detail string) Result {
	return Result{
		Version: ContractVersion,
		Outcome: OutcomeRejected,
		Detail:  detail,
	}
}
