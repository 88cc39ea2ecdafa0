// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/retrieval/lib/chunked"
)

//go:embed corpus/*.jsonc
var corpusFiles embed.FS

// Limits are the decoder bounds in force for a case. Zero values select
// the decoder defaults, matching chunked.Limits.
type Limits struct {
	MaxChunkSize   int64 `json:"max_chunk_size"`
	MaxPayloadSize int64 `json:"max_payload_size"`
	MaxLineLength  int   `json:"max_line_length"`
	MaxTrailerSize int   `json:"max_trailer_size"`
}

// Expect is a case's required terminal result. ErrorKind empty means
// the stream must decode completely with the given payload and frame
// count; otherwise the decoder must fail with that kind at exactly
// Offset, having delivered the given payload first.
type Expect struct {
	Payload    string `json:"payload"`
	PayloadHex string `json:"payload_hex"`
	Frames     int64  `json:"frames"`
	ErrorKind  string `json:"error_kind"`
	Offset     int64  `json:"offset"`
}

// Case is one corpus entry. Wire holds text-safe streams directly
// (JSON string escapes cover CRLF); WireHex holds arbitrary bytes. At
// most one of the two is set.
type Case struct {
	Name    string `json:"name"`
	Comment string `json:"comment"`
	Wire    string `json:"wire"`
	WireHex string `json:"wire_hex"`
	Limits  Limits `json:"limits"`
	Expect  Expect `json:"expect"`

	// Source is the corpus file the case was loaded from.
	Source string `json:"-"`
}

type corpusFile struct {
	Cases []Case `json:"cases"`
}

// WireBytes returns the case's raw wire bytes.
func (c *Case) WireBytes() ([]byte, error) {
	if c.WireHex != "" {
		data, err := hex.DecodeString(c.WireHex)
		if err != nil {
			return nil, fmt.Errorf("case %s: decoding wire_hex: %w", c.Name, err)
		}
		return data, nil
	}
	return []byte(c.Wire), nil
}

// ExpectedPayload returns the payload the decoder must deliver before
// reaching its terminal result.
func (c *Case) ExpectedPayload() ([]byte, error) {
	if c.Expect.PayloadHex != "" {
		data, err := hex.DecodeString(c.Expect.PayloadHex)
		if err != nil {
			return nil, fmt.Errorf("case %s: decoding payload_hex: %w", c.Name, err)
		}
		return data, nil
	}
	return []byte(c.Expect.Payload), nil
}

// DecoderLimits maps the case bounds onto decoder limits.
func (c *Case) DecoderLimits() chunked.Limits {
	return chunked.Limits{
		MaxChunkSize:   c.Limits.MaxChunkSize,
		MaxPayloadSize: c.Limits.MaxPayloadSize,
		MaxLineLength:  c.Limits.MaxLineLength,
		MaxTrailerSize: c.Limits.MaxTrailerSize,
	}
}

var errorKinds = map[string]bool{
	"malformed":     true,
	"truncated":     true,
	"size-exceeded": true,
}

func (c *Case) validate() error {
	if c.Name == "" {
		return fmt.Errorf("case without a name")
	}
	if c.Wire != "" && c.WireHex != "" {
		return fmt.Errorf("case %s: both wire and wire_hex set", c.Name)
	}
	if c.Expect.Payload != "" && c.Expect.PayloadHex != "" {
		return fmt.Errorf("case %s: both payload and payload_hex set", c.Name)
	}
	if c.Expect.ErrorKind != "" && !errorKinds[c.Expect.ErrorKind] {
		return fmt.Errorf("case %s: unknown error kind %q", c.Name, c.Expect.ErrorKind)
	}
	if _, err := c.WireBytes(); err != nil {
		return err
	}
	if _, err := c.ExpectedPayload(); err != nil {
		return err
	}
	return nil
}

// Cases returns every embedded corpus case, parsed and validated, in
// file order. An error here indicates a bug in the embedded corpus,
// not a runtime condition.
func Cases() ([]Case, error) {
	entries, err := corpusFiles.ReadDir("corpus")
	if err != nil {
		return nil, fmt.Errorf("reading embedded corpus directory: %w", err)
	}

	seen := make(map[string]string)
	var cases []Case
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonc" {
			continue
		}
		path := "corpus/" + entry.Name()
		data, err := corpusFiles.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading embedded corpus %s: %w", path, err)
		}

		var file corpusFile
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("parsing embedded corpus %s: %w", path, err)
		}

		for _, c := range file.Cases {
			if err := c.validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if first, dup := seen[c.Name]; dup {
				return nil, fmt.Errorf("%s: case %s already defined in %s", path, c.Name, first)
			}
			seen[c.Name] = path
			c.Source = entry.Name()
			cases = append(cases, c)
		}
	}
	return cases, nil
}

// SourceHash returns the SHA-256 hex digest over the embedded corpus
// files (name then content, in sorted name order). Peers compare this
// to confirm they ran the same fixtures.
func SourceHash() (string, error) {
	entries, err := corpusFiles.ReadDir("corpus")
	if err != nil {
		return "", fmt.Errorf("reading embedded corpus directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonc" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	hash := sha256.New()
	for _, name := range names {
		data, err := corpusFiles.ReadFile("corpus/" + name)
		if err != nil {
			return "", fmt.Errorf("reading embedded corpus %s: %w", name, err)
		}
		hash.Write([]byte(name))
		hash.Write([]byte{0})
		hash.Write(data)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
