// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestCompressionTagString(t *testing.T) {
	tests := []struct {
		tag  CompressionTag
		want string
	}{
		{CompressionNone, "none"},
		{CompressionLZ4, "lz4"},
		{CompressionZstd, "zstd"},
		{CompressionTag(7), "unknown(7)"},
	}
	for _, test := range tests {
		if got := test.tag.String(); got != test.want {
			t.Errorf("CompressionTag(%d).String() = %q, want %q", test.tag, got, test.want)
		}
	}
}

func TestParseCompressionTag(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompressionTag(tag.String())
		if err != nil {
			t.Fatalf("ParseCompressionTag(%q) error: %v", tag.String(), err)
		}
		if parsed != tag {
			t.Errorf("ParseCompressionTag(%q) = %d, want %d", tag.String(), parsed, tag)
		}
	}
	if _, err := ParseCompressionTag("gzip"); err == nil {
		t.Error("ParseCompressionTag(\"gzip\") succeeded, want error")
	}
}

func TestEncoderDecoderRoundTrip(t *testing.T) {
	payload := strings.Repeat("roundtrip material with some repetition ", 500)
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			var buffer bytes.Buffer
			encoder, err := newEncoder(&buffer, tag)
			if err != nil {
				t.Fatalf("newEncoder() error: %v", err)
			}
			if _, err := io.WriteString(encoder, payload); err != nil {
				t.Fatalf("Write() error: %v", err)
			}
			if err := encoder.Close(); err != nil {
				t.Fatalf("Close() error: %v", err)
			}

			decoded, release, err := newDecoder(&buffer, tag)
			if err != nil {
				t.Fatalf("newDecoder() error: %v", err)
			}
			defer release()
			got, err := io.ReadAll(decoded)
			if err != nil {
				t.Fatalf("ReadAll() error: %v", err)
			}
			if string(got) != payload {
				t.Errorf("decoded %d bytes, want %d; content mismatch", len(got), len(payload))
			}
		})
	}
}

func TestZstdShrinksRedundantInput(t *testing.T) {
	payload := strings.Repeat("aaaaaaaaaaaaaaaa", 4096)
	var buffer bytes.Buffer
	encoder, err := newEncoder(&buffer, CompressionZstd)
	if err != nil {
		t.Fatalf("newEncoder() error: %v", err)
	}
	if _, err := io.WriteString(encoder, payload); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if buffer.Len() >= len(payload) {
		t.Errorf("compressed size %d, want smaller than %d", buffer.Len(), len(payload))
	}
}

func TestDecoderRejectsUnknownTag(t *testing.T) {
	if _, _, err := newDecoder(strings.NewReader("x"), CompressionTag(9)); err == nil {
		t.Fatal("newDecoder(unknown tag) succeeded, want error")
	}
	if _, err := newEncoder(io.Discard, CompressionTag(9)); err == nil {
		t.Fatal("newEncoder(unknown tag) succeeded, want error")
	}
}
