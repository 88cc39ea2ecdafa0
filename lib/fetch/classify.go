// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// connKind classifies a dial, write, or pre-body read error into the
// connection-failure taxonomy. TLS handshake failures are classified at
// the handshake call site, not here.
func connKind(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ConnKindDNS
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return ConnKindRefused
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return ConnKindUnreachable
		case syscall.ECONNRESET, syscall.EPIPE:
			return ConnKindReset
		}
	}
	// A peer that disappears mid-handshake or before the response head
	// surfaces as EOF or a closed connection.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return ConnKindReset
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// Dial-phase timeout from the connect bound, distinct from the
		// session deadline (which is recorded as a cause before the
		// error surfaces).
		return ConnKindUnreachable
	}
	return ConnKindOther
}
