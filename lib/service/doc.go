// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the retrieval daemon's HTTP surface.
//
// The daemon is a standalone binary serving a small API over TCP:
//
//   - GET /fetch/{digest}?url= -- retrieve, verify, and stream content
//   - GET /outcome/{digest}?url= -- run a session, return the verdict
//   - GET /status -- version, uptime, spool stats, session counters
//   - GET /healthz -- liveness probe
//
// This package extracts the scaffolding the daemon needs: an
// HTTPServer with eager binding, readiness signaling, and graceful
// shutdown; bearer-token authentication with a constant-time compare;
// and the Handler wiring sessions, the spool, and the origin
// allowlist together.
//
// The daemon composes these in its own main() rather than
// subclassing a framework. The package provides building blocks, not
// a runtime.
//
// # Streaming and integrity
//
// /fetch streams decoded bytes to the client as they verify. When a
// session fails after body bytes have been written, the handler
// aborts the connection rather than finishing the response: a client
// must never mistake a failed retrieval for a complete one. Clean
// JSON errors are only possible while no payload byte has been sent.
package service
