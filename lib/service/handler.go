// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/retrieval/lib/boundary"
	"github.com/bureau-foundation/retrieval/lib/digest"
	"github.com/bureau-foundation/retrieval/lib/fetch"
	"github.com/bureau-foundation/retrieval/lib/spool"
	"github.com/bureau-foundation/retrieval/lib/version"
)

// HandlerConfig configures the daemon API handler.
type HandlerConfig struct {
	// Fetch is the base session configuration. A fresh session is
	// constructed from it for every request.
	Fetch fetch.Config

	// Spool caches verified content. Nil disables caching.
	Spool *spool.Spool

	// OriginAllowed gates fetch origins by hostname. Nil allows
	// every origin.
	OriginAllowed func(host string) bool

	// Logger receives handler activity; nil discards.
	Logger *slog.Logger
}

// Handler routes the daemon API: /fetch, /outcome, /status, /healthz.
type Handler struct {
	config  HandlerConfig
	logger  *slog.Logger
	mux     *http.ServeMux
	started time.Time

	// counters is indexed by fetch.OutcomeCode.
	counters [7]atomic.Int64
}

// NewHandler builds the handler and validates the session
// configuration once, so a bad config fails at startup rather than on
// the first request.
func NewHandler(config HandlerConfig) (*Handler, error) {
	if _, err := fetch.New(config.Fetch); err != nil {
		return nil, fmt.Errorf("service: session config: %w", err)
	}

	h := &Handler{
		config:  config,
		logger:  config.Logger,
		started: time.Now(),
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /fetch/{digest}", h.handleFetch)
	mux.HandleFunc("GET /outcome/{digest}", h.handleOutcome)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// parseTarget extracts and validates the digest path segment and the
// url query parameter. On failure it has already written the error
// response.
func (h *Handler) parseTarget(w http.ResponseWriter, r *http.Request) (digest.Digest, string, bool) {
	d, err := digest.Parse(r.PathValue("digest"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return digest.Digest{}, "", false
	}

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		respondError(w, http.StatusBadRequest, "url query parameter is required")
		return digest.Digest{}, "", false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unusable url %q", rawURL))
		return digest.Digest{}, "", false
	}

	if h.config.OriginAllowed != nil && !h.config.OriginAllowed(parsed.Hostname()) {
		respondError(w, http.StatusForbidden, fmt.Sprintf("origin %q is not allowed", parsed.Hostname()))
		return digest.Digest{}, "", false
	}
	return d, rawURL, true
}

// handleFetch serves GET /fetch/{digest}?url=. A spool hit streams
// the cached payload; a miss runs a session, streaming decoded bytes
// to the client as they verify and teeing them into the spool.
func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	d, rawURL, ok := h.parseTarget(w, r)
	if !ok {
		return
	}

	if h.config.Spool != nil && h.serveSpooled(w, r, d) {
		return
	}

	session, err := fetch.New(h.config.Fetch)
	if err != nil {
		h.logger.Error("session construction failed", "error", err)
		respondError(w, http.StatusInternalServerError, "session construction failed")
		return
	}

	counting := &countingWriter{inner: w}
	sink := io.Writer(counting)
	var put *spool.PutWriter
	if h.config.Spool != nil {
		put, err = h.config.Spool.Put(d, rawURL)
		if err != nil {
			h.logger.Warn("spool write unavailable", "digest", d.String(), "error", err)
			put = nil
		} else {
			defer put.Abort()
			sink = io.MultiWriter(counting, put)
		}
	}

	// Headers are buffered until the first body byte, so the error
	// path below can still replace them as long as nothing streamed.
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Retrieval-Digest", d.String())

	outcome := session.Fetch(r.Context(), fetch.Request{URL: rawURL, Digest: d}, sink)
	h.record(outcome.Code)

	if outcome.Code == fetch.OutcomeVerified {
		if put != nil {
			if err := put.Commit(r.Context()); err != nil {
				h.logger.Warn("spool commit failed", "digest", d.String(), "error", err)
			}
		}
		return
	}

	if counting.written > 0 {
		// Payload bytes are already on the wire. Kill the connection
		// so the client cannot mistake the truncated body for a
		// complete, verified payload.
		h.logger.Warn("aborting response mid-body",
			"url", rawURL,
			"outcome", outcome.Code.String(),
			"bytes_sent", counting.written,
		)
		panic(http.ErrAbortHandler)
	}

	w.Header().Del("X-Retrieval-Digest")
	respondJSON(w, statusForOutcome(outcome.Code), boundary.OutcomeToResult(outcome))
}

// serveSpooled streams a cached payload if the spool has one.
// Returns false on a miss (or any spool failure) so the caller falls
// back to a fresh retrieval.
func (h *Handler) serveSpooled(w http.ResponseWriter, r *http.Request, d digest.Digest) bool {
	reader, entry, err := h.config.Spool.Open(r.Context(), d)
	if err != nil {
		if !errors.Is(err, spool.ErrMiss) {
			h.logger.Warn("spool read failed", "digest", d.String(), "error", err)
		}
		return false
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Retrieval-Digest", d.String())
	w.Header().Set("Content-Length", strconv.FormatInt(entry.PayloadSize, 10))
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Debug("client abandoned spooled response", "digest", d.String(), "error", err)
		return true
	}
	h.logger.Info("served spooled content", "digest", d.String(), "bytes", entry.PayloadSize)
	return true
}

// handleOutcome serves GET /outcome/{digest}?url=: run the session to
// completion and return the verdict as JSON. The payload goes to the
// spool when one is configured and the entry is absent; otherwise it
// is discarded.
func (h *Handler) handleOutcome(w http.ResponseWriter, r *http.Request) {
	d, rawURL, ok := h.parseTarget(w, r)
	if !ok {
		return
	}

	session, err := fetch.New(h.config.Fetch)
	if err != nil {
		h.logger.Error("session construction failed", "error", err)
		respondError(w, http.StatusInternalServerError, "session construction failed")
		return
	}

	sink := io.Writer(io.Discard)
	var put *spool.PutWriter
	if h.config.Spool != nil {
		cached, err := h.config.Spool.Contains(r.Context(), d)
		if err != nil {
			h.logger.Warn("spool lookup failed", "digest", d.String(), "error", err)
		} else if !cached {
			put, err = h.config.Spool.Put(d, rawURL)
			if err != nil {
				h.logger.Warn("spool write unavailable", "digest", d.String(), "error", err)
				put = nil
			} else {
				defer put.Abort()
				sink = put
			}
		}
	}

	outcome := session.Fetch(r.Context(), fetch.Request{URL: rawURL, Digest: d}, sink)
	h.record(outcome.Code)

	if outcome.Code == fetch.OutcomeVerified && put != nil {
		if err := put.Commit(r.Context()); err != nil {
			h.logger.Warn("spool commit failed", "digest", d.String(), "error", err)
		}
	}

	respondJSON(w, http.StatusOK, boundary.OutcomeToResult(outcome))
}

// statusResponse is the GET /status document.
type statusResponse struct {
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Sessions      map[string]int64 `json:"sessions"`
	Spool         *spoolStatus     `json:"spool,omitempty"`
}

type spoolStatus struct {
	Entries      int64 `json:"entries"`
	PayloadBytes int64 `json:"payload_bytes"`
	StoredBytes  int64 `json:"stored_bytes"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Evicted      int64 `json:"evicted"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := statusResponse{
		Version:       version.Short(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Sessions:      h.sessionCounts(),
	}
	if h.config.Spool != nil {
		stats, err := h.config.Spool.Stats(r.Context())
		if err != nil {
			h.logger.Warn("spool stats failed", "error", err)
		} else {
			status.Spool = &spoolStatus{
				Entries:      stats.Entries,
				PayloadBytes: stats.PayloadBytes,
				StoredBytes:  stats.StoredBytes,
				Hits:         stats.Hits,
				Misses:       stats.Misses,
				Evicted:      stats.Evicted,
			}
		}
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok")
}

func (h *Handler) record(code fetch.OutcomeCode) {
	if int(code) < len(h.counters) {
		h.counters[code].Add(1)
	}
}

func (h *Handler) sessionCounts() map[string]int64 {
	codes := []fetch.OutcomeCode{
		fetch.OutcomeVerified,
		fetch.OutcomeMismatch,
		fetch.OutcomeProtocolError,
		fetch.OutcomeConnectionError,
		fetch.OutcomeTimedOut,
		fetch.OutcomeCancelled,
	}
	counts := make(map[string]int64, len(codes))
	for _, code := range codes {
		counts[code.String()] = h.counters[code].Load()
	}
	return counts
}

// statusForOutcome maps a failed session onto an HTTP status for the
// clean-error path (no payload byte sent yet).
func statusForOutcome(code fetch.OutcomeCode) int {
	if code == fetch.OutcomeTimedOut {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// countingWriter tracks whether payload bytes reached the response
// and flushes after every write so the client receives bytes as they
// verify instead of on net/http's buffer boundaries.
type countingWriter struct {
	inner   http.ResponseWriter
	written int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.inner.Write(p)
	c.written += int64(n)
	if n > 0 {
		if flusher, ok := c.inner.(http.Flusher); ok {
			flusher.Flush()
		}
	}
	return n, err
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response with the given HTTP status code.
func respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// respondError writes a JSON error response with the given HTTP
// status code and message.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{Error: message})
}
