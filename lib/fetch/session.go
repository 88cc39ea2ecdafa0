// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/retrieval/lib/chunked"
	"github.com/bureau-foundation/retrieval/lib/clock"
	"github.com/bureau-foundation/retrieval/lib/digest"
	"github.com/bureau-foundation/retrieval/lib/version"
)

// DefaultConnectTimeout bounds the dial phase when the config does not.
const DefaultConnectTimeout = 5 * time.Second

// readBufferSize is the decode buffer: large enough to amortize
// syscalls, small enough that cancellation is honored promptly.
const readBufferSize = 32 << 10

// Request describes one retrieval. It is consumed by exactly one
// session and never mutated.
type Request struct {
	// URL is the origin to fetch from; http or https.
	URL string

	// Digest is the expected content identity. Required.
	Digest digest.Digest

	// SizeHint is the expected decoded length, 0 when unknown. Used
	// for logging and spool preallocation, never for enforcement.
	SizeHint int64

	// MaxBytes caps the decoded size; 0 means the session config's cap.
	MaxBytes int64

	// Timeout bounds the session from connect through verify; 0 means
	// the session config's timeout.
	Timeout time.Duration

	// UserAgent overrides the outbound User-Agent header.
	UserAgent string
}

// Config carries session construction parameters. The zero value is
// usable: real clock, discarded logs, standard dialer, no size or time
// bounds.
type Config struct {
	// Clock provides time; nil means the real clock.
	Clock clock.Clock

	// Logger receives session progress; nil discards.
	Logger *slog.Logger

	// DialContext overrides the transport dial, used by tests and by
	// callers with unusual routing. Nil uses a net.Dialer bounded by
	// ConnectTimeout.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)

	// TLSConfig overrides TLS client settings for https origins. Nil
	// uses defaults with the server name from the request URL.
	TLSConfig *tls.Config

	// MaxBytes is the default decoded-size cap; 0 means unbounded.
	MaxBytes int64

	// MaxChunkBytes caps a single chunk's declared size; 0 means the
	// decoder default.
	MaxChunkBytes int64

	// Timeout is the default per-session deadline; 0 means none.
	Timeout time.Duration

	// ConnectTimeout bounds the dial phase; 0 means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// UserAgent is the default User-Agent header; empty means the
	// built-in version string.
	UserAgent string
}

// Phase is the session's position in its lifecycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseStreaming
	PhaseVerifying
	PhaseDone
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	case PhaseVerifying:
		return "verifying"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int32(p))
	}
}

// Session runs one retrieval. Construct with New, call Fetch once; a
// later Fetch returns the recorded outcome without contacting the
// origin again.
type Session struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	dial   func(ctx context.Context, network, address string) (net.Conn, error)

	phase atomic.Int32

	mu      sync.Mutex
	done    bool
	outcome Outcome
}

// New returns a session for one retrieval.
func New(config Config) (*Session, error) {
	if config.MaxBytes < 0 || config.MaxChunkBytes < 0 {
		return nil, fmt.Errorf("fetch: negative size limit")
	}
	if config.Timeout < 0 || config.ConnectTimeout < 0 {
		return nil, fmt.Errorf("fetch: negative timeout")
	}

	s := &Session{config: config}
	s.clock = config.Clock
	if s.clock == nil {
		s.clock = clock.Real()
	}
	s.logger = config.Logger
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.dial = config.DialContext
	if s.dial == nil {
		connectTimeout := config.ConnectTimeout
		if connectTimeout == 0 {
			connectTimeout = DefaultConnectTimeout
		}
		s.dial = (&net.Dialer{Timeout: connectTimeout}).DialContext
	}
	return s, nil
}

// Phase returns the session's current lifecycle phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// Fetch runs the retrieval and returns its single terminal outcome.
// Decoded, framing-validated bytes are forwarded to sink as they
// arrive (nil discards them); only an OutcomeVerified result means the
// forwarded bytes are the expected content in full.
func (s *Session) Fetch(ctx context.Context, req Request, sink io.Writer) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.outcome
	}

	start := s.clock.Now()
	outcome := s.run(ctx, req, sink)
	outcome.Elapsed = s.clock.Now().Sub(start)
	s.phase.Store(int32(PhaseDone))

	if outcome.Code == OutcomeVerified {
		s.logger.Info("retrieval verified",
			"url", req.URL,
			"digest", req.Digest.String(),
			"bytes", outcome.ByteCount,
			"elapsed", outcome.Elapsed,
		)
	} else {
		s.logger.Warn("retrieval failed",
			"url", req.URL,
			"outcome", outcome.Code.String(),
			"detail", outcome.Detail,
			"bytes", outcome.ByteCount,
			"elapsed", outcome.Elapsed,
		)
	}

	s.outcome = outcome
	s.done = true
	return outcome
}

// lifecycle owns the abort machinery shared between the session body,
// the deadline timer, and the context watcher. The first recorded
// cause wins; aborting cancels the dial context and closes the live
// connection to unblock any pending read.
type lifecycle struct {
	cause  atomic.Int32 // OutcomeCode, zero until an abort is recorded
	cancel context.CancelFunc

	mu   sync.Mutex
	conn net.Conn
}

func (l *lifecycle) abort(code OutcomeCode) {
	if !l.cause.CompareAndSwap(0, int32(code)) {
		return
	}
	l.cancel()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
	}
}

// track registers the live connection so an abort can close it. If an
// abort already happened, the connection is closed immediately.
func (l *lifecycle) track(conn net.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	if l.cause.Load() != 0 {
		conn.Close()
	}
}

func (l *lifecycle) recorded() (OutcomeCode, bool) {
	code := OutcomeCode(l.cause.Load())
	return code, code != 0
}

func (l *lifecycle) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

func causeDetail(code OutcomeCode) string {
	if code == OutcomeTimedOut {
		return "session deadline elapsed"
	}
	return "cancelled by caller"
}

func (s *Session) run(ctx context.Context, req Request, sink io.Writer) Outcome {
	s.phase.Store(int32(PhaseConnecting))

	origin, err := url.Parse(req.URL)
	if err != nil || (origin.Scheme != "http" && origin.Scheme != "https") || origin.Host == "" {
		return Outcome{Code: OutcomeConnectionError, ConnKind: ConnKindOther,
			Detail: fmt.Sprintf("unusable url %q", req.URL)}
	}
	if req.Digest.IsZero() {
		return Outcome{Code: OutcomeConnectionError, ConnKind: ConnKindOther,
			Detail: "request has no expected digest"}
	}
	if req.MaxBytes < 0 || req.SizeHint < 0 || req.Timeout < 0 {
		return Outcome{Code: OutcomeConnectionError, ConnKind: ConnKindOther,
			Detail: "request has negative limits"}
	}

	maxBytes := req.MaxBytes
	if maxBytes == 0 {
		maxBytes = s.config.MaxBytes
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.config.Timeout
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = s.config.UserAgent
	}
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()
	life := &lifecycle{cancel: cancelSession}
	defer life.close()

	if timeout > 0 {
		timer := s.clock.AfterFunc(timeout, func() { life.abort(OutcomeTimedOut) })
		defer timer.Stop()
	}
	stopWatcher := context.AfterFunc(ctx, func() { life.abort(OutcomeCancelled) })
	defer stopWatcher()

	// interrupted resolves races between an abort and the error it
	// provoked: the recorded cause, never the error text, decides.
	interrupted := func() (Outcome, bool) {
		if code, ok := life.recorded(); ok {
			return Outcome{Code: code, Detail: causeDetail(code)}, true
		}
		if ctx.Err() != nil {
			return Outcome{Code: OutcomeCancelled, Detail: causeDetail(OutcomeCancelled)}, true
		}
		return Outcome{}, false
	}

	port := origin.Port()
	if port == "" {
		if origin.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	address := net.JoinHostPort(origin.Hostname(), port)

	s.logger.Debug("dialing origin", "url", req.URL, "address", address)
	conn, err := s.dial(sessionCtx, "tcp", address)
	if err != nil {
		if o, ok := interrupted(); ok {
			return o
		}
		return Outcome{Code: OutcomeConnectionError, ConnKind: connKind(err),
			Detail: fmt.Sprintf("dial %s: %v", address, err)}
	}
	life.track(conn)

	if origin.Scheme == "https" {
		tlsConfig := s.config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		} else {
			tlsConfig = tlsConfig.Clone()
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = origin.Hostname()
		}
		tlsConn := tls.Client(conn, tlsConfig)
		life.track(tlsConn)
		if err := tlsConn.HandshakeContext(sessionCtx); err != nil {
			if o, ok := interrupted(); ok {
				return o
			}
			return Outcome{Code: OutcomeConnectionError, ConnKind: ConnKindTLS,
				Detail: fmt.Sprintf("tls handshake with %s: %v", address, err)}
		}
		conn = tlsConn
	}

	var head strings.Builder
	fmt.Fprintf(&head, "GET %s HTTP/1.1\r\n", origin.RequestURI())
	fmt.Fprintf(&head, "Host: %s\r\n", origin.Host)
	fmt.Fprintf(&head, "User-Agent: %s\r\n", userAgent)
	head.WriteString("Accept-Encoding: identity\r\n")
	head.WriteString("\r\n")
	if _, err := io.WriteString(conn, head.String()); err != nil {
		if o, ok := interrupted(); ok {
			return o
		}
		return Outcome{Code: OutcomeConnectionError, ConnKind: connKind(err),
			Detail: fmt.Sprintf("writing request: %v", err)}
	}

	reader := bufio.NewReaderSize(conn, readBufferSize)
	status, reason, headers, failed := readResponseHead(textproto.NewReader(reader), interrupted)
	if failed != nil {
		return *failed
	}
	if status < 200 || status > 299 {
		detail := fmt.Sprintf("origin returned status %d", status)
		if reason != "" {
			detail += " " + reason
		}
		return Outcome{Code: OutcomeConnectionError, ConnKind: ConnKindStatus, Detail: detail}
	}
	if encoding := strings.ToLower(strings.TrimSpace(headers.Get("Transfer-Encoding"))); encoding != "chunked" {
		detail := "response body is not chunked"
		switch {
		case encoding != "":
			detail = fmt.Sprintf("unsupported transfer encoding %q", encoding)
		case headers.Get("Content-Length") != "":
			detail = "identity body with content-length"
		}
		return Outcome{Code: OutcomeProtocolError, ProtocolKind: ProtocolUnsupportedEncoding, Detail: detail}
	}

	s.phase.Store(int32(PhaseStreaming))
	s.logger.Debug("streaming response body",
		"url", req.URL,
		"size_hint", req.SizeHint,
		"max_bytes", maxBytes,
	)

	verifier, err := digest.New(req.Digest.Algorithm())
	if err != nil {
		return Outcome{Code: OutcomeConnectionError, ConnKind: ConnKindOther,
			Detail: fmt.Sprintf("unusable expected digest: %v", err)}
	}
	decoder := chunked.NewDecoder(reader, chunked.Limits{
		MaxChunkSize:   s.config.MaxChunkBytes,
		MaxPayloadSize: maxBytes,
	})

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := decoder.Read(buf)
		if n > 0 {
			verifier.Write(buf[:n])
			if sink != nil {
				if _, sinkErr := sink.Write(buf[:n]); sinkErr != nil {
					return Outcome{Code: OutcomeCancelled, ByteCount: verifier.ByteCount(),
						Detail: fmt.Sprintf("sink abandoned the stream: %v", sinkErr)}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if o, ok := interrupted(); ok {
				o.ByteCount = verifier.ByteCount()
				return o
			}
			var decodeErr *chunked.Error
			if errors.As(readErr, &decodeErr) {
				return Outcome{
					Code:         OutcomeProtocolError,
					ProtocolKind: protocolKind(decodeErr.Kind),
					Offset:       decodeErr.Offset,
					ByteCount:    verifier.ByteCount(),
					Detail:       decodeErr.Detail,
				}
			}
			return Outcome{Code: OutcomeConnectionError, ConnKind: connKind(readErr),
				ByteCount: verifier.ByteCount(), Detail: fmt.Sprintf("reading body: %v", readErr)}
		}
		if code, ok := life.recorded(); ok {
			return Outcome{Code: code, ByteCount: verifier.ByteCount(), Detail: causeDetail(code)}
		}
	}

	s.phase.Store(int32(PhaseVerifying))
	if code, ok := life.recorded(); ok {
		return Outcome{Code: code, ByteCount: verifier.ByteCount(), Detail: causeDetail(code)}
	}

	if err := verifier.Verify(req.Digest); err != nil {
		var mismatch *digest.MismatchError
		if errors.As(err, &mismatch) {
			return Outcome{
				Code:      OutcomeMismatch,
				ByteCount: verifier.ByteCount(),
				Expected:  mismatch.Expected,
				Actual:    mismatch.Actual,
				Detail:    "content digest does not match",
			}
		}
		return Outcome{Code: OutcomeConnectionError, ConnKind: ConnKindOther,
			ByteCount: verifier.ByteCount(), Detail: fmt.Sprintf("verify: %v", err)}
	}
	return Outcome{Code: OutcomeVerified, ByteCount: verifier.ByteCount()}
}

// readResponseHead consumes the status line and headers, skipping
// informational (1xx) responses. On failure it returns the terminal
// outcome to emit instead.
func readResponseHead(tp *textproto.Reader, interrupted func() (Outcome, bool)) (int, string, textproto.MIMEHeader, *Outcome) {
	for attempt := 0; attempt < 5; attempt++ {
		line, err := tp.ReadLine()
		if err != nil {
			if o, ok := interrupted(); ok {
				return 0, "", nil, &o
			}
			o := Outcome{Code: OutcomeConnectionError, ConnKind: connKind(err),
				Detail: fmt.Sprintf("reading status line: %v", err)}
			return 0, "", nil, &o
		}
		status, reason, parseErr := parseStatusLine(line)
		if parseErr != nil {
			o := Outcome{Code: OutcomeProtocolError, ProtocolKind: ProtocolMalformed,
				Detail: parseErr.Error()}
			return 0, "", nil, &o
		}
		headers, err := tp.ReadMIMEHeader()
		if err != nil {
			if o, ok := interrupted(); ok {
				return 0, "", nil, &o
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				o := Outcome{Code: OutcomeConnectionError, ConnKind: ConnKindReset,
					Detail: "connection closed inside response headers"}
				return 0, "", nil, &o
			}
			o := Outcome{Code: OutcomeProtocolError, ProtocolKind: ProtocolMalformed,
				Detail: fmt.Sprintf("unparseable response headers: %v", err)}
			return 0, "", nil, &o
		}
		if status >= 100 && status < 200 {
			// Informational response; the real one follows.
			continue
		}
		return status, reason, headers, nil
	}
	o := Outcome{Code: OutcomeProtocolError, ProtocolKind: ProtocolMalformed,
		Detail: "too many informational responses"}
	return 0, "", nil, &o
}

// parseStatusLine splits "HTTP/1.x NNN reason".
func parseStatusLine(line string) (int, string, error) {
	httpVersion, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(httpVersion, "HTTP/1.") {
		return 0, "", fmt.Errorf("malformed status line %q", line)
	}
	codeText, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeText)
	if err != nil || len(codeText) != 3 || code < 100 {
		return 0, "", fmt.Errorf("malformed status code in %q", line)
	}
	return code, reason, nil
}
