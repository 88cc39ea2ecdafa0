// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/retrieval/cmd/retrieval/cli"
	"github.com/bureau-foundation/retrieval/lib/boundary"
	"github.com/bureau-foundation/retrieval/lib/codec"
	"github.com/bureau-foundation/retrieval/lib/fetch"
	"github.com/bureau-foundation/retrieval/lib/spool"
)

func boundaryCommand() *cli.Command {
	return &cli.Command{
		Name:    "boundary",
		Summary: "Serve and inspect the host boundary contract",
		Description: `Tools for the framed CBOR contract a host process uses to drive
retrievals: "serve" runs the request/result loop over stdio, and
"decode" renders contract frames as CBOR diagnostic notation.`,
		Subcommands: []*cli.Command{
			boundaryServeCommand(),
			boundaryDecodeCommand(),
		},
	}
}

func boundaryServeCommand() *cli.Command {
	var (
		spoolDir  string
		maxBytes  int64
		timeout   time.Duration
		userAgent string
	)

	return &cli.Command{
		Name:    "serve",
		Summary: "Run the boundary loop over stdio",
		Description: `Read length-prefixed CBOR request frames from stdin and answer each
with exactly one result frame on stdout. This is the entry point a
host process embeds: spawn the binary, write requests, read verdicts.

Results carry the outcome, never the content. With --spool, verified
payloads are committed to a spool directory the host can read by
digest path; without it, content is verified and discarded. The loop
ends when the host closes stdin.

Logs go to stderr and never mix with the result stream.`,
		Usage: "retrieval boundary serve [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flagSet.StringVar(&spoolDir, "spool", "", "commit verified payloads to this spool directory")
			flagSet.Int64Var(&maxBytes, "max-bytes", 0, "default decoded-size cap for requests that set none")
			flagSet.DurationVar(&timeout, "timeout", 20*time.Second, "default session timeout for requests that set none")
			flagSet.StringVar(&userAgent, "user-agent", "", "default outbound User-Agent header")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Drive one request through the loop from a shell",
				Command:     "cat request.frame | retrieval boundary serve > result.frame",
			},
			{
				Description: "Serve with a spool so the host can read verified content",
				Command:     "retrieval boundary serve --spool /var/cache/retrieval",
			},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("serve takes no positional arguments, got %q", args[0])
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := cli.NewCommandLogger(slog.LevelInfo).With("command", "boundary/serve")

			sessionConfig := fetch.Config{
				Logger:    logger,
				MaxBytes:  maxBytes,
				Timeout:   timeout,
				UserAgent: userAgent,
			}
			// Surface config problems before the host commits to the
			// stream; after this every request gets a Result.
			if _, err := fetch.New(sessionConfig); err != nil {
				return err
			}

			var store *spool.Spool
			if spoolDir != "" {
				var err error
				store, err = spool.Open(spool.Config{Directory: spoolDir, Logger: logger})
				if err != nil {
					return fmt.Errorf("opening spool: %w", err)
				}
				defer store.Close()
			}

			return boundary.Serve(ctx, os.Stdin, os.Stdout, boundaryRunner(sessionConfig, store, logger))
		},
	}
}

// boundaryRunner builds the per-request executor for the serve loop:
// one single-use session per request, with verified payloads committed
// to the spool when one is configured. The Result never carries
// content, so without a spool the payload is verified and discarded.
func boundaryRunner(config fetch.Config, store *spool.Spool, logger *slog.Logger) boundary.Runner {
	return func(ctx context.Context, req fetch.Request) fetch.Outcome {
		session, err := fetch.New(config)
		if err != nil {
			return fetch.Outcome{
				Code:     fetch.OutcomeConnectionError,
				ConnKind: fetch.ConnKindOther,
				Detail:   fmt.Sprintf("session construction: %v", err),
			}
		}

		sink := io.Writer(io.Discard)
		var put *spool.PutWriter
		if store != nil {
			cached, err := store.Contains(ctx, req.Digest)
			if err != nil {
				logger.Warn("spool lookup failed", "digest", req.Digest.String(), "error", err)
			} else if !cached {
				put, err = store.Put(req.Digest, req.URL)
				if err != nil {
					logger.Warn("spool write unavailable", "digest", req.Digest.String(), "error", err)
					put = nil
				} else {
					defer put.Abort()
					sink = put
				}
			}
		}

		outcome := session.Fetch(ctx, req, sink)

		if outcome.Code == fetch.OutcomeVerified && put != nil {
			if err := put.Commit(ctx); err != nil {
				logger.Warn("spool commit failed", "digest", req.Digest.String(), "error", err)
			}
		}
		return outcome
	}
}

func boundaryDecodeCommand() *cli.Command {
	return &cli.Command{
		Name:    "decode",
		Summary: "Render contract frames as CBOR diagnostic notation",
		Description: `Read length-prefixed contract frames from a file (or stdin when the
argument is "-") and print each frame's payload in RFC 8949 Extended
Diagnostic Notation, one line per frame.

Diagnostic notation preserves CBOR type information — integer vs
float, byte strings vs text strings — so this shows the exact wire
representation a peer produced, which JSON output would flatten.`,
		Usage: "retrieval boundary decode <file|->",
		Examples: []cli.Example{
			{
				Description: "Inspect a captured request frame",
				Command:     "retrieval boundary decode request.frame",
			},
			{
				Description: "Watch the results a serve loop produces",
				Command:     "retrieval boundary serve < requests.bin | retrieval boundary decode -",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("decode takes exactly one file argument (or \"-\" for stdin), got %d", len(args))
			}
			input := io.Reader(os.Stdin)
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				input = file
			}
			return decodeFrames(input, os.Stdout)
		},
	}
}

// decodeFrames renders every frame in r as diagnostic notation, one
// line each.
func decodeFrames(r io.Reader, w io.Writer) error {
	for frameIndex := 0; ; frameIndex++ {
		payload, err := boundary.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			if frameIndex == 0 {
				return fmt.Errorf("empty input: expected at least one frame")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", frameIndex, err)
		}
		notation, err := codec.Diagnose(payload)
		if err != nil {
			return fmt.Errorf("frame %d: diagnose: %w", frameIndex, err)
		}
		if _, err := fmt.Fprintln(w, notation); err != nil {
			return err
		}
	}
}
