// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/retrieval/cmd/retrieval/cli"
	"github.com/bureau-foundation/retrieval/lib/digest"
	"github.com/bureau-foundation/retrieval/lib/fetch"
)

func fetchCommand() *cli.Command {
	var (
		digestText string
		outputPath string
		timeout    time.Duration
		maxBytes   int64
		userAgent  string
		quiet      bool
		verbose    bool
	)

	return &cli.Command{
		Name:    "fetch",
		Summary: "Retrieve one URL and verify its digest",
		Description: `Retrieve content from an HTTP origin, decode its chunked transfer
encoding, and verify the decoded bytes against an expected digest.

Verified content goes to stdout, or to the file named by -o. File
output is written to a temporary sibling and renamed into place only
when verification succeeds, so the named file never holds unverified
bytes. Stdout output streams as it decodes; a non-zero exit is the
only signal that streamed bytes must be discarded.

The exit code is the outcome: 0 verified, 10 mismatch, 11 protocol
error, 12 connection error, 13 timed out, 14 cancelled. A one-line
summary goes to stderr unless --quiet is set.`,
		Usage: "retrieval fetch <url> --digest <algorithm>:<hex> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
			flagSet.StringVar(&digestText, "digest", "", "expected digest as <algorithm>:<hex> (required)")
			flagSet.StringVarP(&outputPath, "output", "o", "", "write verified content to this file instead of stdout")
			flagSet.DurationVar(&timeout, "timeout", 20*time.Second, "bound the session from connect through verify")
			flagSet.Int64Var(&maxBytes, "max-bytes", 0, "cap the decoded size in bytes (0 = unbounded)")
			flagSet.StringVar(&userAgent, "user-agent", "", "override the outbound User-Agent header")
			flagSet.BoolVarP(&quiet, "quiet", "q", false, "suppress the outcome summary on stderr")
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "log session progress to stderr")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Retrieve a blob to a file, verifying as it streams",
				Command:     "retrieval fetch http://origin.example/layer.bin --digest blake3:6f1c9fe2... -o layer.bin",
			},
			{
				Description: "Pipe verified content into another tool",
				Command:     "retrieval fetch http://origin.example/index.json --digest sha256:9b871b6e... | jq .",
			},
			{
				Description: "Branch on the outcome in a script",
				Command:     "retrieval fetch \"$url\" --digest \"$digest\" -o blob || echo \"failed with $?\"",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("fetch takes exactly one URL argument, got %d", len(args))
			}
			if digestText == "" {
				return fmt.Errorf("--digest is required")
			}
			expected, err := digest.Parse(digestText)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := slog.New(slog.DiscardHandler)
			if verbose {
				logger = cli.NewCommandLogger(slog.LevelDebug).With("command", "fetch")
			}

			return runFetch(ctx, fetchInvocation{
				url:        args[0],
				digest:     expected,
				outputPath: outputPath,
				timeout:    timeout,
				maxBytes:   maxBytes,
				userAgent:  userAgent,
				quiet:      quiet,
				stdout:     os.Stdout,
				stderr:     os.Stderr,
				logger:     logger,
			})
		},
	}
}

// fetchInvocation is one resolved fetch command, with its streams
// injected so tests can capture them.
type fetchInvocation struct {
	url        string
	digest     digest.Digest
	outputPath string // empty means stream to stdout
	timeout    time.Duration
	maxBytes   int64
	userAgent  string
	quiet      bool
	stdout     io.Writer
	stderr     io.Writer
	logger     *slog.Logger
}

// runFetch runs one session and maps its outcome to the process exit
// code. File output goes through a .partial sibling that is renamed
// into place only on a verified outcome.
func runFetch(ctx context.Context, inv fetchInvocation) error {
	session, err := fetch.New(fetch.Config{
		Logger:    inv.logger,
		MaxBytes:  inv.maxBytes,
		Timeout:   inv.timeout,
		UserAgent: inv.userAgent,
	})
	if err != nil {
		return err
	}

	sink := inv.stdout
	var partial *os.File
	if inv.outputPath != "" {
		partialPath := inv.outputPath + ".partial"
		partial, err = os.Create(partialPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", partialPath, err)
		}
		sink = partial
	}

	outcome := session.Fetch(ctx, fetch.Request{
		URL:    inv.url,
		Digest: inv.digest,
	}, sink)

	if partial != nil {
		if err := finishOutput(partial, inv.outputPath, outcome.Code == fetch.OutcomeVerified); err != nil {
			return err
		}
	}

	if !inv.quiet {
		fmt.Fprintln(inv.stderr, summarizeOutcome(inv.digest, outcome))
	}

	if outcome.Code == fetch.OutcomeVerified {
		return nil
	}
	return &cli.ExitError{Code: outcomeExitCode(outcome.Code)}
}

// finishOutput completes file output: on a verified outcome the
// .partial file is synced and renamed to its final name; otherwise it
// is removed so no unverified bytes survive under any name.
func finishOutput(partial *os.File, finalPath string, verified bool) error {
	if !verified {
		partial.Close()
		os.Remove(partial.Name())
		return nil
	}
	if err := partial.Sync(); err != nil {
		partial.Close()
		return fmt.Errorf("syncing %s: %w", partial.Name(), err)
	}
	if err := partial.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", partial.Name(), err)
	}
	if err := os.Rename(partial.Name(), finalPath); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// outcomeExitCode maps a terminal outcome to the fetch exit code. Each
// failure kind gets a distinct code so scripts can branch on retry
// policy without parsing output.
func outcomeExitCode(code fetch.OutcomeCode) int {
	switch code {
	case fetch.OutcomeVerified:
		return 0
	case fetch.OutcomeMismatch:
		return 10
	case fetch.OutcomeProtocolError:
		return 11
	case fetch.OutcomeConnectionError:
		return 12
	case fetch.OutcomeTimedOut:
		return 13
	case fetch.OutcomeCancelled:
		return 14
	default:
		return 1
	}
}

// summarizeOutcome renders the one-line summary printed to stderr.
// The expected digest comes from the request: a verified outcome
// carries no digest of its own (the match is the result).
func summarizeOutcome(expected digest.Digest, outcome fetch.Outcome) string {
	switch outcome.Code {
	case fetch.OutcomeVerified:
		return fmt.Sprintf("verified %s (%d bytes in %s)",
			expected, outcome.ByteCount, outcome.Elapsed.Round(time.Millisecond))
	case fetch.OutcomeMismatch:
		return fmt.Sprintf("mismatch: expected %s, got %s (%d bytes)",
			outcome.Expected, outcome.Actual, outcome.ByteCount)
	case fetch.OutcomeProtocolError:
		return fmt.Sprintf("protocol error (%s) at byte %d: %s",
			outcome.ProtocolKind, outcome.Offset, outcome.Detail)
	case fetch.OutcomeConnectionError:
		return fmt.Sprintf("connection error (%s): %s", outcome.ConnKind, outcome.Detail)
	case fetch.OutcomeTimedOut:
		return fmt.Sprintf("timed out after %s (%d bytes delivered)",
			outcome.Elapsed.Round(time.Millisecond), outcome.ByteCount)
	case fetch.OutcomeCancelled:
		return fmt.Sprintf("cancelled (%d bytes delivered)", outcome.ByteCount)
	default:
		return outcome.Code.String()
	}
}
