// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the retrieval CLI command tree. The
// retrieval binary imports this package and dispatches from main; the
// individual commands live here, one file per command, on top of the
// cmd/retrieval/cli framework.
package commands

import (
	"fmt"

	"github.com/bureau-foundation/retrieval/cmd/retrieval/cli"
	"github.com/bureau-foundation/retrieval/lib/version"
)

// Root builds and returns the complete retrieval CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "retrieval",
		Description: `Retrieval: verified HTTP content retrieval.

Fetch content over HTTP chunked transfer encoding, verify it against
an expected digest as it streams, and surface exactly one terminal
outcome per request — to the shell, to an HTTP client, or to a host
process across the boundary contract.`,
		Subcommands: []*cli.Command{
			fetchCommand(),
			digestCommand(),
			conformanceCommand(),
			boundaryCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("retrieval %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Retrieve a blob and verify it as it streams",
				Command:     "retrieval fetch http://origin.example/layer.bin --digest blake3:6f1c9fe2... -o layer.bin",
			},
			{
				Description: "Compute the digest a fetch would verify against",
				Command:     "retrieval digest layer.bin",
			},
			{
				Description: "Check the decoder against the shared conformance corpus",
				Command:     "retrieval conformance",
			},
			{
				Description: "Run the boundary loop for a host process",
				Command:     "retrieval boundary serve --spool /var/cache/retrieval",
			},
		},
	}
}
