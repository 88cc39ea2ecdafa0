// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/retrieval/cmd/retrieval/cli"
	"github.com/bureau-foundation/retrieval/lib/digest"
)

func digestCommand() *cli.Command {
	var algorithmName string

	return &cli.Command{
		Name:    "digest",
		Summary: "Compute the digest of a file or stdin",
		Description: `Compute a content digest in the <algorithm>:<hex> form the rest of
the tooling consumes: "retrieval fetch --digest", the daemon's
/fetch/{digest} path, and the boundary contract's digest field.

Reads the named file, or stdin when the argument is "-".`,
		Usage: "retrieval digest <file|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("digest", pflag.ContinueOnError)
			flagSet.StringVarP(&algorithmName, "algorithm", "a", "blake3", "digest algorithm: blake3, sha256, or blake2b")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Digest a file with the default algorithm",
				Command:     "retrieval digest layer.bin",
			},
			{
				Description: "Digest stdin with sha256",
				Command:     "curl -s http://origin.example/a.bin | retrieval digest -a sha256 -",
			},
			{
				Description: "Feed a file's identity into a retrieval",
				Command:     "retrieval fetch \"$url\" --digest \"$(retrieval digest original.bin | cut -d' ' -f1)\"",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("digest takes exactly one file argument (or \"-\" for stdin), got %d", len(args))
			}
			algorithm, err := digest.ParseAlgorithm(algorithmName)
			if err != nil {
				return err
			}
			return runDigest(algorithm, args[0], os.Stdin, os.Stdout)
		},
	}
}

// runDigest computes and prints one digest line. The trailing name
// matches coreutils checksum output so the line splits predictably.
func runDigest(algorithm digest.Algorithm, path string, stdin io.Reader, stdout io.Writer) error {
	var (
		d    digest.Digest
		err  error
		name = path
	)
	if path == "-" {
		d, _, err = digest.Compute(algorithm, stdin)
	} else {
		d, _, err = digest.ComputeFile(algorithm, path)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s  %s\n", d, name)
	return err
}
