// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/retrieval/cmd/retrieval/cli"
	"github.com/bureau-foundation/retrieval/lib/conformance"
)

func conformanceCommand() *cli.Command {
	var (
		filter string
		seed   int64
	)

	return &cli.Command{
		Name:    "conformance",
		Summary: "Run the decoder conformance corpus",
		Description: `Run every case in the embedded conformance corpus against the chunked
decoder, under each standard input segmentation (the whole stream in
one read, one byte per read, seeded random split sizes). A case passes
only when its terminal result is identical under all three — decoder
results must not depend on how the network fragments the stream.

The corpus hash printed in the summary identifies the fixture set;
peer implementations report the same hash when they ran the same
corpus.`,
		Usage: "retrieval conformance [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("conformance", pflag.ContinueOnError)
			flagSet.StringVar(&filter, "filter", "", "run only cases whose name contains this substring")
			flagSet.Int64Var(&seed, "seed", 1, "seed for the random-splits segmentation")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Run the full corpus",
				Command:     "retrieval conformance",
			},
			{
				Description: "Run only the truncation cases with a different split pattern",
				Command:     "retrieval conformance --filter truncated --seed 42",
			},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("conformance takes no positional arguments, got %q", args[0])
			}
			failures, err := runConformance(os.Stdout, filter, seed)
			if err != nil {
				return err
			}
			if failures > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// runConformance executes the corpus and writes the result table and
// summary to w. Returns the number of failing case/segmentation pairs.
func runConformance(w io.Writer, filter string, seed int64) (int, error) {
	cases, err := conformance.Cases()
	if err != nil {
		return 0, err
	}
	sourceHash, err := conformance.SourceHash()
	if err != nil {
		return 0, err
	}
	segmentations := conformance.StandardSegmentations(seed)

	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "CASE\tSEGMENTATION\tRESULT\n")

	ran := 0
	failures := 0
	for _, c := range cases {
		if filter != "" && !strings.Contains(c.Name, filter) {
			continue
		}
		for _, seg := range segmentations {
			ran++
			if err := conformance.Run(c, seg); err != nil {
				failures++
				fmt.Fprintf(tw, "%s\t%s\tFAIL: %v\n", c.Name, seg.Name, err)
			} else {
				fmt.Fprintf(tw, "%s\t%s\tok\n", c.Name, seg.Name)
			}
		}
	}
	tw.Flush()

	if ran == 0 {
		return 0, fmt.Errorf("no cases match filter %q", filter)
	}
	fmt.Fprintf(w, "\n%d runs, %d failures\ncorpus %s\n", ran, failures, sourceHash)
	return failures, nil
}
