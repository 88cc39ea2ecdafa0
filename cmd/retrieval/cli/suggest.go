// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// suggestThreshold bounds how far a near-miss may be from a defined
// name before we stop suggesting it. Distance 3 still catches the
// usual typo shapes: transposed, dropped, doubled characters.
const suggestThreshold = 3

// suggestCommand picks the defined subcommand nearest to the unknown
// input, or "" when nothing is within the threshold.
func suggestCommand(unknown string, commands []*Command) string {
	bestName := ""
	bestDistance := suggestThreshold + 1

	for _, command := range commands {
		if d := levenshtein(unknown, command.Name); d < bestDistance {
			bestDistance = d
			bestName = command.Name
		}
	}

	return bestName
}

// suggestFlag scans args for the first flag the set does not define
// and returns the nearest defined name with its dash prefix restored,
// or "" when nothing is close enough. Only the first unknown flag is
// considered; pflag stops parsing there anyway.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var defined []string
	flagSet.VisitAll(func(f *pflag.Flag) {
		defined = append(defined, f.Name)
	})

	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if index := strings.IndexByte(name, '='); index >= 0 {
			name = name[:index]
		}
		if flagSet.Lookup(name) != nil {
			continue
		}

		bestName := ""
		bestDistance := suggestThreshold + 1
		for _, candidate := range defined {
			if d := levenshtein(name, candidate); d < bestDistance {
				bestDistance = d
				bestName = candidate
			}
		}

		if bestName == "" {
			return ""
		}
		if len(bestName) == 1 {
			return "-" + bestName
		}
		return "--" + bestName
	}

	return ""
}

// levenshtein computes the edit distance between two strings: the
// minimum number of single-character insertions, deletions, and
// substitutions turning one into the other.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// One row of the distance matrix at a time; keep the shorter
	// string across the row for O(min(m,n)) space.
	if len(a) > len(b) {
		a, b = b, a
	}

	previous := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}

	for j := 1; j <= len(b); j++ {
		current := make([]int, len(a)+1)
		current[0] = j

		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			deletion := previous[i] + 1
			insertion := current[i-1] + 1
			substitution := previous[i-1] + cost

			current[i] = min(deletion, insertion, substitution)
		}

		previous = current
	}

	return previous[len(a)]
}
