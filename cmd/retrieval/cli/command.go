// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the CLI tree: either a group that dispatches
// to Subcommands by the first positional argument, or a leaf with a
// Run function.
type Command struct {
	// Name is what the user types to select this command ("fetch",
	// "boundary").
	Name string

	// Summary is the one-liner shown in the parent's command listing.
	Summary string

	// Description is the longer text shown at the top of this
	// command's own help. Falls back to Summary when empty.
	Description string

	// Usage overrides the synthesized usage line, for leaves with
	// positional arguments ("retrieval fetch <url> [flags]").
	Usage string

	// Examples are rendered at the bottom of the help output.
	Examples []Example

	// Flags builds the command's flag set. Invoked fresh for each
	// parse and for help rendering, so the returned set must be newly
	// constructed, not shared. Nil means no flags.
	Flags func() *pflag.FlagSet

	// Subcommands, when non-empty, are dispatched by args[0].
	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing.
	// Groups leave it nil; a group with a nil Run prints help when
	// invoked bare.
	Run func(args []string) error

	// parent is filled in during dispatch so help and errors can show
	// the full invocation path.
	parent *Command
}

// Example pairs a shell line with the sentence describing it.
type Example struct {
	// Description explains what the example does.
	Description string
	// Command is the literal command line.
	Command string
}

// Execute resolves args against the command tree: help flags first,
// then subcommand dispatch, then flag parsing, then Run. Errors from
// parsing carry a suggestion for the nearest known name when one is
// close enough.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}

	if len(c.Subcommands) > 0 && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return c.dispatch(args)
	}

	// A bare group has nothing to run; print help. The error keeps
	// the exit status non-zero so scripts notice the missing
	// subcommand.
	if len(c.Subcommands) > 0 && c.Run == nil {
		if len(args) == 0 {
			c.PrintHelp(os.Stderr)
			return fmt.Errorf("subcommand required")
		}
		if isHelpFlag(args[0]) {
			c.PrintHelp(os.Stderr)
			return nil
		}
		c.PrintHelp(os.Stderr)
		return fmt.Errorf("subcommand required (got flag %q)", args[0])
	}

	if c.Flags != nil {
		rest, err := c.parseFlags(args)
		if err != nil {
			return err
		}
		args = rest
	}

	if c.Run != nil {
		return c.Run(args)
	}

	c.PrintHelp(os.Stderr)
	return fmt.Errorf("no action defined for %q", c.fullName())
}

// dispatch routes args[0] to the matching subcommand, or builds the
// unknown-command error with a near-miss suggestion.
func (c *Command) dispatch(args []string) error {
	name := args[0]
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			sub.parent = c
			return sub.Execute(args[1:])
		}
	}

	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		return fmt.Errorf("unknown command %q (did you mean %q?)\n\nRun '%s --help' for usage.",
			name, suggestion, c.fullName())
	}
	return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.",
		name, c.fullName())
}

// parseFlags runs the command's flag set over args and returns the
// remaining positionals. Parse errors are reworded to include a
// suggestion (for misspelled flags) and a pointer to --help.
func (c *Command) parseFlags(args []string) ([]string, error) {
	flagSet := c.Flags()

	// pflag's own failure output duplicates what the returned error
	// says; keep stderr quiet and format the message ourselves.
	flagSet.SetOutput(io.Discard)

	if err := flagSet.Parse(args); err != nil {
		errMsg := err.Error()

		if strings.Contains(errMsg, "unknown flag") {
			// The failed parse may have consumed values, so give the
			// suggestion scan a fresh flag set.
			if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
				return nil, fmt.Errorf("%s (did you mean %s?)\n\nRun '%s --help' for usage.",
					errMsg, suggestion, c.fullName())
			}
		}

		return nil, fmt.Errorf("%s\n\nRun '%s --help' for usage.",
			errMsg, c.fullName())
	}
	return flagSet.Args(), nil
}

// PrintHelp renders the help text for this command to w: description,
// usage, subcommand table, flags, examples, and the per-command help
// hint for groups.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	if c.Description != "" {
		fmt.Fprintf(w, "%s\n\n", c.Description)
	} else if c.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	switch {
	case c.Usage != "":
		fmt.Fprintf(w, "Usage:\n  %s\n", c.Usage)
	case len(c.Subcommands) > 0:
		fmt.Fprintf(w, "Usage:\n  %s <command> [flags]\n", name)
	default:
		fmt.Fprintf(w, "Usage:\n  %s [flags]\n", name)
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if c.Flags != nil {
		flagSet := c.Flags()
		var flagHelp strings.Builder
		flagSet.SetOutput(&flagHelp)
		flagSet.PrintDefaults()
		if flagHelp.Len() > 0 {
			fmt.Fprintf(w, "\nFlags:\n%s", flagHelp.String())
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
			if example.Description != "" {
				fmt.Fprintln(w)
			}
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

// fullName walks parent links to the root, producing the invocation
// path ("retrieval boundary serve").
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
