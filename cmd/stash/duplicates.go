package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arkady-stash/stash/internal/catalogue"
	"github.com/arkady-stash/stash/internal/dupscan"
	"github.com/arkady-stash/stash/internal/prune"
)

// duplicatesOptions holds CLI flags for the duplicates command.
type duplicatesOptions struct {
	dbFile  string
	verbose bool
	prune   bool
}

// newDuplicatesCmd creates the duplicates subcommand.
func newDuplicatesCmd() *cobra.Command {
	opts := &duplicatesOptions{}

	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Identify duplicate files recorded in a catalogue",
		Long: `Queries the catalogue for groups of files sharing a strong fingerprint
and prints one group per line (or one file per line with --verbose).

With --prune, groups spanning more than one directory are consolidated by
their directory signature and you are asked, once per signature, how files
matching that pattern should be kept.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDuplicates(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.dbFile, "db", "d", "stash.db", "Catalogue file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Hierarchical output plus summary totals")
	cmd.Flags().BoolVarP(&opts.prune, "prune", "p", false, "Collect prune rules for duplicates interactively")

	return cmd
}

// renderGroups prints duplicate groups to w and returns the number of
// bytes that removing all but one copy per group would free.
//
// Default rendering is one comma-separated line per group; verbose
// rendering puts the pivot on its own line with alternates nested under
// it.
func renderGroups(w io.Writer, groups []dupscan.DuplicateGroup, verbose bool) uint64 {
	var freed uint64
	for _, g := range groups {
		freed += uint64(len(g.Paths)-1) * uint64(g.Size)
		if verbose {
			fmt.Fprintln(w, g.Paths[0])
			for _, p := range g.Paths[1:] {
				fmt.Fprintln(w, "`-- "+p)
			}
		} else {
			fmt.Fprintln(w, strings.Join(g.Paths, ","))
		}
	}
	return freed
}

// countPruneCases reports how many decisions the prune workflow will ask
// for: the number of distinct multi-directory signatures, mirroring the
// planner's own filter so the prompt can show "i of N".
func countPruneCases(groups []dupscan.DuplicateGroup) int {
	seen := make(map[string]bool)
	count := 0
	for _, g := range groups {
		sig, dirs := prune.Signature(g.Paths)
		if len(dirs) == 1 || seen[sig] {
			continue
		}
		seen[sig] = true
		count++
	}
	return count
}

// formatIndexedPaths renders a group's paths one per line, numbered from
// 1, for the decision prompt.
func formatIndexedPaths(paths []string) string {
	var b strings.Builder
	for i, p := range paths {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, p)
	}
	return b.String()
}

// promptDecisionProvider returns a prune.DecisionProvider that prints the
// group and the strategy menu to out and reads one choice line from in.
// Injected into the planner so the planner itself never touches stdin.
func promptDecisionProvider(in io.Reader, out io.Writer, total int) prune.DecisionProvider {
	reader := bufio.NewReader(in)
	idx := 0
	return func(g dupscan.DuplicateGroup, _ []string) (string, error) {
		idx++
		fmt.Fprintf(out, "How should we handle this? [%d of %d decisions]\n%s\n",
			idx, total, formatIndexedPaths(g.Paths))
		fmt.Fprintf(out, "a. %s\n", prune.KeepAll)
		fmt.Fprintf(out, "b. %s (requires index parameter)\n", prune.KeepNamedAmongThese)
		fmt.Fprintf(out, "c. %s (requires index parameter)\n", prune.KeepNamedAmongAny)
		fmt.Fprintf(out, "d. %s\n", prune.KeepArbitraryOne)
		fmt.Fprintf(out, "e. %s\n", prune.KeepOldest)
		fmt.Fprintf(out, "f. %s\n", prune.KeepNewest)

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read choice: %w", err)
		}
		return line, nil
	}
}

// runDuplicates executes one duplicate report: open read-only, scan,
// render, and optionally collect prune rules.
func runDuplicates(opts *duplicatesOptions) error {
	cat, err := catalogue.OpenReadOnly(opts.dbFile)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	groups, err := dupscan.Scan(cat)
	if err != nil {
		return err
	}

	freed := renderGroups(os.Stdout, groups, opts.verbose)
	if opts.verbose {
		fmt.Printf("%d sets of duplicate files found\n", len(groups))
		fmt.Printf("%d bytes would be freed by removing duplicates (%s)\n",
			freed, humanize.IBytes(freed))
	}

	if !opts.prune {
		return nil
	}

	provider := promptDecisionProvider(os.Stdin, os.Stdout, countPruneCases(groups))
	rules, err := prune.CollectRules(groups, provider)
	if err != nil {
		return err
	}
	rules.Each(func(_ string, r prune.Rule) {
		fmt.Println(r)
	})
	return nil
}
