package prune

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/arkady-stash/stash/internal/dupscan"
	"github.com/arkady-stash/stash/internal/orderedmap"
)

// Rule binds a GroupDecision to the canonical, sorted-deduplicated
// directory list that produced its directory signature.
type Rule struct {
	Decision GroupDecision
	Dirs     []string
}

// String renders the rule as a verdict header followed by the directory
// list, with the kept directory marked (*) for the indexed variants.
func (r Rule) String() string {
	var header string
	switch r.Decision.Kind {
	case KeepNamedAmongThese:
		header = "--- Keep marked (*) of these"
	case KeepNamedAmongAny:
		header = "--- Keep marked (*) of any"
	case KeepArbitraryOne:
		header = "--- Keep one randomly"
	case KeepOldest:
		header = "--- Keep oldest version"
	case KeepNewest:
		header = "--- Keep latest version"
	default:
		header = "--- Keep as is"
	}

	indexed := r.Decision.Kind == KeepNamedAmongThese || r.Decision.Kind == KeepNamedAmongAny
	var b strings.Builder
	b.WriteString(header)
	for i, dir := range r.Dirs {
		b.WriteByte('\n')
		if indexed && r.Decision.Index == i+1 {
			b.WriteString("(*) ")
		} else {
			b.WriteString("+-- ")
		}
		b.WriteString(dir)
	}
	return b.String()
}

// DecisionProvider asks the user (or a test double) to classify one
// duplicate group, given the group and its canonical directory list,
// returning a raw choice string for ParseGroupDecision. Accepting an
// injected function instead of reading stdin directly is what keeps
// the planner unit-testable.
type DecisionProvider func(group dupscan.DuplicateGroup, dirs []string) (string, error)

// Signature computes the canonical comma-joined, sorted-deduplicated
// parent-directory signature for a group's paths, and returns the
// directory list alongside it.
func Signature(paths []string) (signature string, dirs []string) {
	dirs = make([]string, 0, len(paths))
	for _, p := range paths {
		dirs = append(dirs, filepath.Dir(p))
	}
	sort.Strings(dirs)
	dirs = dedupeSorted(dirs)
	return strings.Join(dirs, ","), dirs
}

func dedupeSorted(s []string) []string {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// CollectRules reduces groups to directory-signature rules:
//
//  1. Computes each group's directory signature.
//  2. Skips groups whose signature spans a single directory - these
//     need a file-level rule this planner does not cover.
//  3. Retains only the first group seen for each distinct signature.
//  4. Calls ask once per retained representative and records its
//     parsed decision, in insertion (first-seen) order.
func CollectRules(groups []dupscan.DuplicateGroup, ask DecisionProvider) (*orderedmap.Map[Rule], error) {
	rules := orderedmap.New[Rule]()

	for _, g := range groups {
		sig, dirs := Signature(g.Paths)
		if len(dirs) == 1 {
			continue
		}
		if rules.Has(sig) {
			continue
		}

		choice, err := ask(g, dirs)
		if err != nil {
			return nil, err
		}
		decision, err := ParseGroupDecision(choice, len(dirs), &GroupDecision{Kind: KeepAll})
		if err != nil {
			return nil, err
		}

		rules.Set(sig, Rule{Decision: decision, Dirs: dirs})
	}

	return rules, nil
}
