// Package prune reduces a raw duplicate set to directory-signature
// rules so an interactive user can approve one decision that applies
// to many duplicate groups sharing the same directory pattern.
package prune

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a GroupDecision variant.
type Kind int

const (
	// KeepAll retains every file in the group.
	KeepAll Kind = iota
	// KeepNamedAmongThese retains the file at Index (1-based) in this
	// group's canonical directory list. It applies only to groups
	// matching the same directory signature.
	KeepNamedAmongThese
	// KeepNamedAmongAny is the same as KeepNamedAmongThese but applies
	// to any group where such an index is meaningful.
	KeepNamedAmongAny
	// KeepArbitraryOne retains one unspecified representative.
	KeepArbitraryOne
	// KeepOldest retains the file with the earliest mtime.
	KeepOldest
	// KeepNewest retains the file with the latest mtime.
	KeepNewest
)

func (k Kind) String() string {
	switch k {
	case KeepAll:
		return "Keep all versions"
	case KeepNamedAmongThese:
		return "Keep specific version from specific directories"
	case KeepNamedAmongAny:
		return "Keep specific version from any matching directories"
	case KeepArbitraryOne:
		return "Keep a random version"
	case KeepOldest:
		return "Keep oldest version"
	case KeepNewest:
		return "Keep latest version"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// GroupDecision is the keep-strategy a user attaches to a duplicate
// group (or, consolidated by the planner, to every group sharing a
// directory signature).
type GroupDecision struct {
	Kind  Kind
	Index int // 1-based; only meaningful for KeepNamedAmongThese/KeepNamedAmongAny
}

func (d GroupDecision) String() string {
	if d.Kind == KeepNamedAmongThese || d.Kind == KeepNamedAmongAny {
		return fmt.Sprintf("%s (index %d)", d.Kind, d.Index)
	}
	return d.Kind.String()
}

// ErrInvalidDefault is returned by ParseGroupDecision when def names a
// KeepNamedAmongThese/KeepNamedAmongAny decision - these are inherently
// group-specific and cannot serve as a fallback.
var ErrInvalidDefault = errors.New("prune: KeepNamedAmongThese/KeepNamedAmongAny cannot be used as a default")

// ParseGroupDecision parses a single-letter user choice ("a".."f",
// optionally followed by an index for "b"/"c") into a GroupDecision.
// groupSize bounds the index for the indexed variants. An empty or
// unrecognised input falls back to def when non-nil, or fails.
func ParseGroupDecision(input string, groupSize int, def *GroupDecision) (GroupDecision, error) {
	if def != nil && (def.Kind == KeepNamedAmongThese || def.Kind == KeepNamedAmongAny) {
		return GroupDecision{}, ErrInvalidDefault
	}

	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 {
		return fallback(def)
	}

	switch fields[0][:1] {
	case "a":
		return GroupDecision{Kind: KeepAll}, nil
	case "b", "c":
		if len(fields) < 2 {
			return GroupDecision{}, fmt.Errorf("prune: choice %q requires an index", input)
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			return GroupDecision{}, fmt.Errorf("prune: invalid index %q: %w", fields[1], err)
		}
		if idx < 1 || idx > groupSize {
			return GroupDecision{}, fmt.Errorf("prune: index %d out of range [1,%d]", idx, groupSize)
		}
		kind := KeepNamedAmongThese
		if fields[0][:1] == "c" {
			kind = KeepNamedAmongAny
		}
		return GroupDecision{Kind: kind, Index: idx}, nil
	case "d":
		return GroupDecision{Kind: KeepArbitraryOne}, nil
	case "e":
		return GroupDecision{Kind: KeepOldest}, nil
	case "f":
		return GroupDecision{Kind: KeepNewest}, nil
	default:
		return fallback(def)
	}
}

func fallback(def *GroupDecision) (GroupDecision, error) {
	if def == nil {
		return GroupDecision{}, errors.New("prune: unrecognised choice and no default set")
	}
	return *def, nil
}
