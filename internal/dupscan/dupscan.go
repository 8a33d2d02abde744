// Package dupscan implements the read-only duplicate query: it returns
// file entries sharing a strong fingerprint, already grouped, in a
// single scan of the catalogue.
package dupscan

import (
	"path/filepath"

	"github.com/arkady-stash/stash/internal/catalogue"
)

// DuplicateGroup is a set of two or more file entries sharing one
// strong fingerprint. Paths[0] is the pivot; the rest are alternates -
// the order the catalogue's forward cursor produced them in.
type DuplicateGroup struct {
	Hash  string
	Size  int64
	Paths []string
}

// Scan walks cat's files_by_strongfp index once and assembles
// DuplicateGroups by consuming contiguous runs of equal strong
// fingerprint - bbolt's sorted cursor iteration already delivers rows
// of the same group next to each other, so no separate count-then-fetch
// pass is needed. Runs of length 1 (a strong fingerprint belonging to
// exactly one file) are not duplicates and are dropped.
func Scan(cat *catalogue.Catalogue) ([]DuplicateGroup, error) {
	var groups []DuplicateGroup
	var cur *DuplicateGroup

	flush := func() {
		if cur != nil && len(cur.Paths) >= 2 {
			groups = append(groups, *cur)
		}
	}

	err := cat.WalkByStrongFP(func(strongFP, dir, name string, size int64) error {
		path := filepath.Join(dir, name)
		if cur != nil && cur.Hash == strongFP {
			cur.Paths = append(cur.Paths, path)
			return nil
		}
		flush()
		cur = &DuplicateGroup{Hash: strongFP, Size: size, Paths: []string{path}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	flush()

	return groups, nil
}
