package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arkady-stash/stash/internal/catalogue"
	"github.com/arkady-stash/stash/internal/dupscan"
	"github.com/arkady-stash/stash/internal/hasher"
	"github.com/arkady-stash/stash/internal/walker"
)

// lengthFast is a test double for the fast tier whose fingerprint is the
// input length mod 2^16: any two files of equal size collide, letting the
// tests trigger lazy promotion without hunting for real xxHash collisions.
type lengthFast struct {
	total  int
	digest string
}

func (l *lengthFast) Update(data []byte) { l.total += len(data) }

func (l *lengthFast) Finalize() {
	l.digest = fmt.Sprintf("%016x", l.total%65536)
	l.total = 0
}

func (l *lengthFast) Digest() string { return l.digest }

// indexTree runs one indexing pass over root into a fresh catalogue and
// returns the committed catalogue reopened read-only.
func indexTree(t *testing.T, root string, fast hasher.ByteHasher, onlyStrong bool) *catalogue.Catalogue {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "stash.db")

	cat, err := catalogue.OpenWritable(dbFile, false, false, onlyStrong)
	if err != nil {
		t.Fatalf("OpenWritable: %v", err)
	}
	sess, err := cat.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	mediumID, err := sess.EnsureMedium("filesystem", "test medium")
	if err != nil {
		t.Fatalf("EnsureMedium: %v", err)
	}

	ix := &indexer{
		sess:     sess,
		mediumID: mediumID,
		fast:     fast,
		strong:   hasher.New(false),
		lazy:     hasher.New(false),
		stats:    &indexStats{startTime: time.Now()},
	}

	err = walker.Walk([]string{root}, nil, nil, ix.processFile)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := cat.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := catalogue.OpenReadOnly(dbFile)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	t.Cleanup(func() { _ = ro.Close() })
	return ro
}

func countStrongRows(t *testing.T, cat *catalogue.Catalogue) map[string]int {
	t.Helper()
	rows := make(map[string]int)
	err := cat.WalkByStrongFP(func(strongFP, _, _ string, _ int64) error {
		rows[strongFP]++
		return nil
	})
	if err != nil {
		t.Fatalf("WalkByStrongFP: %v", err)
	}
	return rows
}

func writeFiles(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("setup: %v", err)
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
}

func TestIndexNoCollisions(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string][]byte{
		"a/x": []byte("hello"),
		"a/y": []byte("world!!"),
	})

	cat := indexTree(t, root, hasher.NewFast(), false)

	if rows := countStrongRows(t, cat); len(rows) != 0 {
		t.Errorf("strong rows = %v, want none without collisions", rows)
	}
	groups, err := dupscan.Scan(cat)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Scan() = %v, want no groups", groups)
	}
}

func TestIndexFastCollisionPromotesBoth(t *testing.T) {
	root := t.TempDir()
	// Same length, different content: collides on the lengthFast tier.
	writeFiles(t, root, map[string][]byte{
		"a/x": []byte("aaaa"),
		"b/y": []byte("bbbb"),
	})

	cat := indexTree(t, root, &lengthFast{}, false)

	rows := countStrongRows(t, cat)
	total := 0
	for fp, n := range rows {
		if len(fp) != hasher.StrongShortDigestSize {
			t.Errorf("strong fingerprint %q has length %d, want %d", fp, len(fp), hasher.StrongShortDigestSize)
		}
		total += n
	}
	if total != 2 || len(rows) != 2 {
		t.Errorf("strong rows = %v, want two rows with distinct fingerprints", rows)
	}

	groups, err := dupscan.Scan(cat)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Scan() = %v, want no groups for distinct content", groups)
	}
}

func TestIndexTrueDuplicates(t *testing.T) {
	root := t.TempDir()
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i)
	}
	writeFiles(t, root, map[string][]byte{
		"a/dup1": content,
		"b/dup2": content,
	})

	cat := indexTree(t, root, hasher.NewFast(), false)

	groups, err := dupscan.Scan(cat)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("Scan() returned %d groups, want 1", len(groups))
	}
	g := groups[0]
	if len(g.Paths) != 2 {
		t.Errorf("group has %d paths, want 2", len(g.Paths))
	}
	if g.Size != 4096 {
		t.Errorf("group size = %d, want 4096", g.Size)
	}
	if len(g.Hash) != hasher.StrongShortDigestSize {
		t.Errorf("group hash %q has length %d, want %d", g.Hash, len(g.Hash), hasher.StrongShortDigestSize)
	}
}

func TestIndexStrongOnlyMode(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string][]byte{
		"a/one": []byte("same content"),
		"b/two": []byte("same content"),
	})

	// fast == nil puts the indexer in strong-only mode.
	cat := indexTree(t, root, nil, true)

	if !cat.Config().OnlyStrong {
		t.Error("catalogue config lost only_strong flag")
	}
	groups, err := dupscan.Scan(cat)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Paths) != 2 {
		t.Fatalf("Scan() = %v, want one group of two", groups)
	}
}

func TestIndexSkipsUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root: permission bits don't restrict access")
	}
	root := t.TempDir()
	writeFiles(t, root, map[string][]byte{
		"ok":     []byte("readable"),
		"secret": []byte("unreadable"),
	})
	if err := os.Chmod(filepath.Join(root, "secret"), 0o000); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// The unreadable file is skipped with a diagnostic; the pass itself
	// must still commit cleanly.
	cat := indexTree(t, root, hasher.NewFast(), false)

	groups, err := dupscan.Scan(cat)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Scan() = %v, want no groups", groups)
	}
}
