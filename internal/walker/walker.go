// Package walker enumerates regular files under a set of root
// directories. The walk is synchronous: the catalogue has exactly one
// writer and the lazy-promotion protocol depends on strict per-file
// ordering, so parallelism here would buy nothing.
package walker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arkady-stash/stash/internal/progress"
)

// Entry describes one regular file discovered by the walker.
type Entry struct {
	Path    string
	Name    string
	Dir     string
	Size    int64
	ModTime int64 // Unix nanoseconds
}

// ErrSink receives non-fatal per-entry errors (permission denied, races
// with concurrent deletion, ...). The walker never treats these as fatal.
type ErrSink func(error)

const readDirBatchSize = 1000

// Dry counts regular files under roots without doing any other work.
// Its result sizes progress reporting for a subsequent Walk call.
func Dry(roots []string) (int, error) {
	count := 0
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return count, fmt.Errorf("resolve %q: %w", root, err)
		}
		if err := walkDir(abs, nil, func(Entry) error { count++; return nil }); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Walk enumerates regular files under roots, invoking fn for each.
// Per-entry errors (unreadable directory, unstatable file) are sent to
// errs and do not stop the walk. When bar is non-nil it is advanced by
// one step for each file, just before fn is called for it; size it with
// Dry's count beforehand.
func Walk(roots []string, bar *progress.Bar, errs ErrSink, fn func(Entry) error) error {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			sendError(errs, fmt.Errorf("resolve %q: %w", root, err))
			continue
		}
		err = walkDir(abs, errs, func(e Entry) error {
			if bar != nil {
				bar.Add(1)
			}
			return fn(e)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// walkDir recursively visits dir depth-first, invoking fn for every
// regular file. Subdirectories are descended into; symlinks (to files
// or directories) and special files are skipped. Per-entry errors go to
// errs and do not abort the walk.
func walkDir(dir string, errs ErrSink, fn func(Entry) error) error {
	f, err := os.Open(dir)
	if err != nil {
		sendError(errs, err)
		return nil
	}

	var files []Entry
	var subdirs []string
	for {
		entries, rerr := f.ReadDir(readDirBatchSize)
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				subdirs = append(subdirs, full)
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			info, ierr := entry.Info()
			if ierr != nil {
				sendError(errs, ierr)
				continue
			}
			files = append(files, Entry{
				Path:    full,
				Name:    entry.Name(),
				Dir:     dir,
				Size:    info.Size(),
				ModTime: info.ModTime().UnixNano(),
			})
		}
		if len(entries) == 0 {
			if rerr != nil && rerr != io.EOF {
				sendError(errs, rerr)
			}
			break
		}
	}
	_ = f.Close()

	for _, file := range files {
		if err := fn(file); err != nil {
			return err
		}
	}
	for _, sub := range subdirs {
		if err := walkDir(sub, errs, fn); err != nil {
			return err
		}
	}
	return nil
}

func sendError(errs ErrSink, err error) {
	if errs != nil && err != nil {
		errs(err)
	}
}
