package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arkady-stash/stash/internal/catalogue"
	"github.com/arkady-stash/stash/internal/filehash"
	"github.com/arkady-stash/stash/internal/hasher"
	"github.com/arkady-stash/stash/internal/progress"
	"github.com/arkady-stash/stash/internal/walker"
)

// indexOptions holds CLI flags for the index command.
type indexOptions struct {
	dbFile         string
	bufSizeStr     string
	medium         string
	mediumDescr    string
	forceOverwrite bool
	noMmap         bool
	longStrong     bool
	onlyStrong     bool
	verbose        bool
	noProgress     bool
}

// newIndexCmd creates the index subcommand.
func newIndexCmd() *cobra.Command {
	opts := &indexOptions{}

	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Record files under the given paths into a catalogue",
		Long: `Walks the given paths and records every regular file into the catalogue,
fingerprinting each one so the duplicates command can identify redundant
copies later.

By default every file gets a cheap fast fingerprint; a strong (cryptographic)
fingerprint is computed only when two files collide on the fast one. Use
--strong-only to hash everything with the strong algorithm up front.

The fingerprinting mode is locked into the catalogue at creation: reopening
an existing catalogue with different --long-strong-hash/--strong-only flags
is refused.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			return runIndex(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.dbFile, "db", "d", "stash.db", "Catalogue file")
	cmd.Flags().BoolVarP(&opts.forceOverwrite, "force-overwrite", "f", false, "Overwrite an existing catalogue file")
	cmd.Flags().BoolVarP(&opts.noMmap, "no-mmap", "r", false, "Don't mmap(2), use read(2) instead")
	cmd.Flags().BoolVarP(&opts.longStrong, "long-strong-hash", "s", false, "Prefer SHA-512 over MD5 for strong hashing")
	cmd.Flags().BoolVarP(&opts.onlyStrong, "strong-only", "l", false, "Disable fast hashing (and perform only strong hashing)")
	cmd.Flags().StringVarP(&opts.medium, "medium", "m", "filesystem", "Medium label to record files under")
	cmd.Flags().StringVar(&opts.mediumDescr, "medium-description", "", "Free-form description of the medium")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print each file as it is indexed")
	cmd.Flags().StringVarP(&opts.bufSizeStr, "buffer-size", "b", "8MiB", "Read-buffer size for non-mmap reads (e.g., 1M, 8MiB)")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	return cmd
}

// indexStats tracks indexing progress for the progress bar description.
type indexStats struct {
	files     int64
	bytes     int64
	promoted  int64
	skipped   int64
	startTime time.Time
}

func (s *indexStats) String() string {
	return fmt.Sprintf("Indexed %d files (%s), %d promoted, %d skipped in %.1fs",
		s.files, humanize.IBytes(uint64(s.bytes)),
		s.promoted, s.skipped, time.Since(s.startTime).Seconds())
}

// indexer is the per-file indexing loop: it drives the two-tier hashing
// scheme, including lazy promotion of fast-fingerprint collision partners,
// and records each file into the catalogue session.
type indexer struct {
	sess     *catalogue.Session
	mediumID uint64

	fast   hasher.ByteHasher // nil in strong-only mode
	strong hasher.ByteHasher
	lazy   hasher.ByteHasher // strong hasher reserved for promoting collision partners

	fh      filehash.Options
	stats   *indexStats
	verbose bool
}

// processFile fingerprints one file and records it.
//
// Transient failures (the file cannot be opened or read) are reported to
// stderr and skipped; the walk continues. A failure to re-read a collision
// partner during lazy promotion is fatal: skipping it would leave the
// partner's row permanently ambiguous against the newcomer's.
func (ix *indexer) processFile(e walker.Entry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		ix.skip(fmt.Errorf("failed to open file (%v)", err))
		return nil
	}
	defer func() { _ = f.Close() }()

	var fastFP, strongFP *string

	if ix.fast != nil {
		digest, err := filehash.Hash(ix.fast, f, e.Size, ix.fh)
		if err != nil {
			ix.skip(fmt.Errorf("%s: %v", e.Path, err))
			return nil
		}
		fastFP = &digest

		pk, dir, name, found, err := ix.sess.ProbeFastCollision(digest)
		if err != nil {
			return err
		}
		if found {
			if err := ix.promote(pk, dir, name); err != nil {
				return fmt.Errorf("lazy promotion of %s: %w", filepath.Join(dir, name), err)
			}
			sd, err := ix.strongHash(f, e.Size)
			if err != nil {
				ix.skip(fmt.Errorf("%s: %v", e.Path, err))
				return nil
			}
			strongFP = &sd
		}
	} else {
		sd, err := ix.strongHash(f, e.Size)
		if err != nil {
			ix.skip(fmt.Errorf("%s: %v", e.Path, err))
			return nil
		}
		strongFP = &sd
	}

	if err := ix.sess.RecordFile(ix.mediumID, e.Dir, e.Name, e.Size, fastFP, strongFP); err != nil {
		return err
	}

	ix.stats.files++
	ix.stats.bytes += e.Size
	if ix.verbose {
		fmt.Fprintf(os.Stderr, "\r\033[K%s\n", e.Path)
	}
	return nil
}

// strongHash rewinds f and runs the strong hasher over it. The rewind
// matters on the buffered read path, where an earlier fast-hash pass has
// already consumed the file offset.
func (ix *indexer) strongHash(f *os.File, size int64) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return filehash.Hash(ix.strong, f, size, ix.fh)
}

// promote computes the strong fingerprint of an already-indexed collision
// partner by re-opening its recorded path, and writes it into the
// partner's row. Re-promoting an already-promoted partner recomputes the
// same digest and is a harmless no-op write.
func (ix *indexer) promote(pk []byte, dir, name string) error {
	path := filepath.Join(dir, name)
	pf, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = pf.Close() }()

	info, err := pf.Stat()
	if err != nil {
		return err
	}
	digest, err := filehash.Hash(ix.lazy, pf, info.Size(), ix.fh)
	if err != nil {
		return err
	}
	if err := ix.sess.PromoteStrong(pk, digest); err != nil {
		return err
	}
	ix.stats.promoted++
	return nil
}

func (ix *indexer) skip(err error) {
	ix.stats.skipped++
	fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
}

// runIndex executes one indexing pass: dry-run count → open catalogue →
// single write session covering the whole walk → commit (or rollback on
// any fatal error, leaving the catalogue untouched).
func runIndex(paths []string, opts *indexOptions) error {
	bufSize, err := parseSize(opts.bufSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --buffer-size: %w", err)
	}

	total, err := walker.Dry(paths)
	if err != nil {
		return err
	}

	cat, err := catalogue.OpenWritable(opts.dbFile, opts.forceOverwrite, opts.longStrong, opts.onlyStrong)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	sess, err := cat.Begin()
	if err != nil {
		return err
	}

	mediumID, err := sess.EnsureMedium(opts.medium, opts.mediumDescr)
	if err != nil {
		_ = sess.Rollback()
		return err
	}

	stats := &indexStats{startTime: time.Now()}
	bar := progress.New(!opts.noProgress, int64(total))
	bar.Describe(stats)

	ix := &indexer{
		sess:     sess,
		mediumID: mediumID,
		strong:   hasher.New(opts.longStrong),
		lazy:     hasher.New(opts.longStrong),
		fh:       filehash.Options{NoMmap: opts.noMmap, BufferSize: int(bufSize)},
		stats:    stats,
		verbose:  opts.verbose,
	}
	if !opts.onlyStrong {
		ix.fast = hasher.NewFast()
	}

	errSink := func(err error) {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}

	if err := walker.Walk(paths, bar, errSink, ix.processFile); err != nil {
		_ = sess.Rollback()
		return err
	}

	if err := sess.Commit(); err != nil {
		return err
	}
	bar.Finish(stats)
	return nil
}
