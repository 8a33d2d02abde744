// Package catalogue implements the persistent, single-writer store of
// indexed file entries.
//
// # Why bbolt
//
// The store is backed by go.etcd.io/bbolt rather than an external SQL
// engine. Two properties of bbolt carry most of the load here:
//
//   - bbolt allows exactly one writable transaction at a time; the
//     indexing session needs exactly one writer, with no extra locking
//     of our own.
//   - bbolt buckets iterate keys in sorted byte order. Indexing the
//     files bucket by "strongFP || primaryKey" means a single forward
//     cursor walk visits every duplicate group's rows contiguously -
//     exactly the property the duplicate query relies on - without a
//     GROUP BY/JOIN engine underneath.
//
// The schema is a fixed set of top-level buckets: config, media (plus a
// label index), files, and one bucket per secondary index on files.
package catalogue

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"go.etcd.io/bbolt"
)

// schemaVersion is major.minor packed into 16 bits, major in the high
// byte. Catalogues are accepted across minor revisions only.
const schemaVersion uint16 = 0x0100

const schemaVersionMajorMask = 0xff00

var (
	bucketConfig        = []byte("config")
	bucketMedia         = []byte("media")
	bucketMediaByLabel  = []byte("media_by_label")
	bucketFiles         = []byte("files")
	bucketFilesByFastFP = []byte("files_by_fastfp")
	bucketFilesByStrong = []byte("files_by_strongfp")
	bucketFilesBySize   = []byte("files_by_size")
	bucketFilesByName   = []byte("files_by_name")

	allBuckets = [][]byte{
		bucketConfig, bucketMedia, bucketMediaByLabel, bucketFiles,
		bucketFilesByFastFP, bucketFilesByStrong, bucketFilesBySize, bucketFilesByName,
	}
)

const (
	configKeyVersion      = "schema_version"
	configKeyStrongIsLong = "strong_algorithm_is_long"
	configKeyOnlyStrong   = "only_strong"
)

// ErrIncompatible is returned when a catalogue's stored config
// disagrees with the requested mode, or its schema major version
// disagrees with this implementation's.
var ErrIncompatible = errors.New("catalogue: incompatible schema or configuration")

// Config holds the mode flags locked in at catalogue creation.
type Config struct {
	StrongIsLong bool
	OnlyStrong   bool
}

// StrongDigestLen returns the fixed hex length of this catalogue's
// strong fingerprints (32 for MD5, 128 for SHA-512).
func (c Config) StrongDigestLen() int {
	if c.StrongIsLong {
		return 128
	}
	return 32
}

// Catalogue is an open handle to the on-disk store.
type Catalogue struct {
	db       *bbolt.DB
	cfg      Config
	readOnly bool
}

// Config returns the mode flags this catalogue was created with.
func (c *Catalogue) Config() Config { return c.cfg }

// Close releases the underlying database handle.
func (c *Catalogue) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// OpenWritable opens path for indexing, creating and installing the
// schema on first use.
//
// If overwrite is true and path already exists, it is deleted first.
// Otherwise, an existing catalogue's stored (major version,
// strongIsLong, onlyStrong) triple must match exactly or the open
// fails with ErrIncompatible before any mutation occurs.
func OpenWritable(path string, overwrite, strongIsLong, onlyStrong bool) (*Catalogue, error) {
	if overwrite {
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("overwrite catalogue: %w", err)
			}
		}
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}

	cat := &Catalogue{db: db, cfg: Config{StrongIsLong: strongIsLong, OnlyStrong: onlyStrong}}

	err = db.Update(func(tx *bbolt.Tx) error {
		initialised, err := isInitialised(tx)
		if err != nil {
			return err
		}
		if !initialised {
			return installSchema(tx, strongIsLong, onlyStrong)
		}
		cfg, err := readConfig(tx)
		if err != nil {
			return err
		}
		if cfg.StrongIsLong != strongIsLong || cfg.OnlyStrong != onlyStrong {
			return fmt.Errorf("%w: catalogue was created with strong_algorithm_is_long=%v only_strong=%v, got %v/%v",
				ErrIncompatible, cfg.StrongIsLong, cfg.OnlyStrong, strongIsLong, onlyStrong)
		}
		cat.cfg = cfg
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return cat, nil
}

// OpenReadOnly opens an existing, initialised catalogue for reading.
// The mode flags are read back from the config bucket, not supplied
// by the caller.
func OpenReadOnly(path string) (*Catalogue, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}

	cat := &Catalogue{db: db, readOnly: true}

	err = db.View(func(tx *bbolt.Tx) error {
		initialised, err := isInitialised(tx)
		if err != nil {
			return err
		}
		if !initialised {
			return fmt.Errorf("%w: catalogue has not been initialised", ErrIncompatible)
		}
		cfg, err := readConfig(tx)
		if err != nil {
			return err
		}
		cat.cfg = cfg
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return cat, nil
}

func isInitialised(tx *bbolt.Tx) (bool, error) {
	b := tx.Bucket(bucketConfig)
	if b == nil {
		return false, nil
	}
	return b.Get([]byte(configKeyVersion)) != nil, nil
}

func installSchema(tx *bbolt.Tx, strongIsLong, onlyStrong bool) error {
	for _, name := range allBuckets {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
	}

	config := tx.Bucket(bucketConfig)
	var verBuf [2]byte
	binary.BigEndian.PutUint16(verBuf[:], schemaVersion)
	if err := config.Put([]byte(configKeyVersion), verBuf[:]); err != nil {
		return err
	}
	if err := config.Put([]byte(configKeyStrongIsLong), boolByte(strongIsLong)); err != nil {
		return err
	}
	return config.Put([]byte(configKeyOnlyStrong), boolByte(onlyStrong))
}

func readConfig(tx *bbolt.Tx) (Config, error) {
	config := tx.Bucket(bucketConfig)
	if config == nil {
		return Config{}, fmt.Errorf("%w: missing config bucket", ErrIncompatible)
	}

	verBytes := config.Get([]byte(configKeyVersion))
	if len(verBytes) != 2 {
		return Config{}, fmt.Errorf("%w: missing or malformed schema_version", ErrIncompatible)
	}
	stored := binary.BigEndian.Uint16(verBytes)
	if stored&schemaVersionMajorMask != schemaVersion&schemaVersionMajorMask {
		return Config{}, fmt.Errorf("%w: schema major version %#x, want %#x",
			ErrIncompatible, stored&schemaVersionMajorMask, schemaVersion&schemaVersionMajorMask)
	}

	return Config{
		StrongIsLong: readBoolByte(config.Get([]byte(configKeyStrongIsLong))),
		OnlyStrong:   readBoolByte(config.Get([]byte(configKeyOnlyStrong))),
	}, nil
}

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

func readBoolByte(b []byte) bool {
	return len(b) == 1 && b[0] == 1
}

// fileRecord is the gob-encoded value stored in the files bucket.
type fileRecord struct {
	Size     int64
	FastFP   string // empty = null
	StrongFP string // empty = null
}

func encodeFileRecord(r fileRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("encode file record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFileRecord(data []byte) (fileRecord, error) {
	var r fileRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return fileRecord{}, fmt.Errorf("decode file record: %w", err)
	}
	return r, nil
}

// mediaRecord is the gob-encoded value stored in the media bucket.
type mediaRecord struct {
	Label       string
	Description string
}

func encodeMediaRecord(r mediaRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("encode media record: %w", err)
	}
	return buf.Bytes(), nil
}

// errPathEncoding is returned when a directory or file name contains a
// NUL byte and therefore cannot round-trip through this catalogue's
// primary-key encoding.
var errPathEncoding = errors.New("catalogue: path contains a NUL byte and cannot be stored")

// encodeFilePK builds the primary key for a file entry:
// mediumID(8 BE) || 0x00 || dir || 0x00 || name.
func encodeFilePK(mediumID uint64, dir, name string) ([]byte, error) {
	if bytes.ContainsRune([]byte(dir), 0) || bytes.ContainsRune([]byte(name), 0) {
		return nil, errPathEncoding
	}
	buf := make([]byte, 0, 8+1+len(dir)+1+len(name))
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], mediumID)
	buf = append(buf, idBuf[:]...)
	buf = append(buf, 0)
	buf = append(buf, dir...)
	buf = append(buf, 0)
	buf = append(buf, name...)
	return buf, nil
}

// decodeFilePK splits a primary key back into its medium ID, directory
// and name components.
func decodeFilePK(pk []byte) (mediumID uint64, dir, name string, err error) {
	if len(pk) < 9 {
		return 0, "", "", fmt.Errorf("malformed primary key")
	}
	mediumID = binary.BigEndian.Uint64(pk[:8])
	rest := pk[9:]
	sep := bytes.IndexByte(rest, 0)
	if sep < 0 {
		return 0, "", "", fmt.Errorf("malformed primary key")
	}
	dir = string(rest[:sep])
	name = string(rest[sep+1:])
	return mediumID, dir, name, nil
}

func encodeSizeKey(size int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(size))
	return buf[:]
}

// indexKey concatenates an index prefix (fingerprint, size, or name) with
// the row's primary key, giving every secondary bucket the shape
// "prefix || pk -> nil": a forward cursor walk visits rows sharing a
// prefix contiguously, which is exactly what the duplicate scanner needs
// for strong_fp and what a future rescan utility would need for fast_fp.
func indexKey(prefix, pk []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(pk))
	buf = append(buf, prefix...)
	buf = append(buf, pk...)
	return buf
}

// Session is a single write transaction bundling catalogue inserts, the
// fast/strong hash indexes, and the lazy-promotion update for one
// indexing pass. Its four operations (insert medium, insert file, probe
// collision, set strong fingerprint) each close over the same
// transaction's bucket handles, fetched once at session start.
type Session struct {
	tx *bbolt.Tx

	config       *bbolt.Bucket
	media        *bbolt.Bucket
	mediaByLabel *bbolt.Bucket
	files        *bbolt.Bucket
	byFastFP     *bbolt.Bucket
	byStrongFP   *bbolt.Bucket
	bySize       *bbolt.Bucket
	byName       *bbolt.Bucket
}

// Begin opens a write transaction over the catalogue and returns a
// Session bound to it. The catalogue holds exactly one writer at a
// time (bbolt enforces this); callers must Commit or Rollback before
// starting another session.
func (c *Catalogue) Begin() (*Session, error) {
	if c.readOnly {
		return nil, fmt.Errorf("catalogue: cannot begin a write session on a read-only catalogue")
	}
	tx, err := c.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{
		tx:           tx,
		config:       tx.Bucket(bucketConfig),
		media:        tx.Bucket(bucketMedia),
		mediaByLabel: tx.Bucket(bucketMediaByLabel),
		files:        tx.Bucket(bucketFiles),
		byFastFP:     tx.Bucket(bucketFilesByFastFP),
		byStrongFP:   tx.Bucket(bucketFilesByStrong),
		bySize:       tx.Bucket(bucketFilesBySize),
		byName:       tx.Bucket(bucketFilesByName),
	}, nil
}

// Commit releases the prepared buckets and commits all writes made
// during the session. On success, a later session (this process or
// another) observes every row written here.
func (s *Session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// Rollback discards all writes made during the session. Safe to call
// after Commit has already failed; it is the caller's responsibility
// not to call it after a successful Commit.
func (s *Session) Rollback() error {
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback session: %w", err)
	}
	return nil
}

// EnsureMedium inserts medium label (with description) if it does not
// already exist, and returns its catalogue-assigned id either way.
// Insert-or-ignore by label, as required by the Medium type: created
// once per indexing run, never mutated thereafter.
func (s *Session) EnsureMedium(label, description string) (uint64, error) {
	if existing := s.mediaByLabel.Get([]byte(label)); existing != nil {
		return binary.BigEndian.Uint64(existing), nil
	}

	id, err := s.media.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("allocate medium id: %w", err)
	}

	data, err := encodeMediaRecord(mediaRecord{Label: label, Description: description})
	if err != nil {
		return 0, err
	}

	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], id)
	if err := s.media.Put(idBuf[:], data); err != nil {
		return 0, fmt.Errorf("insert medium: %w", err)
	}
	if err := s.mediaByLabel.Put([]byte(label), idBuf[:]); err != nil {
		return 0, fmt.Errorf("index medium label: %w", err)
	}
	return id, nil
}

// RecordFile writes one file row keyed by (medium, directory, name),
// plus its secondary index entries. fastFP and strongFP are nil when
// the corresponding fingerprint was not computed for this file: one or
// the other tier may legitimately be absent depending on indexing mode
// and promotion state.
func (s *Session) RecordFile(mediumID uint64, dir, name string, size int64, fastFP, strongFP *string) error {
	pk, err := encodeFilePK(mediumID, dir, name)
	if err != nil {
		return err
	}

	rec := fileRecord{Size: size}
	if fastFP != nil {
		rec.FastFP = *fastFP
	}
	if strongFP != nil {
		rec.StrongFP = *strongFP
	}

	data, err := encodeFileRecord(rec)
	if err != nil {
		return err
	}
	if err := s.files.Put(pk, data); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}

	if rec.FastFP != "" {
		if err := s.byFastFP.Put(indexKey([]byte(rec.FastFP), pk), nil); err != nil {
			return fmt.Errorf("index fast fingerprint: %w", err)
		}
	}
	if rec.StrongFP != "" {
		if err := s.byStrongFP.Put(indexKey([]byte(rec.StrongFP), pk), nil); err != nil {
			return fmt.Errorf("index strong fingerprint: %w", err)
		}
	}
	if err := s.bySize.Put(indexKey(encodeSizeKey(size), pk), nil); err != nil {
		return fmt.Errorf("index size: %w", err)
	}
	if err := s.byName.Put(indexKey([]byte(name+"\x00"), pk), nil); err != nil {
		return fmt.Errorf("index name: %w", err)
	}
	return nil
}

// ProbeFastCollision reports whether any existing file row shares
// fastFP, returning that row's primary key and (directory, name) so the
// caller can reopen it for lazy promotion. Only the first match is
// returned (the row with the lowest key among those sharing fastFP):
// the existence of any partner already obliges strong-hash computation
// for both rows. Later newcomers sharing the same fast fingerprint will
// themselves find such a partner, which may be a different row than
// this one if a lower-keyed row has been inserted since, and promote it
// again, idempotently.
func (s *Session) ProbeFastCollision(fastFP string) (pk []byte, dir, name string, found bool, err error) {
	prefix := []byte(fastFP)
	cur := s.byFastFP.Cursor()
	k, _ := cur.Seek(prefix)
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return nil, "", "", false, nil
	}

	pk = append([]byte(nil), k[len(prefix):]...)
	_, dir, name, err = decodeFilePK(pk)
	if err != nil {
		return nil, "", "", false, fmt.Errorf("probe fast collision: %w", err)
	}
	return pk, dir, name, true, nil
}

// PromoteStrong rewrites the strong fingerprint of the file identified
// by pk and adds its files_by_strongfp index entry. Re-promoting to the
// same digest is a harmless no-op write; indexing is single-threaded,
// so no lock guards the update.
func (s *Session) PromoteStrong(pk []byte, strongFP string) error {
	data := s.files.Get(pk)
	if data == nil {
		return fmt.Errorf("promote strong fingerprint: no such file entry")
	}
	rec, err := decodeFileRecord(data)
	if err != nil {
		return err
	}

	rec.StrongFP = strongFP
	encoded, err := encodeFileRecord(rec)
	if err != nil {
		return err
	}
	if err := s.files.Put(pk, encoded); err != nil {
		return fmt.Errorf("update strong fingerprint: %w", err)
	}
	if err := s.byStrongFP.Put(indexKey([]byte(strongFP), pk), nil); err != nil {
		return fmt.Errorf("index strong fingerprint: %w", err)
	}
	return nil
}

// WalkByStrongFP visits every file row carrying a non-null strong
// fingerprint in ascending fingerprint order, via a single forward
// cursor over files_by_strongfp. Because rows are keyed "strongFP || pk",
// every row belonging to one duplicate group is visited contiguously -
// the property the duplicate scanner's grouped scan depends on.
func (c *Catalogue) WalkByStrongFP(fn func(strongFP, dir, name string, size int64) error) error {
	digestLen := c.cfg.StrongDigestLen()
	return c.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketFilesByStrong)
		files := tx.Bucket(bucketFiles)
		if idx == nil || files == nil {
			return fmt.Errorf("%w: missing index bucket", ErrIncompatible)
		}

		cur := idx.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			if len(k) <= digestLen {
				continue
			}
			strongFP := string(k[:digestLen])
			pk := k[digestLen:]

			data := files.Get(pk)
			if data == nil {
				continue
			}
			rec, err := decodeFileRecord(data)
			if err != nil {
				return err
			}
			_, dir, name, err := decodeFilePK(pk)
			if err != nil {
				return err
			}
			if err := fn(strongFP, dir, name, rec.Size); err != nil {
				return err
			}
		}
		return nil
	})
}
