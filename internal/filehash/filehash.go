// Package filehash drives a hasher.ByteHasher over an open file,
// advising the kernel of sequential access, then memory-mapping the file
// when possible and falling back to buffered reads when not.
package filehash

import (
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/arkady-stash/stash/internal/hasher"
)

// Options controls how a file is ingested.
type Options struct {
	// NoMmap forces the buffered fallback path even when mmap would work.
	NoMmap bool
	// BufferSize is the read buffer used by the buffered fallback path.
	BufferSize int
}

const defaultBufferSize = 8 << 20

// Hash drives h over f's content (f has the given declared size) and
// returns the hex digest. No partial digest is ever returned on error -
// callers should discard h's output entirely if an error is returned.
func Hash(h hasher.ByteHasher, f *os.File, size int64, opts Options) (string, error) {
	adviseSequential(f)

	if !opts.NoMmap && size > 0 {
		if data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED); err == nil {
			h.Update(data)
			_ = unix.Munmap(data)
			h.Finalize()
			return h.Digest(), nil
		}
		// mmap failed (empty file, special filesystem, 32-bit address
		// space exhaustion, unsupported mount options, ...) - fall
		// through to the buffered path.
	}

	if err := hashBuffered(h, f, size, opts.BufferSize); err != nil {
		return "", err
	}
	h.Finalize()
	return h.Digest(), nil
}

// adviseSequential hints the kernel that the file will be read
// sequentially once, allowing more aggressive readahead. Best-effort:
// failure is not fatal.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

// hashBuffered reads f in bounded chunks, feeding each filled prefix to
// h. Stops on a short read (EOF) or once size bytes have been consumed.
func hashBuffered(h hasher.ByteHasher, f *os.File, size int64, bufferSize int) error {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	buf := make([]byte, bufferSize)

	var total int64
	for total < size {
		chunk := buf
		if rem := size - total; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}
		n, err := f.Read(chunk)
		if n > 0 {
			h.Update(buf[:n])
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if n == 0 {
			break
		}
	}
	return nil
}
