package backing

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Flags records the access mode a region was opened with.
type Flags uint8

const (
	ReadOnly Flags = iota
	WriteOnly
	ReadWrite
)

// ErrClosed is returned by operations on a closed handle.
var ErrClosed = errors.New("handle closed")

// FlagsFromOpen derives Flags from os.OpenFile flag bits.
func FlagsFromOpen(flag int) Flags {
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_WRONLY:
		return WriteOnly
	case os.O_RDWR:
		return ReadWrite
	default:
		return ReadOnly
	}
}

// ParseMode converts an "r", "w" or "rw" access mode into Flags.
func ParseMode(raw string) (Flags, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "r", "ro":
		return ReadOnly, nil
	case "w", "wo":
		return WriteOnly, nil
	case "rw":
		return ReadWrite, nil
	default:
		return ReadOnly, fmt.Errorf("unsupported access mode: %s", raw)
	}
}

// Writable reports whether data written under these flags may need a write-back.
func (f Flags) Writable() bool { return f == WriteOnly || f == ReadWrite }

// Readable reports whether the handle may be read from.
func (f Flags) Readable() bool { return f == ReadOnly || f == ReadWrite }

func (f Flags) String() string {
	switch f {
	case ReadOnly:
		return "r"
	case WriteOnly:
		return "w"
	case ReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("flags(%d)", uint8(f))
	}
}

func (f Flags) openFlag() int {
	switch f {
	case WriteOnly:
		return os.O_WRONLY
	case ReadWrite:
		return os.O_RDWR
	default:
		return os.O_RDONLY
	}
}

// Handle is a backing-store region the cache reads from and writes back to.
// Pread and Pwrite transfer at most len(p) bytes at off and report the count
// actually transferred; callers decide what a short count means.
type Handle interface {
	Pread(p []byte, off int64) (int, error)
	Pwrite(p []byte, off int64) (int, error)
	Sync() error
	Close() error
	Name() string
}

// File is a Handle over an *os.File using pread(2)/pwrite(2) directly.
type File struct {
	name  string
	flags Flags

	mu     sync.Mutex
	file   *os.File
	fd     int
	closed bool
}

// OpenFile opens path with the given access flags.
func OpenFile(path string, flags Flags, create bool) (*File, error) {
	flag := flags.openFlag()
	if create {
		if !flags.Writable() {
			return nil, fmt.Errorf("create requires a writable mode: %s", flags)
		}
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &File{
		name:  path,
		flags: flags,
		file:  f,
		fd:    int(f.Fd()),
	}, nil
}

// Name returns the path the file was opened with.
func (f *File) Name() string { return f.name }

// Pread issues a single pread(2).
func (f *File) Pread(p []byte, off int64) (int, error) {
	fd, err := f.descriptor()
	if err != nil {
		return 0, err
	}
	n, err := unix.Pread(fd, p, off)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Pwrite issues a single pwrite(2).
func (f *File) Pwrite(p []byte, off int64) (int, error) {
	fd, err := f.descriptor()
	if err != nil {
		return 0, err
	}
	n, err := unix.Pwrite(fd, p, off)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Sync flushes file data to stable storage with fdatasync(2).
func (f *File) Sync() error {
	fd, err := f.descriptor()
	if err != nil {
		return err
	}
	return unix.Fdatasync(fd)
}

// Size returns the current size of the file.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	info, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the underlying file. Closing twice returns ErrClosed.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	return f.file.Close()
}

func (f *File) descriptor() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return -1, ErrClosed
	}
	return f.fd, nil
}
