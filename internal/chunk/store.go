// Package chunk holds the raw bytes of the cache: a fixed number of fixed-size
// chunks carved out of one flat allocation and addressed only by index.
package chunk

import (
	"errors"
	"fmt"
	"math"
)

// DefaultSize is the chunk size used when none is configured.
const DefaultSize = 4096

var (
	// ErrIndexOutOfRange is returned for a chunk index outside [0, Count).
	ErrIndexOutOfRange = errors.New("chunk index out of range")
	// ErrTooLarge is returned when a buffer does not fit into one chunk.
	ErrTooLarge = errors.New("buffer larger than chunk")
)

// Store is a fixed array of chunks that never grows after construction.
type Store struct {
	size  int
	count int
	data  []byte
}

// NewStore allocates count chunks of size bytes each.
func NewStore(count, size int) (*Store, error) {
	if count <= 0 {
		return nil, fmt.Errorf("chunk count must be positive: %d", count)
	}
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive: %d", size)
	}
	if count > math.MaxInt/size {
		return nil, fmt.Errorf("%d chunks of %d bytes overflow the address space", count, size)
	}
	return &Store{
		size:  size,
		count: count,
		data:  make([]byte, count*size),
	}, nil
}

// Size returns the size of a single chunk in bytes.
func (s *Store) Size() int { return s.size }

// Count returns the number of chunks.
func (s *Store) Count() int { return s.count }

// Bytes returns the backing slice of chunk i. The slice aliases the store and
// is only valid until the chunk is rewritten.
func (s *Store) Bytes(i int) ([]byte, error) {
	if i < 0 || i >= s.count {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	start := i * s.size
	return s.data[start : start+s.size : start+s.size], nil
}

// CopyIn copies p into the start of chunk i.
func (s *Store) CopyIn(i int, p []byte) (int, error) {
	if len(p) > s.size {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(p), s.size)
	}
	dst, err := s.Bytes(i)
	if err != nil {
		return 0, err
	}
	return copy(dst, p), nil
}

// CopyOut copies the first len(p) bytes of chunk i into p.
func (s *Store) CopyOut(i int, p []byte) (int, error) {
	if len(p) > s.size {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(p), s.size)
	}
	src, err := s.Bytes(i)
	if err != nil {
		return 0, err
	}
	return copy(p, src), nil
}
