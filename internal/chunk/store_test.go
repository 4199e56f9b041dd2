package chunk

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestStoreCopyRoundTrip(t *testing.T) {
	s, err := NewStore(4, 16)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}

	payload := []byte("0123456789")
	if n, err := s.CopyIn(2, payload); err != nil || n != len(payload) {
		t.Fatalf("CopyIn = %d, %v", n, err)
	}

	out := make([]byte, len(payload))
	if n, err := s.CopyOut(2, out); err != nil || n != len(payload) {
		t.Fatalf("CopyOut = %d, %v", n, err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("payload mismatch: %q", out)
	}

	neighbour, _ := s.Bytes(1)
	if !bytes.Equal(neighbour, make([]byte, 16)) {
		t.Fatalf("neighbouring chunk must stay untouched")
	}
}

func TestStoreRejectsBadArguments(t *testing.T) {
	s, err := NewStore(2, 8)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	if _, err := s.CopyIn(2, []byte("x")); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := s.CopyOut(-1, make([]byte, 1)); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := s.CopyIn(0, make([]byte, 9)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := NewStore(0, 8); err == nil {
		t.Fatalf("zero chunk count should fail")
	}
	if _, err := NewStore(math.MaxInt/2, 4); err == nil {
		t.Fatalf("overflowing allocation should fail")
	}
}

func TestStoreBytesCannotGrowIntoNeighbour(t *testing.T) {
	s, _ := NewStore(2, 4)
	b, _ := s.Bytes(0)
	if cap(b) != 4 {
		t.Fatalf("chunk slice capacity should be clipped, got %d", cap(b))
	}
}
