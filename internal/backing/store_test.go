package backing

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreOpenCreateAndReopen(t *testing.T) {
	store := newTestStore(t)

	f, err := store.Open("nested/dir/data.bin", ReadWrite, true)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	payload := []byte("payload")
	if n, err := f.Pwrite(payload, 10); err != nil || n != len(payload) {
		t.Fatalf("pwrite = %d, %v", n, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	ro, err := store.Open("/nested/dir/data.bin", ReadOnly, false)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer ro.Close()

	size, err := ro.Size()
	if err != nil {
		t.Fatalf("size error: %v", err)
	}
	if size != 17 {
		t.Fatalf("size mismatch: %d", size)
	}

	buf := make([]byte, len(payload))
	if n, err := ro.Pread(buf, 10); err != nil || n != len(payload) {
		t.Fatalf("pread = %d, %v", n, err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("payload mismatch: %q", buf)
	}
}

func TestStoreOpenMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Open("missing.bin", ReadOnly, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	if err := os.MkdirAll(filepath.Join(store.Root(), "dir"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if _, err := store.Open("dir", ReadOnly, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStorePathConfinedToRoot(t *testing.T) {
	store := newTestStore(t)

	p, err := store.Path("../../etc/passwd")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if p != filepath.Join(store.Root(), "etc", "passwd") {
		t.Fatalf("path escaped root: %s", p)
	}
	if _, err := store.Path("/"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for root, got %v", err)
	}
}

func TestReadOnlyCreateRejected(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Open("x.bin", ReadOnly, true); err == nil {
		t.Fatalf("create with read-only mode should fail")
	}
}

func TestFileCloseTwice(t *testing.T) {
	store := newTestStore(t)
	f, err := store.Open("x.bin", ReadWrite, true)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if err := f.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := f.Pread(make([]byte, 1), 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on pread, got %v", err)
	}
}

func TestParseModeAndFlags(t *testing.T) {
	testCases := []struct {
		raw      string
		want     Flags
		writable bool
	}{
		{"r", ReadOnly, false},
		{"", ReadOnly, false},
		{"rw", ReadWrite, true},
		{"W", WriteOnly, true},
	}
	for _, tc := range testCases {
		got, err := ParseMode(tc.raw)
		if err != nil {
			t.Fatalf("ParseMode(%q) error: %v", tc.raw, err)
		}
		if got != tc.want || got.Writable() != tc.writable {
			t.Fatalf("ParseMode(%q) = %s", tc.raw, got)
		}
	}
	if _, err := ParseMode("append"); err == nil {
		t.Fatalf("unsupported mode should fail")
	}
	if FlagsFromOpen(os.O_RDWR|os.O_CREATE) != ReadWrite {
		t.Fatalf("O_RDWR should map to ReadWrite")
	}
	if FlagsFromOpen(os.O_RDONLY) != ReadOnly {
		t.Fatalf("O_RDONLY should map to ReadOnly")
	}
}

// newTestStore returns a Store rooted in a temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
