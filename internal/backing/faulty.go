package backing

import (
	"fmt"
	"sync"
)

// Fault defines the failures a FaultyHandle injects.
type Fault struct {
	ShortReads  int   // Number of upcoming Pread calls that transfer only half the buffer.
	ShortWrites int   // Number of upcoming Pwrite calls that transfer only half the buffer.
	FailWrites  bool  // Every Pwrite fails with Err without touching the file.
	FailSync    bool  // Sync fails with Err.
	Err         error // Error returned by failing calls; a generic one if nil.
}

// FaultyHandle is a Handle wrapper that can inject short transfers and errors.
type FaultyHandle struct {
	Handle

	mu     sync.Mutex
	fault  Fault
	reads  int
	writes int
	// written records every successful Pwrite offset, in call order.
	written []int64
}

// NewFaultyHandle wraps h without any fault configured.
func NewFaultyHandle(h Handle) *FaultyHandle {
	return &FaultyHandle{Handle: h}
}

// SetFault replaces the active fault configuration.
func (f *FaultyHandle) SetFault(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fault = fault
}

// Reads returns the number of Pread calls seen so far.
func (f *FaultyHandle) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Writes returns the number of Pwrite calls seen so far.
func (f *FaultyHandle) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// WrittenOffsets returns the offsets of successful writes, in call order.
func (f *FaultyHandle) WrittenOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.written...)
}

func (f *FaultyHandle) Pread(p []byte, off int64) (int, error) {
	f.mu.Lock()
	f.reads++
	short := f.fault.ShortReads > 0
	if short {
		f.fault.ShortReads--
	}
	f.mu.Unlock()

	if short {
		return f.Handle.Pread(p[:len(p)/2], off)
	}
	return f.Handle.Pread(p, off)
}

func (f *FaultyHandle) Pwrite(p []byte, off int64) (int, error) {
	f.mu.Lock()
	f.writes++
	if f.fault.FailWrites {
		err := f.errLocked("write")
		f.mu.Unlock()
		return 0, err
	}
	short := f.fault.ShortWrites > 0
	if short {
		f.fault.ShortWrites--
	}
	f.mu.Unlock()

	buf := p
	if short {
		buf = p[:len(p)/2]
	}
	n, err := f.Handle.Pwrite(buf, off)
	if err == nil && !short {
		f.mu.Lock()
		f.written = append(f.written, off)
		f.mu.Unlock()
	}
	return n, err
}

func (f *FaultyHandle) Sync() error {
	f.mu.Lock()
	if f.fault.FailSync {
		err := f.errLocked("sync")
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	return f.Handle.Sync()
}

func (f *FaultyHandle) errLocked(op string) error {
	if f.fault.Err != nil {
		return f.fault.Err
	}
	return fmt.Errorf("injected %s error", op)
}
