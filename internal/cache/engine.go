package cache

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/bufcache/internal/backing"
	"github.com/any-hub/bufcache/internal/chunk"
	"github.com/any-hub/bufcache/internal/logging"
	"github.com/any-hub/bufcache/internal/policy"
	"github.com/any-hub/bufcache/internal/registry"
)

const (
	// DefaultEntries is the number of chunks an engine holds unless configured otherwise.
	DefaultEntries = 1280
	// DefaultMaxRetries is the number of times a short transfer is reissued.
	DefaultMaxRetries = 2
)

// Options configures an Engine. Start from DefaultOptions.
type Options struct {
	Capacity   int
	ChunkSize  int
	Policy     policy.Policy
	MaxRetries int
	// StrictWriteBack reports failed write-backs to the caller instead of
	// logging them and discarding the dirty data.
	StrictWriteBack bool
	Logger          *logrus.Logger
	// Rand drives random eviction. The global source is used when nil.
	Rand *rand.Rand
}

// DefaultOptions returns a 1280 x 4 KiB LRU configuration.
func DefaultOptions() Options {
	return Options{
		Capacity:   DefaultEntries,
		ChunkSize:  chunk.DefaultSize,
		Policy:     policy.LRU,
		MaxRetries: DefaultMaxRetries,
	}
}

// Engine is a write-back chunk cache over positioned I/O handles.
type Engine struct {
	opts   Options
	chunks *chunk.Store
	slots  *registry.Registry
	intn   func(n int) int
	logger *logrus.Logger
	stats  counters
}

// New validates opts and allocates the chunk memory up front.
func New(opts Options) (*Engine, error) {
	if !opts.Policy.Valid() {
		return nil, fmt.Errorf("%w: %d", policy.ErrUnknownPolicy, opts.Policy)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative: %d", opts.MaxRetries)
	}
	chunks, err := chunk.NewStore(opts.Capacity, opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	slots, err := registry.New(opts.Capacity)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	intn := rand.IntN
	if opts.Rand != nil {
		intn = opts.Rand.IntN
	}

	return &Engine{
		opts:   opts,
		chunks: chunks,
		slots:  slots,
		intn:   intn,
		logger: logger,
	}, nil
}

// Policy returns the eviction policy fixed at construction.
func (e *Engine) Policy() policy.Policy { return e.opts.Policy }

// ChunkSize returns the largest buffer a cached Read or Write accepts.
func (e *Engine) ChunkSize() int { return e.opts.ChunkSize }

// Read fills p from the region of h starting at off. A hit is served from
// memory; a miss reads len(p) bytes from h and caches them.
func (e *Engine) Read(h backing.Handle, p []byte, off int64, flags backing.Flags) (int, error) {
	if err := e.checkArgs(h, p, off); err != nil {
		return 0, err
	}
	if !e.opts.Policy.Caching() {
		e.stats.passthrough.Add(1)
		return e.transfer(opRead, h, p, off)
	}

	if id, ok := e.slots.Find(h, off); ok {
		slot, err := e.slots.Slot(id)
		if err != nil {
			return 0, err
		}
		if len(p) <= slot.Length {
			if _, err := e.chunks.CopyOut(slot.Chunk, p); err != nil {
				return 0, err
			}
			_ = e.slots.Promote(id)
			e.stats.hits.Add(1)
			return len(p), nil
		}
		// The cached region is shorter than p: write it back and treat as a miss.
		if err := e.flush(id); err != nil {
			return 0, err
		}
	}

	e.stats.misses.Add(1)
	pending, err := e.obtain()
	if err != nil {
		return 0, err
	}
	_ = e.slots.Promote(pending.ID())

	n, err := e.transfer(opRead, h, p, off)
	if err != nil {
		_ = e.slots.Release(pending)
		return n, err
	}
	return n, e.bind(pending, registry.Binding{Handle: h, Offset: off, Flags: flags, Length: n}, p)
}

// Write stores p as the region of h starting at off. A hit only updates the
// cached chunk and marks it dirty; a miss writes through to h and caches p.
func (e *Engine) Write(h backing.Handle, p []byte, off int64, flags backing.Flags) (int, error) {
	if err := e.checkArgs(h, p, off); err != nil {
		return 0, err
	}
	if !flags.Writable() {
		return 0, ErrReadOnly
	}
	if !e.opts.Policy.Caching() {
		e.stats.passthrough.Add(1)
		return e.transfer(opWrite, h, p, off)
	}

	if id, ok := e.slots.Find(h, off); ok {
		slot, err := e.slots.Slot(id)
		if err != nil {
			return 0, err
		}
		if _, err := e.chunks.CopyIn(slot.Chunk, p); err != nil {
			return 0, err
		}
		if slot.Flags != flags {
			_ = e.slots.SetFlags(id, flags)
		}
		_ = e.slots.MarkDirty(id, len(p))
		_ = e.slots.Promote(id)
		e.stats.hits.Add(1)
		return len(p), nil
	}

	e.stats.misses.Add(1)
	pending, err := e.obtain()
	if err != nil {
		return 0, err
	}
	_ = e.slots.Promote(pending.ID())

	n, err := e.transfer(opWrite, h, p, off)
	if err != nil {
		_ = e.slots.Release(pending)
		return n, err
	}
	return n, e.bind(pending, registry.Binding{Handle: h, Offset: off, Flags: flags, Length: n}, p)
}

// Close writes back every writable slot bound to h, unbinds it and closes h.
// Slots bound with read-only flags stay cached. The handle is closed even when
// a write-back fails; the failure is returned only under StrictWriteBack.
func (e *Engine) Close(h backing.Handle) error {
	if h == nil {
		return invalidArgument("nil handle")
	}
	var errs []error
	for _, id := range e.slots.BoundTo(h) {
		slot, err := e.slots.Slot(id)
		if err != nil || !slot.Flags.Writable() {
			continue
		}
		werr := e.writeBack(slot)
		_ = e.slots.Unbind(id)
		if werr != nil && e.opts.StrictWriteBack {
			errs = append(errs, werr)
		}
	}
	if err := h.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", h.Name(), err))
	}
	return errors.Join(errs...)
}

// Sync writes back every dirty slot bound to h, keeping the slots cached, and
// then flushes h to stable storage. Write-back failures are always returned.
func (e *Engine) Sync(h backing.Handle) error {
	if h == nil {
		return invalidArgument("nil handle")
	}
	errs := e.writeBackBound(h, func(registry.Slot) bool { return true })
	if err := h.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync %s: %w", h.Name(), err))
	}
	return errors.Join(errs...)
}

// WriteBack persists the dirty slots of h whose cached bytes overlap
// [off, off+n) and keeps them cached and clean. Unlike Sync it does not flush
// h to stable storage.
func (e *Engine) WriteBack(h backing.Handle, off int64, n int) error {
	if h == nil {
		return invalidArgument("nil handle")
	}
	if off < 0 || n < 0 {
		return invalidArgument(fmt.Sprintf("negative range off=%d n=%d", off, n))
	}
	end := off + int64(n)
	return errors.Join(e.writeBackBound(h, func(slot registry.Slot) bool {
		return slot.Offset < end && off < slot.Offset+int64(slot.Length)
	})...)
}

func (e *Engine) writeBackBound(h backing.Handle, match func(registry.Slot) bool) []error {
	var errs []error
	for _, id := range e.slots.BoundTo(h) {
		slot, err := e.slots.Slot(id)
		if err != nil || !match(slot) {
			continue
		}
		if err := e.writeBack(slot); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (e *Engine) checkArgs(h backing.Handle, p []byte, off int64) error {
	switch {
	case h == nil:
		return invalidArgument("nil handle")
	case len(p) == 0:
		return invalidArgument("empty buffer")
	case off < 0:
		return invalidArgument(fmt.Sprintf("negative offset %d", off))
	case e.opts.Policy.Caching() && len(p) > e.opts.ChunkSize:
		return invalidArgument(fmt.Sprintf("buffer of %d bytes exceeds chunk size %d", len(p), e.opts.ChunkSize))
	}
	return nil
}

// obtain reserves a slot for a miss: a fresh one while the arena can grow, a
// victim once every slot is bound, otherwise a slot left unbound by a flush.
func (e *Engine) obtain() (registry.Pending, error) {
	var (
		pending registry.Pending
		err     error
	)
	switch {
	case e.slots.Expandable():
		pending, err = e.slots.AllocateNew()
	case e.slots.Full():
		return e.evictOne()
	default:
		pending, err = e.slots.FindUnbound()
	}
	if err != nil {
		return registry.Pending{}, fmt.Errorf("%w: %v", ErrNoSlot, err)
	}
	return pending, nil
}

func (e *Engine) evictOne() (registry.Pending, error) {
	id, err := e.slots.Victim(e.opts.Policy, e.intn)
	if err != nil {
		return registry.Pending{}, fmt.Errorf("%w: %v", ErrNoSlot, err)
	}
	slot, err := e.slots.Slot(id)
	if err != nil {
		return registry.Pending{}, fmt.Errorf("%w: %v", ErrNoSlot, err)
	}
	if err := e.writeBack(slot); err != nil && e.opts.StrictWriteBack {
		return registry.Pending{}, err
	}
	e.logger.WithFields(logging.SlotFields(int(id), slot.Handle.Name(), slot.Offset, slot.Length, slot.Dirty)).
		WithField("action", "cache_evict").
		Debug("slot evicted")
	e.stats.evictions.Add(1)

	pending, err := e.slots.Reclaim(id)
	if err != nil {
		return registry.Pending{}, fmt.Errorf("%w: %v", ErrNoSlot, err)
	}
	return pending, nil
}

// flush writes a slot back and unbinds it. Under StrictWriteBack a failed
// write-back leaves the slot bound and dirty.
func (e *Engine) flush(id registry.SlotID) error {
	slot, err := e.slots.Slot(id)
	if err != nil {
		return err
	}
	if err := e.writeBack(slot); err != nil && e.opts.StrictWriteBack {
		return err
	}
	return e.slots.Unbind(id)
}

// writeBack persists the valid bytes of a dirty writable slot and marks it
// clean. Read-only and clean slots need no I/O.
func (e *Engine) writeBack(slot registry.Slot) error {
	if !slot.Bound() || !slot.Flags.Writable() || !slot.Dirty {
		return nil
	}
	data, err := e.chunks.Bytes(slot.Chunk)
	if err != nil {
		return err
	}
	if _, err := e.transfer(opWrite, slot.Handle, data[:slot.Length], slot.Offset); err != nil {
		e.stats.writeBackFailures.Add(1)
		entry := e.logger.WithFields(logging.SlotFields(int(slot.ID), slot.Handle.Name(), slot.Offset, slot.Length, slot.Dirty)).
			WithField("action", "cache_writeback").
			WithError(err)
		if e.opts.StrictWriteBack {
			entry.Warn("write-back failed")
		} else {
			entry.Warn("write-back failed, dirty data discarded")
		}
		return err
	}
	e.stats.writeBacks.Add(1)
	return e.slots.MarkClean(slot.ID)
}

func (e *Engine) bind(pending registry.Pending, b registry.Binding, p []byte) error {
	id, err := e.slots.Bind(pending, b)
	if err != nil {
		_ = e.slots.Release(pending)
		return err
	}
	slot, err := e.slots.Slot(id)
	if err != nil {
		return err
	}
	_, err = e.chunks.CopyIn(slot.Chunk, p[:b.Length])
	return err
}
