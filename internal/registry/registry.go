// Package registry tracks which chunk caches which backing-store region.
//
// Slots live in a fixed-size arena and are threaded onto one doubly linked
// recency list by index: the front is the most recently used slot, the rear the
// least recently used. A slot's index doubles as its chunk index; slots are
// created lazily, one per chunk, until the arena reaches capacity and are
// rebound freely afterwards.
//
// Obtaining a slot for a new binding (AllocateNew, FindUnbound, Reclaim) hands
// out a Pending reservation. Exactly one reservation may be outstanding and it
// must be consumed by Bind or Release; a consumed or foreign reservation is
// rejected, so occupancy accounting cannot drift.
//
// The registry performs no I/O and no locking.
package registry

import (
	"errors"
	"fmt"

	"github.com/any-hub/bufcache/internal/backing"
	"github.com/any-hub/bufcache/internal/policy"
)

// SlotID identifies a slot and the chunk it owns.
type SlotID int

const nilSlot SlotID = -1

var (
	// ErrCapacity is returned by AllocateNew once every slot has been created.
	ErrCapacity = errors.New("registry at capacity")
	// ErrNoUnbound is returned by FindUnbound when every slot is bound.
	ErrNoUnbound = errors.New("no unbound slot")
	// ErrNotFull is returned by Victim while free slots still exist.
	ErrNotFull = errors.New("registry not full")
	// ErrReservationPending is returned when a reservation is requested while
	// another one has not been consumed.
	ErrReservationPending = errors.New("slot reservation already pending")
	// ErrStaleReservation is returned when a reservation is consumed twice or
	// does not belong to this registry's current reservation.
	ErrStaleReservation = errors.New("stale slot reservation")
	// ErrInvalidSlot is returned for an out-of-range or unbound slot id.
	ErrInvalidSlot = errors.New("invalid slot")
	// ErrDuplicateBinding is returned when binding a region that is already cached.
	ErrDuplicateBinding = errors.New("region already bound")
)

// Binding describes the region a slot caches.
type Binding struct {
	Handle backing.Handle
	Offset int64
	Flags  backing.Flags
	// Length is the number of valid bytes at the start of the chunk.
	Length int
}

// Slot is a read-only snapshot of one registry entry.
type Slot struct {
	ID     SlotID
	Chunk  int
	Handle backing.Handle // nil while unbound
	Offset int64
	Flags  backing.Flags
	Length int
	Dirty  bool
}

// Bound reports whether the slot currently caches a region.
func (s Slot) Bound() bool { return s.Handle != nil }

// Pending is a reservation of one unbound slot, consumed by Bind or Release.
type Pending struct {
	id  SlotID
	gen uint64
}

// ID returns the reserved slot.
func (p Pending) ID() SlotID { return p.id }

type node struct {
	handle backing.Handle
	offset int64
	flags  backing.Flags
	length int
	dirty  bool
	chunk  int
	prev   SlotID
	next   SlotID
}

// Registry is the eviction queue. It is not safe for concurrent use.
type Registry struct {
	nodes    []node
	front    SlotID
	rear     SlotID
	occupied int
	capacity int

	pending SlotID
	gen     uint64
}

// New creates an empty registry able to hold capacity slots.
func New(capacity int) (*Registry, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("registry capacity must be positive: %d", capacity)
	}
	return &Registry{
		nodes:    make([]node, 0, capacity),
		front:    nilSlot,
		rear:     nilSlot,
		capacity: capacity,
		pending:  nilSlot,
	}, nil
}

// Capacity returns the maximum number of slots.
func (r *Registry) Capacity() int { return r.capacity }

// Created returns the number of slots allocated so far.
func (r *Registry) Created() int { return len(r.nodes) }

// Occupied returns the number of bound slots.
func (r *Registry) Occupied() int { return r.occupied }

// Expandable reports whether AllocateNew can still create a slot.
func (r *Registry) Expandable() bool { return len(r.nodes) < r.capacity }

// Full reports whether every slot exists and is bound.
func (r *Registry) Full() bool { return r.occupied == r.capacity }

// Find returns the slot bound to (h, off), searching from the most recently
// used end. Handles are compared with ==, so their dynamic types must be
// comparable.
func (r *Registry) Find(h backing.Handle, off int64) (SlotID, bool) {
	if h == nil {
		return nilSlot, false
	}
	for id := r.front; id != nilSlot; id = r.nodes[id].next {
		n := &r.nodes[id]
		if n.handle == h && n.offset == off {
			return id, true
		}
	}
	return nilSlot, false
}

// BoundTo returns every slot bound to h, most recently used first.
func (r *Registry) BoundTo(h backing.Handle) []SlotID {
	if h == nil {
		return nil
	}
	var ids []SlotID
	for id := r.front; id != nilSlot; id = r.nodes[id].next {
		if r.nodes[id].handle == h {
			ids = append(ids, id)
		}
	}
	return ids
}

// AllocateNew creates the next slot at the front of the queue and reserves it.
func (r *Registry) AllocateNew() (Pending, error) {
	if r.pending != nilSlot {
		return Pending{}, ErrReservationPending
	}
	if !r.Expandable() {
		return Pending{}, ErrCapacity
	}
	id := SlotID(len(r.nodes))
	r.nodes = append(r.nodes, node{chunk: int(id), prev: nilSlot, next: nilSlot})
	r.pushFront(id)
	return r.reserve(id), nil
}

// FindUnbound reserves a slot left unbound by an earlier flush. The slot keeps
// its queue position; callers promote it.
func (r *Registry) FindUnbound() (Pending, error) {
	if r.pending != nilSlot {
		return Pending{}, ErrReservationPending
	}
	for id := r.front; id != nilSlot; id = r.nodes[id].next {
		if r.nodes[id].handle == nil {
			return r.reserve(id), nil
		}
	}
	return Pending{}, ErrNoUnbound
}

// Victim picks the slot to evict. LRU takes the rear; Random walks a uniformly
// chosen number of steps in [0, capacity) from the front, using intn. The
// registry must be full, which guarantees every slot on the walk is bound.
func (r *Registry) Victim(p policy.Policy, intn func(n int) int) (SlotID, error) {
	if !r.Full() {
		return nilSlot, ErrNotFull
	}
	switch p {
	case policy.LRU:
		return r.rear, nil
	case policy.Random:
		if intn == nil {
			return nilSlot, errors.New("random policy requires a random source")
		}
		steps := intn(r.capacity)
		if steps < 0 || steps >= r.capacity {
			return nilSlot, fmt.Errorf("random rank out of range: %d", steps)
		}
		id := r.front
		for ; steps > 0; steps-- {
			id = r.nodes[id].next
		}
		return id, nil
	default:
		return nilSlot, fmt.Errorf("%w: %s cannot evict", policy.ErrUnknownPolicy, p)
	}
}

// Reclaim unbinds a bound slot (normally the victim, after its data has been
// written back) and reserves it for a new binding.
func (r *Registry) Reclaim(id SlotID) (Pending, error) {
	if r.pending != nilSlot {
		return Pending{}, ErrReservationPending
	}
	if err := r.Unbind(id); err != nil {
		return Pending{}, err
	}
	return r.reserve(id), nil
}

// Bind consumes p and binds its slot to b.
func (r *Registry) Bind(p Pending, b Binding) (SlotID, error) {
	if err := r.checkPending(p); err != nil {
		return nilSlot, err
	}
	if b.Handle == nil {
		return nilSlot, fmt.Errorf("%w: nil handle", ErrInvalidSlot)
	}
	if _, ok := r.Find(b.Handle, b.Offset); ok {
		return nilSlot, ErrDuplicateBinding
	}
	n := &r.nodes[p.id]
	n.handle = b.Handle
	n.offset = b.Offset
	n.flags = b.Flags
	n.length = b.Length
	n.dirty = false
	r.occupied++
	r.pending = nilSlot
	return p.id, nil
}

// Release consumes p without binding; the slot stays unbound.
func (r *Registry) Release(p Pending) error {
	if err := r.checkPending(p); err != nil {
		return err
	}
	r.pending = nilSlot
	return nil
}

// Unbind detaches a bound slot from its region. Unbinding an unbound slot is a no-op.
func (r *Registry) Unbind(id SlotID) error {
	if !r.valid(id) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, id)
	}
	n := &r.nodes[id]
	if n.handle == nil {
		return nil
	}
	n.handle = nil
	n.offset = 0
	n.flags = backing.ReadOnly
	n.length = 0
	n.dirty = false
	r.occupied--
	return nil
}

// Promote moves id to the most recently used end.
func (r *Registry) Promote(id SlotID) error {
	if !r.valid(id) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, id)
	}
	if r.front == id {
		return nil
	}
	r.unlink(id)
	r.pushFront(id)
	return nil
}

// MarkDirty records that the first length bytes of the chunk were modified.
// The valid length never shrinks.
func (r *Registry) MarkDirty(id SlotID, length int) error {
	n, err := r.bound(id)
	if err != nil {
		return err
	}
	n.dirty = true
	if length > n.length {
		n.length = length
	}
	return nil
}

// MarkClean records that the slot's data matches the backing store.
func (r *Registry) MarkClean(id SlotID) error {
	n, err := r.bound(id)
	if err != nil {
		return err
	}
	n.dirty = false
	return nil
}

// SetFlags updates the access flags of a bound slot.
func (r *Registry) SetFlags(id SlotID, flags backing.Flags) error {
	n, err := r.bound(id)
	if err != nil {
		return err
	}
	n.flags = flags
	return nil
}

// Slot returns a snapshot of slot id.
func (r *Registry) Slot(id SlotID) (Slot, error) {
	if !r.valid(id) {
		return Slot{}, fmt.Errorf("%w: %d", ErrInvalidSlot, id)
	}
	n := r.nodes[id]
	return Slot{
		ID:     id,
		Chunk:  n.chunk,
		Handle: n.handle,
		Offset: n.offset,
		Flags:  n.flags,
		Length: n.length,
		Dirty:  n.dirty,
	}, nil
}

// Order returns every slot id from most to least recently used.
func (r *Registry) Order() []SlotID {
	ids := make([]SlotID, 0, len(r.nodes))
	for id := r.front; id != nilSlot; id = r.nodes[id].next {
		ids = append(ids, id)
	}
	return ids
}

// Check verifies the list links and counters.
func (r *Registry) Check() error {
	seen := 0
	bound := 0
	prev := nilSlot
	for id := r.front; id != nilSlot; id = r.nodes[id].next {
		if !r.valid(id) {
			return fmt.Errorf("link to invalid slot %d", id)
		}
		if r.nodes[id].prev != prev {
			return fmt.Errorf("slot %d: prev=%d, want %d", id, r.nodes[id].prev, prev)
		}
		if r.nodes[id].handle != nil {
			bound++
		}
		seen++
		if seen > len(r.nodes) {
			return errors.New("cycle in recency list")
		}
		prev = id
	}
	if prev != r.rear {
		return fmt.Errorf("rear=%d, want %d", r.rear, prev)
	}
	if seen != len(r.nodes) {
		return fmt.Errorf("list holds %d slots, created %d", seen, len(r.nodes))
	}
	if bound != r.occupied {
		return fmt.Errorf("occupied=%d, bound slots %d", r.occupied, bound)
	}
	if r.occupied > len(r.nodes) || len(r.nodes) > r.capacity {
		return fmt.Errorf("counter invariant broken: occupied=%d created=%d capacity=%d", r.occupied, len(r.nodes), r.capacity)
	}
	return nil
}

func (r *Registry) reserve(id SlotID) Pending {
	r.gen++
	r.pending = id
	return Pending{id: id, gen: r.gen}
}

func (r *Registry) checkPending(p Pending) error {
	if r.pending == nilSlot || p.gen != r.gen || p.id != r.pending {
		return ErrStaleReservation
	}
	return nil
}

func (r *Registry) valid(id SlotID) bool {
	return id >= 0 && int(id) < len(r.nodes)
}

func (r *Registry) bound(id SlotID) (*node, error) {
	if !r.valid(id) || r.nodes[id].handle == nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, id)
	}
	return &r.nodes[id], nil
}

func (r *Registry) pushFront(id SlotID) {
	n := &r.nodes[id]
	n.prev = nilSlot
	n.next = r.front
	if r.front != nilSlot {
		r.nodes[r.front].prev = id
	}
	r.front = id
	if r.rear == nilSlot {
		r.rear = id
	}
}

func (r *Registry) unlink(id SlotID) {
	n := &r.nodes[id]
	if n.prev != nilSlot {
		r.nodes[n.prev].next = n.next
	} else {
		r.front = n.next
	}
	if n.next != nilSlot {
		r.nodes[n.next].prev = n.prev
	} else {
		r.rear = n.prev
	}
	n.prev = nilSlot
	n.next = nilSlot
}
