// Package cache implements the write-back chunk cache that sits between the
// file-access proxy and the backing files. Engine ties together the chunk store
// (raw bytes), the slot registry (which chunk caches which region, in recency
// order) and the eviction policy, and exposes positioned Read/Write/Close with
// the same shape as pread/pwrite/close on a backing handle.
//
// Lookups match exact (handle, offset) pairs only; a request that overlaps a
// cached region at a different offset is a miss. Misses go to the backing file
// for the full length, retrying a bounded number of times when fewer bytes than
// requested are transferred, and are then cached. Writes that hit a cached
// region stay in memory (dirty) until the slot is evicted, the handle is synced
// or the handle is closed.
//
// Engine does no locking; callers serialize access to one instance.
package cache
