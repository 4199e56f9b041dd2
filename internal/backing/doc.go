// Package backing provides the backing-store handle abstraction consumed by the
// chunk cache: an open file plus the access mode it was opened with, exposing
// positioned reads and writes with raw pread/pwrite semantics (a short transfer
// is reported as a short count, not papered over).
//
// Store confines every opened file to a root directory, mirroring how the HTTP
// front exposes files by relative path. FaultyHandle wraps any Handle and
// injects short transfers or write failures for tests.
package backing
