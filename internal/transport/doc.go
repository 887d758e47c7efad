// Package transport owns byte-level client connections for the relay.
//
// Ownership boundary:
// - the Transport capability (connect, read exact, write all, close)
// - stream pair, tcp and unix variants, plus accepted connections
// - classification of OS failures into the relay error taxonomy
//
// A Transport is single-reader/single-writer. Callers serialize reads
// against reads and writes against writes; Close may be called from any
// goroutine and unblocks in-flight I/O.
package transport
