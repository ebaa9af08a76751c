package store

import "go.bryk.io/queue/ulid"

// Entry is a single row of the queue index: the durable projection of a
// residency record's identity and delivery state.
type Entry struct {
	GUID       ulid.ULID
	SeqID      uint64
	Persistent bool
	Delivered  bool
	Acked      bool
}

// QueueIndex is the per-queue, append-only log of (seq_id, guid,
// persistent?, delivered?, acked?) tuples. It is never shared between
// queues. Implementations are expected to segment their backing storage so
// that NextSegmentBoundary and Read can serve a bounded range efficiently.
type QueueIndex interface {
	// Init recovers (or creates) the index. `recovered` indicates whether
	// the owning message store reports a clean prior shutdown; when false,
	// the index must discard any cached segment summaries and rescan.
	// `contains` lets the index drop references to guids the message store
	// no longer has, when rescanning after a dirty recovery.
	Init(recovered bool, contains func(guid ulid.ULID) bool) (deltaCount int, terms Terms, err error)

	// Bounds returns the lowest and next-to-be-assigned sequence ids
	// currently known to the index.
	Bounds() (low, next uint64, err error)

	// Publish records a new entry.
	Publish(guid ulid.ULID, seqID uint64, persistent bool) error

	// Deliver marks the given seq ids as delivered.
	Deliver(seqIDs []uint64) error

	// Ack marks the given seq ids as acked and eligible for compaction.
	Ack(seqIDs []uint64) error

	// Sync requests that the given seq ids be made durable. The reference
	// implementation is synchronous; a real segmented log would batch this.
	Sync(seqIDs []uint64) error

	// Read returns every entry with SeqID in [from, to).
	Read(from, to uint64) ([]Entry, error)

	// NextSegmentBoundary returns the smallest segment boundary strictly
	// greater than seqID. Per spec, a β→δ conversion from Q3's tail may
	// legitimately span "up to one segment" when seqID sits near a
	// boundary — callers must not assume the result is exactly one segment
	// width away.
	NextSegmentBoundary(seqID uint64) uint64

	// Flush persists any buffered writes (the pre-hibernate hook).
	Flush() error

	// Terminate writes terms durably and releases index resources.
	Terminate(terms Terms) error

	// DeleteAndTerminate removes the index file entirely.
	DeleteAndTerminate() error
}
