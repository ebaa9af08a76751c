// Package store declares the external collaborators the queue engine
// relies on: the content-addressed message store (one instance per
// persistence class, shared by every queue on the node) and the per-queue
// index (a segmented, append-only log of delivery state). Both are modeled
// as plain interfaces so the engine in package queue never depends on a
// concrete storage technology; package store/memory provides the
// reference, in-process implementation used by the engine's own tests.
package store

import "go.bryk.io/queue/ulid"

// Class identifies which message store a body belongs to. Persistent
// bodies survive a clean restart; transient bodies never do.
type Class uint8

const (
	// Transient messages are cleaned unconditionally on broker startup.
	Transient Class = iota

	// Persistent messages are recovered on a clean restart.
	Persistent
)

func (c Class) String() string {
	if c == Persistent {
		return "persistent"
	}
	return "transient"
}

// Client is a queue's private handle into a MessageStore, carrying the
// bookkeeping (PersistentRef/TransientRef) needed for crash-recovery. All
// store mutations for a queue flow through its client handle; the backing
// store is responsible for its own internal locking since it is shared by
// every queue on the node.
type Client interface {
	// Ref returns the opaque reference this client was initialized with.
	Ref() ulid.ULID

	// Write stores body under guid. Writing the same guid twice increments
	// a reference count rather than duplicating storage.
	Write(guid ulid.ULID, body []byte) error

	// Read returns the body previously stored under guid.
	Read(guid ulid.ULID) ([]byte, error)

	// Remove deletes the given guids outright, regardless of refcount.
	Remove(guids ...ulid.ULID) error

	// Release decrements the refcount for the given guids without forcing
	// deletion; used by requeue, where the body may still be held by other
	// in-flight residency records.
	Release(guids ...ulid.ULID) error

	// Contains reports whether guid is currently stored.
	Contains(guid ulid.ULID) bool

	// Sync guarantees the listed guids are durable, then invokes callback.
	// The callback may run on a different goroutine; callers that need to
	// resume actor-local state must post back through their own channel.
	Sync(guids []ulid.ULID, callback func(error))

	// Terminate releases any in-process resources held by this client
	// without touching the underlying store's durable content.
	Terminate() error

	// Delete removes this client's bookkeeping entry from the store
	// entirely (used by delete_and_terminate).
	Delete() error
}

// MessageStore is one persistence-class instance, shared by every queue on
// the node.
type MessageStore interface {
	// Client returns this store's handle for ref, creating it if this is
	// the first time ref is seen.
	Client(ref ulid.ULID) (Client, error)

	// RecoveredCleanly reports whether this store successfully recovered
	// its durable content from a previous clean shutdown. A dirty recovery
	// forces the queue index to distrust its cached segment summaries.
	RecoveredCleanly() bool

	// Clean wipes the store's backing directory/namespace unconditionally.
	// Used at broker startup for the transient store only: transient
	// messages never survive a restart.
	Clean() error
}
