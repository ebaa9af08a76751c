package store

import "go.bryk.io/queue/ulid"

// Terms are the durable checkpoint values a queue writes through its index
// on clean termination and reads back on the next init. They are opaque to
// the queue index itself; the queue engine is the only party that
// interprets them.
type Terms struct {
	// PersistentRef identifies this queue's client handle on the persistent
	// message store.
	PersistentRef ulid.ULID

	// TransientRef identifies this queue's client handle on the transient
	// message store.
	TransientRef ulid.ULID

	// PersistentCount is the number of persistent messages this queue held
	// at the time the terms were written.
	PersistentCount int

	// HasRefs reports whether PersistentRef/TransientRef were present in the
	// recovered terms. A missing pair means the previous shutdown was not
	// clean; fresh refs must be minted and PersistentCount ignored.
	HasRefs bool
}
