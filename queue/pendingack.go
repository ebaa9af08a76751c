package queue

import "go.bryk.io/queue/ulid"

// ackEntry is the tagged-variant pending-ack record: either the full
// residency (body still in RAM, created by a fetch — which only ever
// pulls alpha records out of q4) or a bare (persistent?, guid) pair
// (created by publish_delivered, whose body is written straight to disk).
type ackEntry struct {
	hasResidency bool
	residency    *residency

	persistent bool
	guid       ulid.ULID
}

func newAckEntryFromResidency(r *residency) *ackEntry {
	return &ackEntry{hasResidency: true, residency: r}
}

func newAckEntryDisk(persistent bool, guid ulid.ULID) *ackEntry {
	return &ackEntry{persistent: persistent, guid: guid}
}

func (e *ackEntry) isPersistent() bool {
	if e.hasResidency {
		return e.residency.persistent
	}
	return e.persistent
}
