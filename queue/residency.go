package queue

import (
	"go.bryk.io/queue/errors"
	"go.bryk.io/queue/ulid"
)

// residency is a single message's current status within the pipeline: its
// immutable identity plus the mutable bits tracking where its body and its
// position currently live. A residency record is always owned by exactly
// one of q1, q2, q3 or q4; delta ranges never hold individual records.
type residency struct {
	seqID      uint64
	guid       ulid.ULID
	persistent bool

	delivered   bool
	msgOnDisk   bool
	indexOnDisk bool

	// body holds the RAM copy. It is always present in the alpha tier
	// (q1/q4), even when msgOnDisk is already true for a persistent
	// message written through eagerly at publish time; it is dropped to
	// free RAM only once the record leaves the alpha tier, at which point
	// a later read re-fetches it by guid.
	body []byte
}

// validate enforces the one structural invariant scoped to a single
// record: an entry cannot claim its position is durable without its body
// also being durable. A nil or empty body on an in-RAM record is legal: an
// empty message is valid input, and schema validation is out of scope.
func (r *residency) validate() error {
	if r.indexOnDisk && !r.msgOnDisk {
		return errors.Errorf("residency %d: index_on_disk without msg_on_disk", r.seqID)
	}
	return nil
}

// alpha reports whether this record's body has not yet been written to a
// message store. A persistent message written through eagerly at publish
// time reports false even while it still sits in q1/q4.
func (r *residency) alpha() bool {
	return !r.msgOnDisk
}
