package memory

import (
	"sort"
	"sync"

	"go.bryk.io/queue/store"
	"go.bryk.io/queue/ulid"
)

// DefaultSegmentSize mirrors a typical on-disk queue index segment width;
// it governs NextSegmentBoundary.
const DefaultSegmentSize = 1024

// Backing holds a queue index's durable content independently of any single
// QueueIndex instance, so tests can simulate a restart by constructing a
// fresh QueueIndex bound to the same Backing.
type Backing struct {
	mu       sync.Mutex
	entries  map[uint64]store.Entry
	low      uint64
	next     uint64
	terms    store.Terms
	hasTerms bool
}

// NewBacking returns an empty, fresh backing store (no prior terms).
func NewBacking() *Backing {
	return &Backing{entries: make(map[uint64]store.Entry)}
}

var _ store.QueueIndex = (*QueueIndex)(nil)

// QueueIndex is an in-process, segmented append log: the reference
// implementation of store.QueueIndex.
type QueueIndex struct {
	segmentSize uint64
	b           *Backing
}

// NewQueueIndex returns an index view over the given backing store.
// segmentSize <= 0 uses DefaultSegmentSize.
func NewQueueIndex(segmentSize uint64, backing *Backing) *QueueIndex {
	if segmentSize == 0 {
		segmentSize = DefaultSegmentSize
	}
	if backing == nil {
		backing = NewBacking()
	}
	return &QueueIndex{segmentSize: segmentSize, b: backing}
}

// Init implements store.QueueIndex. `recovered` signals whether the message
// store backing this queue reported a clean prior shutdown; when false the
// index rescans its entries and drops any whose guid the store no longer
// has, per the transient-message garbage-collection corner case (§7).
func (q *QueueIndex) Init(recovered bool, contains func(guid ulid.ULID) bool) (int, store.Terms, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()

	if !recovered && contains != nil {
		for seq, e := range q.b.entries {
			if !contains(e.GUID) {
				delete(q.b.entries, seq)
			}
		}
	}

	delta := 0
	for _, e := range q.b.entries {
		if !e.Acked {
			delta++
		}
	}
	terms := q.b.terms
	terms.HasRefs = q.b.hasTerms
	return delta, terms, nil
}

// Bounds implements store.QueueIndex.
func (q *QueueIndex) Bounds() (uint64, uint64, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	return q.b.low, q.b.next, nil
}

// Publish implements store.QueueIndex.
func (q *QueueIndex) Publish(guid ulid.ULID, seqID uint64, persistent bool) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.b.entries[seqID] = store.Entry{GUID: guid, SeqID: seqID, Persistent: persistent}
	if seqID >= q.b.next {
		q.b.next = seqID + 1
	}
	return nil
}

// Deliver implements store.QueueIndex.
func (q *QueueIndex) Deliver(seqIDs []uint64) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	for _, s := range seqIDs {
		if e, ok := q.b.entries[s]; ok {
			e.Delivered = true
			q.b.entries[s] = e
		}
	}
	return nil
}

// Ack implements store.QueueIndex. Acked entries are compacted out
// immediately; this reference implementation keeps no tombstones.
func (q *QueueIndex) Ack(seqIDs []uint64) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	for _, s := range seqIDs {
		delete(q.b.entries, s)
	}
	return nil
}

// Sync implements store.QueueIndex. The in-memory backing is always
// durable the instant it's written, so this is a no-op.
func (q *QueueIndex) Sync(seqIDs []uint64) error {
	return nil
}

// Read implements store.QueueIndex.
func (q *QueueIndex) Read(from, to uint64) ([]store.Entry, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	out := make([]store.Entry, 0, to-from)
	for seq, e := range q.b.entries {
		if seq >= from && seq < to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	return out, nil
}

// NextSegmentBoundary implements store.QueueIndex.
func (q *QueueIndex) NextSegmentBoundary(seqID uint64) uint64 {
	return (seqID/q.segmentSize + 1) * q.segmentSize
}

// Flush implements store.QueueIndex.
func (q *QueueIndex) Flush() error {
	return nil
}

// Terminate implements store.QueueIndex.
func (q *QueueIndex) Terminate(terms store.Terms) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.b.terms = terms
	q.b.hasTerms = true
	return nil
}

// DeleteAndTerminate implements store.QueueIndex.
func (q *QueueIndex) DeleteAndTerminate() error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.b.entries = make(map[uint64]store.Entry)
	q.b.low = 0
	q.b.next = 0
	q.b.terms = store.Terms{}
	q.b.hasTerms = false
	return nil
}

// SetLow seeds the index's low-water mark; used by tests that want to
// simulate recovering an index that already has a non-zero starting bound.
func (q *QueueIndex) SetLow(low uint64) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.b.low = low
	if q.b.next < low {
		q.b.next = low
	}
}
