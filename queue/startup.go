package queue

import (
	"time"

	"go.bryk.io/queue/errors"
	xlog "go.bryk.io/queue/log"
	"go.bryk.io/queue/store"
	"go.bryk.io/queue/ulid"
)

// defaultMailboxSize is used when WithMailboxSize is not supplied.
const defaultMailboxSize = 16

// Open recovers (or creates) a queue backed by index and the two
// message stores, applies opts, and starts its mailbox goroutine. name
// identifies the queue only for logging and metrics labels; the durable
// identity the message stores key on is the ULID pair recovered from (or
// minted into) the index's checkpoint terms.
func Open(name string, index store.QueueIndex, persistentStore, transientStore store.MessageStore, opts ...Option) (*Queue, error) {
	q := &Queue{
		name:              name,
		log:               xlog.Discard(),
		mailbox:           make(chan func(), defaultMailboxSize),
		done:              make(chan struct{}),
		index:             index,
		pendingAcks:       make(map[AckTag]*ackEntry),
		txs:               make(map[TxID]*txBuffer),
		targetDuration:    Infinite,
		targetRAMMsgCount: unboundedRAM,
	}
	q.persistentStore = persistentStore
	q.transientStore = transientStore

	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}

	if err := q.init(); err != nil {
		return nil, err
	}

	go q.loop()
	return q, nil
}

// init performs the crash-recovery sequence: recover the index's
// checkpoint terms, mint or reuse the message-store client refs, rebuild
// the pipeline's delta range from the recovered bounds, and — only when
// the previous shutdown was not clean — prune index entries whose
// message-store content is actually gone.
//
// The contains callback store.QueueIndex.Init accepts cannot be supplied
// at Init time: it needs a message-store client, and the client's ref
// comes from the very terms Init is about to return. Init is therefore
// always called with a nil callback; pruneOrphanedEntries below performs
// the equivalent pass once the clients exist.
func (q *Queue) init() error {
	recoveredCleanly := q.persistentStore.RecoveredCleanly()

	deltaCount, terms, err := q.index.Init(recoveredCleanly, nil)
	if err != nil {
		return errors.Wrap(err, "queue index init")
	}

	var persistentRef, transientRef ulid.ULID
	if terms.HasRefs {
		persistentRef = terms.PersistentRef
		transientRef = terms.TransientRef
		q.persistentCount = terms.PersistentCount
	} else {
		if persistentRef, err = ulid.New(); err != nil {
			return errors.Wrap(err, "mint persistent ref")
		}
		if transientRef, err = ulid.New(); err != nil {
			return errors.Wrap(err, "mint transient ref")
		}
	}

	if q.persistentClient, err = q.persistentStore.Client(persistentRef); err != nil {
		return errors.Wrap(err, "persistent store client")
	}
	if q.transientClient, err = q.transientStore.Client(transientRef); err != nil {
		return errors.Wrap(err, "transient store client")
	}

	low, next, err := q.index.Bounds()
	if err != nil {
		return errors.Wrap(err, "queue index bounds")
	}
	q.nextSeqID = next

	q.pipe = newPipeline()
	if deltaCount > 0 {
		q.pipe.delta = delta{start: low, end: next, count: deltaCount}
	}

	// Every transient entry surviving from before this restart is an
	// orphan: the transient store was wiped at broker startup, so the
	// body behind it is already gone.
	q.transientThreshold = next
	if !recoveredCleanly {
		if err := q.pruneOrphanedEntries(low, next); err != nil {
			return errors.Wrap(err, "prune orphaned entries")
		}
	}

	q.rate = newRateEstimator(time.Now(), q.pipe.delta.count)

	// Prime q3 with one delta-to-beta pass: a recovered non-empty delta
	// otherwise leaves q3 empty, violating the invariant that delta can
	// only be non-empty while q3 is non-empty too.
	if err := q.demandLoadFromDelta(); err != nil {
		return errors.Wrap(err, "prime delta")
	}
	return q.runPhaseChange()
}

// pruneOrphanedEntries scans the recovered index range [low, next) for
// persistent entries whose body the persistent message store no longer
// has — possible after a dirty shutdown interrupted a message-store write
// mid-flight — acks them out of the index, and resyncs the pipeline's
// delta count to the surviving entries.
func (q *Queue) pruneOrphanedEntries(low, next uint64) error {
	entries, err := q.index.Read(low, next)
	if err != nil {
		return err
	}

	var toAck []uint64
	for _, e := range entries {
		orphaned := e.Persistent && !q.persistentClient.Contains(e.GUID)
		transientStale := !e.Persistent && e.SeqID < q.transientThreshold
		if orphaned || transientStale {
			toAck = append(toAck, e.SeqID)
		}
	}
	if len(toAck) == 0 {
		return nil
	}
	if err := q.index.Ack(toAck); err != nil {
		return err
	}

	if !q.pipe.delta.empty() {
		q.pipe.delta.count -= len(toAck)
		if q.pipe.delta.count <= 0 {
			q.pipe.delta = blankDelta()
		}
	}
	return nil
}

// StartBroker performs the node-wide (not per-queue) startup step: the
// transient message store never survives a restart, clean or otherwise,
// and must be wiped before any queue begins recovering against it.
func StartBroker(transientStore store.MessageStore) error {
	return transientStore.Clean()
}
