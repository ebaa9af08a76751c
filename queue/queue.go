// Package queue implements the storage-tier engine backing a single
// message queue: the residency pipeline that rebalances messages across
// RAM and disk to honor a target RAM-duration, the pending-ack map, the
// transaction buffer, and the crash-recovery startup sequence. It has no
// notion of routing, consumers or channels; those live one layer up.
package queue

import (
	"sync"
	"time"

	xlog "go.bryk.io/queue/log"
	"go.bryk.io/queue/metrics"
	"go.bryk.io/queue/store"
	"go.bryk.io/queue/ulid"
)

// Message is a caller-supplied payload accepted by Publish.
type Message struct {
	GUID       ulid.ULID
	Body       []byte
	Persistent bool
}

// AckTag identifies one outstanding delivery. It is the message's seq id;
// tags are never reused within a queue's lifetime.
type AckTag uint64

// Delivery is a single message handed back by Fetch, carrying everything
// a caller needs to eventually Ack or Requeue it.
type Delivery struct {
	Tag         AckTag
	GUID        ulid.ULID
	Body        []byte
	Persistent  bool
	Redelivered bool
}

// Queue is one per-queue instance of the residency pipeline described in
// the package doc. All exported methods are safe for concurrent use; the
// engine serializes every mutation behind a single mutex, matching the
// single-actor model the pipeline's ordering invariants assume.
type Queue struct {
	mu sync.Mutex

	name    string
	durable bool

	assertInvariants bool
	log              xlog.Logger
	metrics          *metrics.QueueCollector

	mailbox chan func()
	done    chan struct{}

	pipe  *pipeline
	index store.QueueIndex

	persistentStore  store.MessageStore
	transientStore   store.MessageStore
	persistentClient store.Client
	transientClient  store.Client

	nextSeqID          uint64
	persistentCount    int
	transientThreshold uint64

	pendingAcks map[AckTag]*ackEntry

	rate              *rateEstimator
	targetDuration    time.Duration
	targetRAMMsgCount int

	txs map[TxID]*txBuffer

	terminated bool
}

// clientFor returns the message-store client backing persistent or
// transient bodies, according to class.
func (q *Queue) clientFor(persistent bool) store.Client {
	if persistent {
		return q.persistentClient
	}
	return q.transientClient
}

// Len reports the total number of messages currently held, across every
// residency tier.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pipe.length()
}

// Publish appends msg to the queue, assigning it the next seq id and
// placing it in whichever tail the pipeline currently prefers. Returns
// the assigned seq id.
func (q *Queue) Publish(msg Message) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return 0, ErrTerminated
	}
	seqID, err := q.publishLocked(msg, false)
	if err != nil {
		return 0, err
	}
	if err := q.runPhaseChange(); err != nil {
		return 0, err
	}
	q.assertInvariantsLocked()
	q.observePublishLocked()
	return seqID, nil
}

// publishLocked performs the actual insert without running the
// phase-change pass, so callers that need to batch several inserts (tx
// commit) can defer rebalancing until the whole batch has landed. The
// body for a persistent message on a durable queue is written through
// immediately: a clean restart reloads state from the index and message
// store alone, and rebalancing never runs on a schedule that guarantees
// it touches a freshly published alpha record before a shutdown.
func (q *Queue) publishLocked(msg Message, delivered bool) (uint64, error) {
	return q.publishRecordLocked(msg, delivered, false)
}

// publishRecordLocked is publishLocked's shared implementation. bodyWritten
// lets a tx commit, which already wrote a persistent body through during
// tx_publish, skip the redundant store write while still publishing the
// index entry that tx_publish deliberately defers to commit time.
func (q *Queue) publishRecordLocked(msg Message, delivered, bodyWritten bool) (uint64, error) {
	persistent := msg.Persistent && q.durable
	seqID := q.nextSeqID
	q.nextSeqID++

	r := &residency{
		seqID:      seqID,
		guid:       msg.GUID,
		persistent: persistent,
		delivered:  delivered,
		body:       msg.Body,
	}
	if persistent {
		if err := q.persistRecordLocked(r, bodyWritten); err != nil {
			return 0, err
		}
	}
	q.pipe.publishTarget().PushBack(r)
	if persistent {
		q.persistentCount++
	}
	q.rate.recordPublish(1)
	return seqID, nil
}

// persistRecordLocked writes r's body through to the persistent message
// store (unless bodyWritten says a caller already did so) and publishes
// its index entry, marking the record durable. It never evicts r.body:
// eviction is phase.go's job, once the record is actually demoted out of
// the alpha tier, so a fresh publish stays RAM-resident for fast delivery
// even though it is already safely on disk.
func (q *Queue) persistRecordLocked(r *residency, bodyWritten bool) error {
	if !bodyWritten {
		if err := q.persistentClient.Write(r.guid, r.body); err != nil {
			return err
		}
	}
	if err := q.index.Publish(r.guid, r.seqID, true); err != nil {
		return err
	}
	r.msgOnDisk = true
	r.indexOnDisk = true
	return nil
}

// PublishDelivered publishes msg directly into the pending-ack map,
// bypassing the pipeline entirely: the body is written straight to its
// message store and is not fetchable unless its tag is requeued. Valid only against an empty
// queue; used to recover deliveries a consumer already held in flight
// across a broker restart.
func (q *Queue) PublishDelivered(msg Message) (AckTag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return 0, ErrTerminated
	}
	if !q.pipe.empty() || q.pipe.length() != 0 {
		return 0, ErrQueueNotEmpty
	}

	persistent := msg.Persistent && q.durable
	seqID := q.nextSeqID
	q.nextSeqID++

	client := q.clientFor(persistent)
	if err := client.Write(msg.GUID, msg.Body); err != nil {
		return 0, err
	}
	if persistent {
		q.persistentCount++
	}
	q.rate.recordPublish(1)

	tag := AckTag(seqID)
	q.pendingAcks[tag] = newAckEntryDisk(persistent, msg.GUID)
	q.assertInvariantsLocked()
	return tag, nil
}

// Fetch removes the oldest resident message (promoting it from q3 into
// q4 first if RAM is currently empty) and, when ackRequired is true,
// parks it in the pending-ack map under the returned tag. When
// ackRequired is false the message is considered delivered and forgotten
// immediately; callers that pass false cannot Ack or Requeue it.
func (q *Queue) Fetch(ackRequired bool) (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return nil, ErrTerminated
	}

	if q.pipe.q4.Len() == 0 {
		r, err := q.promoteOneToQ4()
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, nil
		}
	}

	r := q.pipe.q4.PopFront()
	if r == nil {
		return nil, nil
	}

	d := &Delivery{
		Tag:         AckTag(r.seqID),
		GUID:        r.guid,
		Body:        r.body,
		Persistent:  r.persistent,
		Redelivered: r.delivered,
	}

	if err := q.index.Deliver([]uint64{r.seqID}); err != nil {
		return nil, err
	}

	if ackRequired {
		r.delivered = true
		q.pendingAcks[d.Tag] = newAckEntryFromResidency(r)
	} else {
		if err := q.dropRecordLocked(r); err != nil {
			return nil, err
		}
		if err := q.index.Ack([]uint64{r.seqID}); err != nil {
			return nil, err
		}
	}

	q.rate.recordFetch(1)
	if err := q.runPhaseChange(); err != nil {
		return nil, err
	}
	q.assertInvariantsLocked()
	if q.metrics != nil {
		q.metrics.ObserveFetch(q.pipe.length())
	}
	return d, nil
}

// Ack finalizes the given deliveries: their index entries are marked
// acked, their message-store bodies released, and their pending-ack
// entries removed.
func (q *Queue) Ack(tags []AckTag) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}
	if err := q.ackLocked(tags); err != nil {
		return err
	}
	q.assertInvariantsLocked()
	if q.metrics != nil {
		q.metrics.ObserveAck(len(tags))
	}
	return nil
}

func (q *Queue) ackLocked(tags []AckTag) error {
	seqIDs := make([]uint64, 0, len(tags))
	for _, tag := range tags {
		e, ok := q.pendingAcks[tag]
		if !ok {
			continue
		}
		delete(q.pendingAcks, tag)
		seqIDs = append(seqIDs, uint64(tag))

		guid := q.ackEntryGUID(e)
		if e.isPersistent() {
			q.persistentCount--
		}
		client := q.clientFor(e.isPersistent())
		if err := client.Remove(guid); err != nil {
			return err
		}
	}
	if len(seqIDs) == 0 {
		return nil
	}
	return q.index.Ack(seqIDs)
}

func (q *Queue) ackEntryGUID(e *ackEntry) ulid.ULID {
	if e.hasResidency {
		return e.residency.guid
	}
	return e.guid
}

// Requeue returns the given deliveries to the front of the queue (the
// next position a fetch would serve), clearing their pending-ack state
// and marking them redelivered. A disk-resident entry's stored body is
// released via the message store before the fresh in-RAM record is
// created, so its original refcount is not leaked.
func (q *Queue) Requeue(tags []AckTag) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}

	n := 0
	for _, tag := range tags {
		e, ok := q.pendingAcks[tag]
		if !ok {
			continue
		}
		delete(q.pendingAcks, tag)

		var r *residency
		if e.hasResidency {
			r = e.residency
		} else {
			client := q.clientFor(e.persistent)
			body, err := client.Read(e.guid)
			if err != nil {
				return err
			}
			if err := client.Release(e.guid); err != nil {
				return err
			}
			r = &residency{
				seqID:      uint64(tag),
				guid:       e.guid,
				persistent: e.persistent,
				delivered:  true,
				body:       body,
			}
		}
		r.delivered = true
		q.pipe.q4.PushFront(r)
		n++
	}
	if n == 0 {
		return nil
	}

	if err := q.runPhaseChange(); err != nil {
		return err
	}
	q.assertInvariantsLocked()
	if q.metrics != nil {
		q.metrics.ObserveRequeue(n, q.pipe.length())
	}
	return nil
}

// Purge discards every resident and pending-ack message without
// acknowledgement, returning the count removed.
func (q *Queue) Purge() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return 0, ErrTerminated
	}
	n, err := q.purgeLocked()
	if err != nil {
		return 0, err
	}
	q.assertInvariantsLocked()
	return n, nil
}

func (q *Queue) purgeLocked() (int, error) {
	n := 0
	var acked []uint64

	for tag, e := range q.pendingAcks {
		delete(q.pendingAcks, tag)
		guid := q.ackEntryGUID(e)
		if e.isPersistent() {
			q.persistentCount--
		}
		if err := q.clientFor(e.isPersistent()).Remove(guid); err != nil {
			return n, err
		}
		acked = append(acked, uint64(tag))
		n++
	}

	for _, r := range q.pipe.all() {
		if err := q.dropRecordLocked(r); err != nil {
			return n, err
		}
		acked = append(acked, r.seqID)
		n++
	}
	if len(acked) > 0 {
		if err := q.index.Ack(acked); err != nil {
			return n, err
		}
	}

	if !q.pipe.delta.empty() {
		entries, err := q.index.Read(q.pipe.delta.start, q.pipe.delta.end)
		if err != nil {
			return n, err
		}
		for _, e := range entries {
			if e.Persistent {
				q.persistentCount--
			}
			if err := q.clientFor(e.Persistent).Remove(e.GUID); err != nil {
				return n, err
			}
			n++
		}
		if err := q.index.Ack(seqRange(q.pipe.delta.start, q.pipe.delta.end)); err != nil {
			return n, err
		}
	}

	q.pipe = newPipeline()
	return n, nil
}

// seqRange returns every seq id in [from, to); used to ack a full delta
// range in one call during purge.
func seqRange(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

// dropRecordLocked releases a record's disk body (if any) without going
// through Ack's index bookkeeping; used where the index entry is being
// discarded wholesale (purge) or is acked by the caller right after (a
// no-ack fetch).
func (q *Queue) dropRecordLocked(r *residency) error {
	if r.persistent {
		q.persistentCount--
	}
	if r.msgOnDisk {
		if err := q.clientFor(r.persistent).Remove(r.guid); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAndTerminate purges the queue and permanently removes its
// backing index and message-store bookkeeping. The Queue must not be used
// afterward.
func (q *Queue) DeleteAndTerminate() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}
	if _, err := q.purgeLocked(); err != nil {
		return err
	}
	if err := q.index.DeleteAndTerminate(); err != nil {
		return err
	}
	if err := q.persistentClient.Delete(); err != nil {
		return err
	}
	if err := q.transientClient.Delete(); err != nil {
		return err
	}
	q.terminated = true
	close(q.done)
	return nil
}

// Terminate stops the queue's background mailbox goroutine and releases
// its message-store client handles without touching durable content.
// Unlike DeleteAndTerminate, a subsequent Open against the same backing
// index/stores recovers this queue's state.
func (q *Queue) Terminate() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return nil
	}
	if err := q.index.Terminate(q.checkpointTermsLocked()); err != nil {
		return err
	}
	if err := q.persistentClient.Terminate(); err != nil {
		return err
	}
	if err := q.transientClient.Terminate(); err != nil {
		return err
	}
	q.terminated = true
	close(q.done)
	return nil
}

// PreHibernate flushes the queue index; called when a consumer-less queue
// is about to be swapped out of an idle broker's working set.
func (q *Queue) PreHibernate() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}
	return q.index.Flush()
}

// IdleTick re-samples the ingress/egress rate estimator and re-runs the
// phase-change pass against the freshly measured RAM-duration target.
// Callers are expected to invoke this on a fixed interval.
func (q *Queue) IdleTick() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}
	q.sampleRateLocked()
	return q.runPhaseChange()
}

func (q *Queue) sampleRateLocked() {
	now := time.Now()
	ram := q.pipe.ramMsgCount()
	avgIn, avgOut := q.rate.update(now)
	d := computeDuration(q.rate.prevRAMMsgCount, ram, avgIn, avgOut)
	q.rate.prevRAMMsgCount = ram

	if q.targetDuration != Infinite {
		q.targetRAMMsgCount = targetRAMMsgCount(q.targetDuration, avgIn, avgOut)
	}
	if q.metrics != nil {
		secs := -1.0
		if d != Infinite {
			secs = d.Seconds()
		}
		q.metrics.SetRAMDuration(secs)
		q.metrics.SetResidency(q.pipe.ramMsgCount(), q.pipe.ramIndexCount())
	}
}

// targetRAMMsgCount converts a RAM-duration target into a message-count
// budget: floor(target_seconds * (avgIn + avgOut)).
func targetRAMMsgCount(target time.Duration, avgIn, avgOut float64) int {
	if target == Infinite {
		return unboundedRAM
	}
	n := target.Seconds() * (avgIn + avgOut)
	if n < 0 {
		n = 0
	}
	return int(n)
}

// SetRAMDurationTarget adjusts how many seconds worth of traffic the
// queue tries to keep fully resident in RAM. Infinite disables eager
// demotion entirely.
func (q *Queue) SetRAMDurationTarget(d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}
	q.targetDuration = d
	if d == Infinite {
		q.targetRAMMsgCount = unboundedRAM
	} else {
		q.targetRAMMsgCount = targetRAMMsgCount(d, q.rate.avgIn, q.rate.avgOut)
	}
	return q.runPhaseChange()
}

func (q *Queue) checkpointTermsLocked() store.Terms {
	return store.Terms{
		PersistentRef:   q.persistentClient.Ref(),
		TransientRef:    q.transientClient.Ref(),
		PersistentCount: q.persistentCount,
		HasRefs:         true,
	}
}

func (q *Queue) observePublishLocked() {
	if q.metrics != nil {
		q.metrics.ObservePublish(q.pipe.length(), q.persistentCount)
	}
}

func (q *Queue) observePhaseBatch(start time.Time) {
	if q.metrics != nil {
		q.metrics.ObservePhaseBatch(time.Since(start).Seconds())
	}
}
