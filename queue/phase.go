package queue

import (
	"math"
	"time"
)

// IOBatch is the fixed batch size controlling alpha-to-beta and
// beta-to-gamma amortisation: a hard floor and ceiling on how much disk
// work one phase-change pass performs.
const IOBatch = 64

// runPhaseChange applies the three eager transitions in sequence: shed
// bodies toward the RAM-message target, shed index positions toward the
// permitted RAM-index count, then fold fully-durable runs into delta.
// If that leaves q3 empty while delta still holds entries, one
// delta-to-beta load re-primes q3, so the pass never ends in a state that
// breaks the delta/q3 invariant. Called after every publish, fetch,
// requeue, tx commit, idle tick and RAM-duration target change, and once
// at startup.
func (q *Queue) runPhaseChange() error {
	start := time.Now()
	if err := q.applyTargetResidency(); err != nil {
		return err
	}
	if err := q.applyPermittedRAMIndex(); err != nil {
		return err
	}
	if err := q.coalesceToDelta(); err != nil {
		return err
	}
	if err := q.demandLoadFromDelta(); err != nil {
		return err
	}
	q.observePhaseBatch(start)
	return nil
}

// applyTargetResidency implements the target-residency threshold: shed at
// most IOBatch alpha records per pass, or collapse everything immediately
// when the target has dropped to zero.
func (q *Queue) applyTargetResidency() error {
	if q.targetRAMMsgCount == unboundedRAM {
		return nil
	}
	if q.targetRAMMsgCount == 0 {
		return q.collapseAllToDelta()
	}
	chunk := q.pipe.ramMsgCount() - q.targetRAMMsgCount
	if chunk > IOBatch {
		chunk = IOBatch
	}
	if chunk > 0 {
		return q.shedAlphaToBeta(chunk)
	}
	return nil
}

// applyPermittedRAMIndex implements the permitted-RAM-indices threshold:
// permitted = beta - floor(beta^2 / (len - delta.count)). When the gap
// between ram_index_count and permitted reaches IOBatch, write exactly one
// IOBatch-sized batch of index entries through to disk.
func (q *Queue) applyPermittedRAMIndex() error {
	l := q.pipe.length()
	if l == 0 {
		return nil
	}
	beta := q.pipe.q2.Len() + q.pipe.q3.Len()
	denom := l - q.pipe.delta.count
	if denom <= 0 {
		return nil // infinite headroom; nothing to do
	}
	permitted := beta - (beta*beta)/denom
	if q.pipe.ramIndexCount()-permitted >= IOBatch {
		_, err := q.shedIndex(IOBatch)
		return err
	}
	return nil
}

// shedAlphaToBeta is the alpha-to-beta transition: evict up to n bodies
// from the ends farthest from the read head (q1's head, q4's tail),
// writing each through to its message store if not already durable there.
func (q *Queue) shedAlphaToBeta(n int) error {
	for n > 0 {
		var r *residency
		var fromQ1 bool
		switch {
		case q.pipe.q1.Len() > 0:
			r = q.pipe.q1.PopFront()
			fromQ1 = true
		case q.pipe.q4.Len() > 0:
			r = q.pipe.q4.PopBack()
		default:
			return nil
		}
		if !r.msgOnDisk {
			client := q.clientFor(r.persistent)
			if err := client.Write(r.guid, r.body); err != nil {
				if fromQ1 {
					q.pipe.q1.PushFront(r)
				} else {
					q.pipe.q4.PushBack(r)
				}
				return err
			}
			r.msgOnDisk = true
		}
		// The body may already be durable (a persistent message eagerly
		// written through at publish time) while still alpha; either way,
		// leaving the alpha tier means dropping the RAM copy.
		r.body = nil
		if fromQ1 {
			q.pipe.q2.PushBack(r)
		} else {
			q.pipe.q3.PushFront(r)
		}
		n--
	}
	return nil
}

// shedIndex is the beta-to-gamma transition: write the index entry for up
// to max elements of q2/q3 whose index_on_disk is false, oldest first
// within each container, flipping the bit as each write succeeds.
func (q *Queue) shedIndex(max int) (int, error) {
	converted := 0
	for _, r := range q.pipe.q2.all() {
		if converted >= max {
			return converted, nil
		}
		if r.indexOnDisk {
			continue
		}
		if err := q.index.Publish(r.guid, r.seqID, r.persistent); err != nil {
			return converted, err
		}
		r.indexOnDisk = true
		q.pipe.q2.indexOnDiskCount++
		converted++
	}
	for _, r := range q.pipe.q3.all() {
		if converted >= max {
			return converted, nil
		}
		if r.indexOnDisk {
			continue
		}
		if err := q.index.Publish(r.guid, r.seqID, r.persistent); err != nil {
			return converted, err
		}
		r.indexOnDisk = true
		q.pipe.q3.indexOnDiskCount++
		converted++
	}
	return converted, nil
}

// forceGamma converts every remaining beta record in q2/q3 to gamma; used
// as the mandatory prerequisite before coalescing a run into delta.
func (q *Queue) forceGamma() error {
	_, err := q.shedIndex(math.MaxInt)
	return err
}

// coalesceToDelta is the beta/gamma-to-delta transition. It absorbs q3's
// tail and q2's head into delta once a full index segment of warm content
// remains between delta and the opposite read/write end. Per the source's
// own open question, this may absorb slightly more than one segment when
// a candidate's seq id sits near a boundary; property tests must tolerate
// either outcome.
func (q *Queue) coalesceToDelta() error {
	if err := q.forceGamma(); err != nil {
		return err
	}

	for {
		cand := q.pipe.q3.Back()
		if cand == nil {
			break
		}
		ref := cand.seqID
		if q.pipe.q4.Len() > 0 {
			ref = q.pipe.q4.Front().seqID
		}
		if cand.seqID < q.index.NextSegmentBoundary(ref) {
			break
		}
		q.pipe.q3.PopBack()
		q.absorbLow(cand)
	}

	for {
		cand := q.pipe.q2.Front()
		if cand == nil {
			break
		}
		ref := cand.seqID
		if q.pipe.q1.Len() > 0 {
			ref = q.pipe.q1.Back().seqID
		}
		if q.index.NextSegmentBoundary(cand.seqID) > ref {
			break
		}
		q.pipe.q2.PopFront()
		q.absorbHigh(cand)
	}
	return nil
}

func (q *Queue) absorbLow(r *residency) {
	if q.pipe.delta.empty() {
		q.pipe.delta = delta{start: r.seqID, end: r.seqID + 1, count: 1}
		return
	}
	q.pipe.delta.start = r.seqID
	q.pipe.delta.count++
}

func (q *Queue) absorbHigh(r *residency) {
	if q.pipe.delta.empty() {
		q.pipe.delta = delta{start: r.seqID, end: r.seqID + 1, count: 1}
		return
	}
	q.pipe.delta.end = r.seqID + 1
	q.pipe.delta.count++
}

// collapseAllToDelta is the terminal demotion: target_ram_msg_count == 0
// forces every resident record straight to delta, bypassing the usual
// segment-boundary throttle in coalesceToDelta.
func (q *Queue) collapseAllToDelta() error {
	if err := q.shedAlphaToBeta(q.pipe.ramMsgCount()); err != nil {
		return err
	}
	if err := q.forceGamma(); err != nil {
		return err
	}
	for q.pipe.q3.Len() > 0 {
		q.absorbLow(q.pipe.q3.PopBack())
	}
	for q.pipe.q2.Len() > 0 {
		q.absorbHigh(q.pipe.q2.PopFront())
	}
	return nil
}

// demandLoadFromDelta is the delta-to-beta transition: read up to one
// index segment starting at delta.start, rebuild residency records for
// every surviving entry (dropping transient orphans below the transient
// threshold), and append them to q3. If the range empties entirely, delta
// goes blank and q2's remaining content concatenates onto q3's tail.
func (q *Queue) demandLoadFromDelta() error {
	if q.pipe.q3.Len() > 0 || q.pipe.delta.empty() {
		return nil
	}
	hi := q.index.NextSegmentBoundary(q.pipe.delta.start)
	if hi > q.pipe.delta.end {
		hi = q.pipe.delta.end
	}
	entries, err := q.index.Read(q.pipe.delta.start, hi)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.SeqID < q.transientThreshold && !e.Persistent {
			if err := q.index.Ack([]uint64{e.SeqID}); err != nil {
				return err
			}
			continue
		}
		q.pipe.q3.PushBack(&residency{
			seqID:       e.SeqID,
			guid:        e.GUID,
			persistent:  e.Persistent,
			delivered:   e.Delivered,
			msgOnDisk:   true,
			indexOnDisk: true,
		})
	}

	q.pipe.delta.start = hi
	q.pipe.delta.count -= len(entries)
	if q.pipe.delta.count <= 0 || q.pipe.delta.start >= q.pipe.delta.end {
		q.pipe.delta = blankDelta()
		q.pipe.q3.appendAllFrom(q.pipe.q2)
	}
	return nil
}

// promoteOneToQ4 is the demand-driven beta/gamma-to-alpha reverse: prime
// q3 from delta if necessary, then move its head element into q4, reading
// the body back from disk. Returns nil, nil when the queue is genuinely
// empty.
func (q *Queue) promoteOneToQ4() (*residency, error) {
	if q.pipe.q3.Len() == 0 {
		if err := q.demandLoadFromDelta(); err != nil {
			return nil, err
		}
	}
	if q.pipe.q3.Len() == 0 {
		return nil, nil
	}
	r := q.pipe.q3.PopFront()
	if r.msgOnDisk {
		client := q.clientFor(r.persistent)
		body, err := client.Read(r.guid)
		if err != nil {
			q.pipe.q3.PushFront(r)
			return nil, err
		}
		r.body = body
		r.msgOnDisk = false
		r.indexOnDisk = false
	}
	q.pipe.q4.PushBack(r)
	return r, nil
}
