package queue

import "container/list"

// dequeue is a double-ended queue of residency records that also tracks,
// in O(1), how many of its elements have their index position durable on
// disk. q2 and q3 are the only containers whose count feeds ramIndexCount;
// q1 and q4 use the same type for symmetry and may carry a nonzero count
// too (an eagerly-persisted publish can already have its index entry on
// disk while still alpha), but nothing reads it there.
type dequeue struct {
	l                *list.List
	indexOnDiskCount int
}

func newDequeue() *dequeue {
	return &dequeue{l: list.New()}
}

func (q *dequeue) Len() int { return q.l.Len() }

func (q *dequeue) PushBack(r *residency) {
	q.l.PushBack(r)
	if r.indexOnDisk {
		q.indexOnDiskCount++
	}
}

func (q *dequeue) PushFront(r *residency) {
	q.l.PushFront(r)
	if r.indexOnDisk {
		q.indexOnDiskCount++
	}
}

func (q *dequeue) PopFront() *residency {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	q.l.Remove(e)
	r := e.Value.(*residency)
	if r.indexOnDisk {
		q.indexOnDiskCount--
	}
	return r
}

func (q *dequeue) PopBack() *residency {
	e := q.l.Back()
	if e == nil {
		return nil
	}
	q.l.Remove(e)
	r := e.Value.(*residency)
	if r.indexOnDisk {
		q.indexOnDiskCount--
	}
	return r
}

func (q *dequeue) Front() *residency {
	if e := q.l.Front(); e != nil {
		return e.Value.(*residency)
	}
	return nil
}

func (q *dequeue) Back() *residency {
	if e := q.l.Back(); e != nil {
		return e.Value.(*residency)
	}
	return nil
}

// all returns every element in front-to-back order; used by invariant
// checks and tests, never on a hot path.
func (q *dequeue) all() []*residency {
	out := make([]*residency, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*residency))
	}
	return out
}

// appendAllFrom drains src (front to back) onto the back of q, used when
// delta empties and q2 collapses onto q3's tail.
func (q *dequeue) appendAllFrom(src *dequeue) {
	for r := src.PopFront(); r != nil; r = src.PopFront() {
		q.PushBack(r)
	}
}

// pipeline is the five-stage container: q1 -> q2 -> delta -> q3 -> q4 in
// publish order, with q4 the read head (fetch source, oldest resident
// messages) and q1 the tail where fresh publishes land once the queue
// already has a cold backlog draining through q3/q4. Fetch order, oldest
// to newest, is q4, q3, delta, q2, q1.
type pipeline struct {
	q1, q2, q3, q4 *dequeue
	delta          delta
}

func newPipeline() *pipeline {
	return &pipeline{
		q1: newDequeue(),
		q2: newDequeue(),
		q3: newDequeue(),
		q4: newDequeue(),
	}
}

// length is the total message count across every tier.
func (p *pipeline) length() int {
	return p.q1.Len() + p.q2.Len() + p.delta.count + p.q3.Len() + p.q4.Len()
}

// ramMsgCount is the number of messages whose body is currently held in
// RAM: only alpha records, which live exclusively in q1/q4.
func (p *pipeline) ramMsgCount() int {
	return p.q1.Len() + p.q4.Len()
}

// ramIndexCount is the number of messages whose position is currently
// held in RAM as a live residency record rather than folded into delta,
// excluding those already written through to the queue index (gamma).
func (p *pipeline) ramIndexCount() int {
	resident := p.q1.Len() + p.q2.Len() + p.q3.Len() + p.q4.Len()
	onDisk := p.q2.indexOnDiskCount + p.q3.indexOnDiskCount
	return resident - onDisk
}

// empty mirrors invariant 4: len == 0 iff q3 and q4 are both empty.
func (p *pipeline) empty() bool {
	return p.q3.Len() == 0 && p.q4.Len() == 0
}

// publishTarget reports which tail should receive a freshly published
// record: q1 when q3 already has a draining backlog, q4 otherwise.
func (p *pipeline) publishTarget() *dequeue {
	if p.q3.Len() > 0 {
		return p.q1
	}
	return p.q4
}

// all concatenates every resident record in fetch order (oldest first),
// skipping delta (which holds no materialized records). Used only by
// invariant checks and tests.
func (p *pipeline) all() []*residency {
	out := p.q4.all()
	out = append(out, p.q3.all()...)
	out = append(out, p.q2.all()...)
	out = append(out, p.q1.all()...)
	return out
}
