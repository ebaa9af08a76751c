package queue

import "go.bryk.io/queue/errors"

// checkInvariantsLocked walks the pipeline and verifies the structural
// invariants every public operation must leave intact. It assumes the
// fetch-ordering resolution documented alongside the pipeline type: oldest
// to newest is q4, q3, delta, q2, q1.
//
// Callers must hold q.mu.
func (q *Queue) checkInvariantsLocked() error {
	p := q.pipe

	if p.q1.Len() > 0 && p.q3.Len() == 0 {
		return errors.Wrap(ErrInvariantViolation, "q1 non-empty while q3 empty")
	}
	if p.q2.Len() > 0 && p.delta.empty() {
		return errors.Wrap(ErrInvariantViolation, "q2 non-empty while delta empty")
	}
	if !p.delta.empty() && p.q3.Len() == 0 {
		return errors.Wrap(ErrInvariantViolation, "delta non-empty while q3 empty")
	}
	if (p.length() == 0) != (p.q3.Len() == 0 && p.q4.Len() == 0) {
		return errors.Wrap(ErrInvariantViolation, "len-zero does not match q3/q4 emptiness")
	}
	if p.length() < 0 || q.persistentCount < 0 || p.ramMsgCount() < 0 || p.ramIndexCount() < 0 {
		return errors.Wrap(ErrInvariantViolation, "negative counter")
	}

	var last uint64
	hasLast := false
	checkIncreasing := func(records []*residency) error {
		for _, r := range records {
			if hasLast && r.seqID <= last {
				return errors.Wrap(ErrInvariantViolation, "seq ids not strictly increasing")
			}
			last = r.seqID
			hasLast = true
		}
		return nil
	}

	if err := checkIncreasing(p.q4.all()); err != nil {
		return err
	}
	if err := checkIncreasing(p.q3.all()); err != nil {
		return err
	}
	if !p.delta.empty() {
		if hasLast && p.delta.start <= last {
			return errors.Wrap(ErrInvariantViolation, "delta does not follow q3")
		}
		last = p.delta.end - 1
		hasLast = true
	}
	if err := checkIncreasing(p.q2.all()); err != nil {
		return err
	}
	if err := checkIncreasing(p.q1.all()); err != nil {
		return err
	}

	for _, r := range p.all() {
		if err := r.validate(); err != nil {
			return errors.Wrap(err, "residency record")
		}
	}
	return nil
}

// assertInvariantsLocked panics on a violated invariant when assertions
// are enabled. Matched to the supervisor-restart error model: the core
// does not continue with corrupt state, and the panic is expected to be
// caught by whatever supervises this queue's goroutine.
func (q *Queue) assertInvariantsLocked() {
	if !q.assertInvariants {
		return
	}
	if err := q.checkInvariantsLocked(); err != nil {
		panic(err)
	}
}
