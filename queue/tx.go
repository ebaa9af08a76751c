package queue

import (
	"go.bryk.io/queue/errors"
	"go.bryk.io/queue/ulid"
)

// TxID names a transaction opened by TxPublish/TxAck. Callers mint these;
// the queue only ever looks one up by value.
type TxID ulid.ULID

// txBuffer accumulates the publishes and acks issued under one open
// transaction until TxCommit or TxRollback resolves it. A persistent
// publish on a durable queue is written through to its message store
// eagerly, at tx_publish, so TxCommit only has to sync, publish the index
// entries, and release the acked bodies.
type txBuffer struct {
	publishes []Message
	acks      []AckTag
}

// TxPublish stages msg under tx. If msg is persistent and the queue is
// durable, its body is written through to the persistent message store
// immediately, so the later tx_commit sync point is cheap and a crash
// before commit cannot lose content the transaction already claimed.
// Non-persistent (or non-durable-queue) publishes are staged only; their
// bodies land in RAM at commit, same as a plain Publish. The message
// becomes visible to Fetch only after TxCommit.
func (q *Queue) TxPublish(tx TxID, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}
	if msg.Persistent && q.durable {
		if err := q.persistentClient.Write(msg.GUID, msg.Body); err != nil {
			return err
		}
	}
	b := q.txFor(tx)
	b.publishes = append(b.publishes, msg)
	return nil
}

// TxAck stages an ack under tx. The pending-ack entry is not resolved
// until TxCommit, so Requeue remains valid against it until then.
func (q *Queue) TxAck(tx TxID, tags []AckTag) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}
	b := q.txFor(tx)
	b.acks = append(b.acks, tags...)
	return nil
}

// TxRollback discards every publish and ack staged under tx. Staged
// publishes never became visible, but any persistent ones were already
// written through to the message store by TxPublish and must be dropped;
// staged acks were never removed from the pending-ack map, so they simply
// stay pending — already equivalent to "re-applying" them.
func (q *Queue) TxRollback(tx TxID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return ErrTerminated
	}
	b, ok := q.txs[tx]
	delete(q.txs, tx)
	if !ok {
		return nil
	}

	var eager []ulid.ULID
	for _, m := range b.publishes {
		if m.Persistent && q.durable {
			eager = append(eager, m.GUID)
		}
	}
	if len(eager) == 0 {
		return nil
	}
	return q.persistentClient.Remove(eager...)
}

// TxCommit makes every staged publish visible and resolves every staged
// ack, as a single phase-change batch. The message-store sync callback
// for a commit's publishes can, per the design this engine follows,
// legitimately complete on another goroutine; that continuation is
// posted back through the queue's mailbox so it still executes under
// q.mu rather than racing the engine's own state.
func (q *Queue) TxCommit(tx TxID) error {
	q.mu.Lock()
	if q.terminated {
		q.mu.Unlock()
		return ErrTerminated
	}
	b, ok := q.txs[tx]
	if !ok {
		q.mu.Unlock()
		return errors.Errorf("queue: unknown transaction %s", ulid.ULID(tx))
	}
	delete(q.txs, tx)
	q.mu.Unlock()

	// Persistent bodies were already written through by TxPublish; only
	// their GUIDs need to be collected for the sync below.
	var persistentGUIDs []ulid.ULID
	for _, m := range b.publishes {
		if m.Persistent && q.durable {
			persistentGUIDs = append(persistentGUIDs, m.GUID)
		}
	}

	done := make(chan error, 1)
	onSynced := func(error) {
		q.postMailbox(func() {
			q.mu.Lock()
			err := q.applyTxCommitLocked(b)
			q.mu.Unlock()
			done <- err
		})
	}
	// Only durable content needs to be fsynced before the commit is
	// allowed to complete; transient bodies are published straight into
	// RAM below, same as a plain Publish.
	if len(persistentGUIDs) > 0 {
		q.persistentClient.Sync(persistentGUIDs, onSynced)
	} else {
		onSynced(nil)
	}
	return <-done
}

// applyTxCommitLocked runs under q.mu, reached only through the mailbox
// continuation above: it publishes every staged message into the
// pipeline and acks every staged tag, then runs one phase-change pass
// for the whole batch.
func (q *Queue) applyTxCommitLocked(b *txBuffer) error {
	for _, m := range b.publishes {
		persistent := m.Persistent && q.durable
		if _, err := q.publishRecordLocked(m, false, persistent); err != nil {
			return err
		}
	}
	if err := q.ackLocked(b.acks); err != nil {
		return err
	}
	if err := q.runPhaseChange(); err != nil {
		return err
	}
	q.assertInvariantsLocked()
	q.observePublishLocked()
	return nil
}

func (q *Queue) txFor(tx TxID) *txBuffer {
	b, ok := q.txs[tx]
	if !ok {
		b = &txBuffer{}
		q.txs[tx] = b
	}
	return b
}

// postMailbox enqueues fn to run on the queue's mailbox goroutine. Used
// so a message-store Sync callback arriving on an arbitrary goroutine
// still mutates queue state serialized with every other operation.
func (q *Queue) postMailbox(fn func()) {
	select {
	case q.mailbox <- fn:
	case <-q.done:
	}
}

// loop drains the mailbox until the queue is terminated. Started once by
// Open.
func (q *Queue) loop() {
	for {
		select {
		case fn := <-q.mailbox:
			fn()
		case <-q.done:
			return
		}
	}
}
