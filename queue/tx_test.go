package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.bryk.io/queue/ulid"
)

func newTxID(t *testing.T) TxID {
	t.Helper()
	id, err := ulid.New()
	require.NoError(t, err)
	return TxID(id)
}

func TestTxCommitMakesPublishesVisible(t *testing.T) {
	q := newTestQueue(t)
	tx := newTxID(t)

	msg := newTestMessage(t, true)
	require.NoError(t, q.TxPublish(tx, msg))
	require.Equal(t, 0, q.Len(), "staged publishes are invisible before commit")

	require.NoError(t, q.TxCommit(tx))
	require.Equal(t, 1, q.Len())

	d, err := q.Fetch(true)
	require.NoError(t, err)
	require.Equal(t, msg.GUID, d.GUID)
	require.NoError(t, q.Ack([]AckTag{d.Tag}))
}

func TestTxCommitResolvesStagedAcks(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Publish(newTestMessage(t, false))
	require.NoError(t, err)
	d, err := q.Fetch(true)
	require.NoError(t, err)

	tx := newTxID(t)
	require.NoError(t, q.TxAck(tx, []AckTag{d.Tag}))
	require.NoError(t, q.TxCommit(tx))
	require.Equal(t, 0, q.Len())
}

func TestTxRollbackDiscardsPublishes(t *testing.T) {
	q := newTestQueue(t)
	tx := newTxID(t)

	require.NoError(t, q.TxPublish(tx, newTestMessage(t, true)))
	require.NoError(t, q.TxRollback(tx))

	require.Error(t, q.TxCommit(tx), "a rolled-back transaction is unknown to a later commit")
	require.Equal(t, 0, q.Len())
}

func TestTxCommitMixesPersistentAndTransientWithoutSyncingTransient(t *testing.T) {
	q := newTestQueue(t)
	tx := newTxID(t)

	persistent := newTestMessage(t, true)
	transient := newTestMessage(t, false)
	require.NoError(t, q.TxPublish(tx, persistent))
	require.NoError(t, q.TxPublish(tx, transient))
	require.NoError(t, q.TxCommit(tx))
	require.Equal(t, 2, q.Len())

	for i := 0; i < 2; i++ {
		d, err := q.Fetch(true)
		require.NoError(t, err)
		require.NoError(t, q.Ack([]AckTag{d.Tag}))
	}
}

func TestTxPublishWritesPersistentBodyEagerly(t *testing.T) {
	q := newTestQueue(t, WithDurable(true))
	tx := newTxID(t)

	msg := newTestMessage(t, true)
	require.NoError(t, q.TxPublish(tx, msg))

	// The body must already be durable before commit, per tx_publish's
	// phase-1 contract; the message itself stays invisible until commit.
	require.True(t, q.persistentClient.Contains(msg.GUID))
	require.Equal(t, 0, q.Len())

	require.NoError(t, q.TxCommit(tx))
	require.Equal(t, 1, q.Len())
}

func TestTxRollbackDropsEagerlyWrittenPersistentBody(t *testing.T) {
	q := newTestQueue(t, WithDurable(true))
	tx := newTxID(t)

	msg := newTestMessage(t, true)
	require.NoError(t, q.TxPublish(tx, msg))
	require.True(t, q.persistentClient.Contains(msg.GUID))

	require.NoError(t, q.TxRollback(tx))
	require.False(t, q.persistentClient.Contains(msg.GUID))
}

func TestUnknownTransactionCommitErrors(t *testing.T) {
	q := newTestQueue(t)
	require.Error(t, q.TxCommit(newTxID(t)))
}

func TestTxOperationsRejectedAfterTerminate(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Terminate())

	tx := newTxID(t)
	require.ErrorIs(t, q.TxPublish(tx, newTestMessage(t, false)), ErrTerminated)
	require.ErrorIs(t, q.TxAck(tx, nil), ErrTerminated)
	require.ErrorIs(t, q.TxRollback(tx), ErrTerminated)
}
