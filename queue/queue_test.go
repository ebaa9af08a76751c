package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"go.bryk.io/queue/store/memory"
	"go.bryk.io/queue/ulid"
)

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	transientStore := memory.NewMessageStore(true)
	require.NoError(t, StartBroker(transientStore))
	persistentStore := memory.NewMessageStore(true)
	index := memory.NewQueueIndex(8, memory.NewBacking())

	q, err := Open("test", index, persistentStore, transientStore,
		append([]Option{WithAssertions(true)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Terminate() })
	return q
}

func newTestMessage(t *testing.T, persistent bool) Message {
	t.Helper()
	guid, err := ulid.New()
	require.NoError(t, err)
	return Message{GUID: guid, Body: []byte("payload"), Persistent: persistent}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishFetchAck(t *testing.T) {
	q := newTestQueue(t)

	msg := newTestMessage(t, true)
	seqID, err := q.Publish(msg)
	require.NoError(t, err)
	require.Equal(t, uint64(0), seqID)
	require.Equal(t, 1, q.Len())

	d, err := q.Fetch(true)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, msg.GUID, d.GUID)
	require.False(t, d.Redelivered)

	require.NoError(t, q.Ack([]AckTag{d.Tag}))
	require.Equal(t, 0, q.Len())
}

func TestPublishEmptyBodyDoesNotViolateInvariants(t *testing.T) {
	q := newTestQueue(t, WithDurable(true))

	guid, err := ulid.New()
	require.NoError(t, err)
	seqID, err := q.Publish(Message{GUID: guid, Persistent: true})
	require.NoError(t, err)
	require.Equal(t, uint64(0), seqID)

	d, err := q.Fetch(true)
	require.NoError(t, err)
	require.Empty(t, d.Body)
	require.NoError(t, q.Ack([]AckTag{d.Tag}))
}

func TestFetchOrderIsFIFO(t *testing.T) {
	q := newTestQueue(t)

	var tags []AckTag
	for i := 0; i < 5; i++ {
		_, err := q.Publish(newTestMessage(t, i%2 == 0))
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		d, err := q.Fetch(true)
		require.NoError(t, err)
		require.NotNil(t, d)
		require.Equal(t, AckTag(i), d.Tag)
		tags = append(tags, d.Tag)
	}
	require.NoError(t, q.Ack(tags))
	require.Equal(t, 0, q.Len())
}

func TestFetchEmptyQueueReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	d, err := q.Fetch(true)
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestFetchNoAckRequiredDropsImmediately(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Publish(newTestMessage(t, true))
	require.NoError(t, err)

	d, err := q.Fetch(false)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, 0, q.Len())

	// Nothing pending: Ack against a forgotten tag is a harmless no-op.
	require.NoError(t, q.Ack([]AckTag{d.Tag}))
}

func TestRequeueReturnsToHeadAndMarksRedelivered(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Publish(newTestMessage(t, false))
	require.NoError(t, err)
	_, err = q.Publish(newTestMessage(t, false))
	require.NoError(t, err)

	first, err := q.Fetch(true)
	require.NoError(t, err)
	require.NoError(t, q.Requeue([]AckTag{first.Tag}))

	redelivered, err := q.Fetch(true)
	require.NoError(t, err)
	require.True(t, redelivered.Redelivered)
	require.Equal(t, first.GUID, redelivered.GUID)
	require.NoError(t, q.Ack([]AckTag{redelivered.Tag}))
}

func TestPublishDeliveredRequiresEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Publish(newTestMessage(t, false))
	require.NoError(t, err)

	_, err = q.PublishDelivered(newTestMessage(t, true))
	require.ErrorIs(t, err, ErrQueueNotEmpty)
}

func TestPublishDeliveredThenRequeue(t *testing.T) {
	q := newTestQueue(t)
	tag, err := q.PublishDelivered(newTestMessage(t, true))
	require.NoError(t, err)
	require.NoError(t, q.Requeue([]AckTag{tag}))

	d, err := q.Fetch(true)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.True(t, d.Redelivered)
	require.NoError(t, q.Ack([]AckTag{d.Tag}))
}

func TestPurgeRemovesEverything(t *testing.T) {
	q := newTestQueue(t)
	for i := 0; i < 20; i++ {
		_, err := q.Publish(newTestMessage(t, i%3 == 0))
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := q.Fetch(true)
		require.NoError(t, err)
	}

	n, err := q.Purge()
	require.NoError(t, err)
	require.Equal(t, 20, n)
	require.Equal(t, 0, q.Len())
}

func TestRAMDurationTargetDemotesToDisk(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.SetRAMDurationTarget(0))

	for i := 0; i < 10; i++ {
		_, err := q.Publish(newTestMessage(t, true))
		require.NoError(t, err)
	}

	q.mu.Lock()
	ram := q.pipe.ramMsgCount()
	q.mu.Unlock()
	require.Equal(t, 0, ram)

	for i := 0; i < 10; i++ {
		d, err := q.Fetch(true)
		require.NoError(t, err)
		require.NotNil(t, d)
		require.NoError(t, q.Ack([]AckTag{d.Tag}))
	}
}

func TestInvariantViolationPanicsWhenAssertionsEnabled(t *testing.T) {
	q := newTestQueue(t, WithAssertions(true))
	q.mu.Lock()
	q.pipe.q1.PushBack(&residency{seqID: 99, msgOnDisk: true, indexOnDisk: true})
	q.mu.Unlock()

	require.Panics(t, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.assertInvariantsLocked()
	})
}

func TestIdleTickSamplesRateWithoutError(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Publish(newTestMessage(t, false))
	require.NoError(t, err)
	require.NoError(t, q.IdleTick())
}

func TestPreHibernateFlushesIndex(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.PreHibernate())
}

func TestTerminatedQueueRejectsOperations(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Terminate())

	_, err := q.Publish(newTestMessage(t, false))
	require.ErrorIs(t, err, ErrTerminated)
	_, err = q.Fetch(true)
	require.ErrorIs(t, err, ErrTerminated)
	require.ErrorIs(t, q.Ack(nil), ErrTerminated)
	require.ErrorIs(t, q.Requeue(nil), ErrTerminated)
	_, err = q.Purge()
	require.ErrorIs(t, err, ErrTerminated)
}

func TestDeleteAndTerminateWipesBackingStorage(t *testing.T) {
	transientStore := memory.NewMessageStore(true)
	require.NoError(t, StartBroker(transientStore))
	persistentStore := memory.NewMessageStore(true)
	backing := memory.NewBacking()
	index := memory.NewQueueIndex(8, backing)

	q, err := Open("test", index, persistentStore, transientStore, WithDurable(true))
	require.NoError(t, err)
	_, err = q.Publish(newTestMessage(t, true))
	require.NoError(t, err)
	require.NoError(t, q.DeleteAndTerminate())

	_, terms, err := index.Init(true, nil)
	require.NoError(t, err)
	require.False(t, terms.HasRefs)
}

func TestLargeFIFOBatchPreservesOrderAndConservesCount(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.SetRAMDurationTarget(1*time.Millisecond))

	const total = 500
	for i := 0; i < total; i++ {
		_, err := q.Publish(newTestMessage(t, i%2 == 0))
		require.NoError(t, err)
	}
	require.Equal(t, total, q.Len())

	var last uint64
	hasLast := false
	for i := 0; i < total; i++ {
		d, err := q.Fetch(true)
		require.NoError(t, err)
		require.NotNil(t, d)
		if hasLast {
			require.Greater(t, uint64(d.Tag), last)
		}
		last = uint64(d.Tag)
		hasLast = true
		require.NoError(t, q.Ack([]AckTag{d.Tag}))
	}
	require.Equal(t, 0, q.Len())
}
