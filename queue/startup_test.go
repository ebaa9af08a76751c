package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.bryk.io/queue/store/memory"
	"go.bryk.io/queue/ulid"
)

func TestCleanRestartRecoversPersistentCount(t *testing.T) {
	backing := memory.NewBacking()
	persistentStore := memory.NewMessageStore(true)
	transientStore := memory.NewMessageStore(true)
	require.NoError(t, StartBroker(transientStore))

	index := memory.NewQueueIndex(8, backing)
	q, err := Open("test", index, persistentStore, transientStore, WithDurable(true))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := q.Publish(newTestMessage(t, true))
		require.NoError(t, err)
	}
	require.NoError(t, q.Terminate())

	index2 := memory.NewQueueIndex(8, backing)
	q2, err := Open("test", index2, persistentStore, transientStore, WithDurable(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q2.Terminate() })

	require.Equal(t, 3, q2.Len())
	require.Equal(t, 3, q2.persistentCount)
}

func TestDirtyRestartPrunesOrphanedAndStaleEntries(t *testing.T) {
	backing := memory.NewBacking()
	// A dirty persistent-store recovery is what flips init() into its
	// pruning branch; the transient store is always wiped regardless (a
	// broker-wide rule applied at StartBroker, not a recovery signal).
	persistentStore := memory.NewMessageStore(false)
	transientStore := memory.NewMessageStore(true)
	require.NoError(t, StartBroker(transientStore))

	index := memory.NewQueueIndex(8, backing)

	// Seed two index entries directly, as if written before a crash: one
	// persistent whose body survived, one transient whose body did not
	// (the transient store was just wiped above).
	persistentGUID, err := ulid.New()
	require.NoError(t, err)
	transientGUID, err := ulid.New()
	require.NoError(t, err)
	require.NoError(t, index.Publish(persistentGUID, 0, true))
	require.NoError(t, index.Publish(transientGUID, 1, false))

	seedClient, err := persistentStore.Client(persistentGUID) // ref value is irrelevant; blobs are content-addressed
	require.NoError(t, err)
	require.NoError(t, seedClient.Write(persistentGUID, []byte("body")))

	q, err := Open("test", index, persistentStore, transientStore, WithDurable(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Terminate() })

	// The transient entry is pruned as stale (below the freshly set
	// transientThreshold); the persistent entry's body still Contains, so
	// it is not orphaned and survives.
	require.Equal(t, 1, q.Len())
}

func TestCleanRestartPrimesQ3FromDelta(t *testing.T) {
	backing := memory.NewBacking()
	persistentStore := memory.NewMessageStore(true)
	transientStore := memory.NewMessageStore(true)
	require.NoError(t, StartBroker(transientStore))

	// A small segment size so collapsing 16 messages to delta, then
	// recovering, leaves a delta spanning several segments to prime from.
	index := memory.NewQueueIndex(4, backing)
	q, err := Open("test", index, persistentStore, transientStore, WithDurable(true))
	require.NoError(t, err)
	require.NoError(t, q.SetRAMDurationTarget(0))
	for i := 0; i < 16; i++ {
		_, err := q.Publish(newTestMessage(t, true))
		require.NoError(t, err)
	}
	require.NoError(t, q.Terminate())

	index2 := memory.NewQueueIndex(4, backing)
	q2, err := Open("test", index2, persistentStore, transientStore, WithDurable(true), WithAssertions(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q2.Terminate() })

	q2.mu.Lock()
	defer q2.mu.Unlock()
	require.NoError(t, q2.checkInvariantsLocked())
	require.Greater(t, q2.pipe.q3.Len(), 0, "init should have run a delta-to-beta pass before returning")
}

func TestOpenAppliesOptions(t *testing.T) {
	transientStore := memory.NewMessageStore(true)
	require.NoError(t, StartBroker(transientStore))
	persistentStore := memory.NewMessageStore(true)
	index := memory.NewQueueIndex(8, memory.NewBacking())

	q, err := Open("test", index, persistentStore, transientStore,
		WithDurable(true), WithAssertions(true), WithMailboxSize(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Terminate() })

	require.True(t, q.durable)
	require.True(t, q.assertInvariants)
}
