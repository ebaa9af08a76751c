package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.bryk.io/queue/ulid"
)

func newGUID(t *testing.T) ulid.ULID {
	t.Helper()
	id, err := ulid.New()
	require.NoError(t, err)
	return id
}

func TestClientWriteReadRoundTrip(t *testing.T) {
	s := NewMessageStore(true)
	c, err := s.Client(newGUID(t))
	require.NoError(t, err)

	guid := newGUID(t)
	require.NoError(t, c.Write(guid, []byte("hello")))

	body, err := c.Read(guid)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)
}

func TestReadMissingGUIDErrors(t *testing.T) {
	s := NewMessageStore(true)
	c, err := s.Client(newGUID(t))
	require.NoError(t, err)

	_, err = c.Read(newGUID(t))
	require.Error(t, err)
}

func TestWriteIsRefCountedAcrossDuplicateGUIDs(t *testing.T) {
	s := NewMessageStore(true)
	c, err := s.Client(newGUID(t))
	require.NoError(t, err)

	guid := newGUID(t)
	require.NoError(t, c.Write(guid, []byte("a")))
	require.NoError(t, c.Write(guid, []byte("a"))) // second write against same guid bumps refcount

	require.NoError(t, c.Release(guid))
	require.True(t, c.Contains(guid), "one reference still outstanding")

	require.NoError(t, c.Release(guid))
	require.False(t, c.Contains(guid), "last reference released")
}

func TestRemoveDropsRegardlessOfRefCount(t *testing.T) {
	s := NewMessageStore(true)
	c, err := s.Client(newGUID(t))
	require.NoError(t, err)

	guid := newGUID(t)
	require.NoError(t, c.Write(guid, []byte("a")))
	require.NoError(t, c.Write(guid, []byte("a")))

	require.NoError(t, c.Remove(guid))
	require.False(t, c.Contains(guid))
}

func TestClientIsSharedPerRef(t *testing.T) {
	s := NewMessageStore(true)
	ref := newGUID(t)
	c1, err := s.Client(ref)
	require.NoError(t, err)
	c2, err := s.Client(ref)
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestCleanWipesStoreAndClients(t *testing.T) {
	s := NewMessageStore(true)
	ref := newGUID(t)
	c, err := s.Client(ref)
	require.NoError(t, err)

	guid := newGUID(t)
	require.NoError(t, c.Write(guid, []byte("a")))
	require.NoError(t, s.Clean())

	require.False(t, c.Contains(guid))
}

func TestDeleteRemovesClientRegistration(t *testing.T) {
	s := NewMessageStore(true)
	ref := newGUID(t)
	c1, err := s.Client(ref)
	require.NoError(t, err)
	require.NoError(t, c1.Delete())

	c2, err := s.Client(ref)
	require.NoError(t, err)
	require.NotSame(t, c1, c2, "a fresh client is minted after the old registration is deleted")
}
