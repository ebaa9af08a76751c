// Package memory provides an in-process reference implementation of the
// store.MessageStore and store.QueueIndex interfaces. It backs the queue
// engine's own test suite and the cmd/queuebench load harness; a deployment
// that needs actual crash durability would swap these for disk-backed
// equivalents without the engine itself changing.
package memory

import (
	"sync"

	"go.bryk.io/queue/errors"
	"go.bryk.io/queue/store"
	"go.bryk.io/queue/ulid"
)

var _ store.MessageStore = (*MessageStore)(nil)
var _ store.Client = (*client)(nil)

type entry struct {
	body []byte
	refs int
}

// MessageStore is a content-addressed, reference-counted blob store kept
// entirely in memory.
type MessageStore struct {
	mu       sync.Mutex
	blobs    map[ulid.ULID]*entry
	clients  map[ulid.ULID]*client
	recovered bool
}

// NewMessageStore returns an empty store. `recoveredCleanly` simulates the
// broker-level "did the previous shutdown persist its state" signal a real
// disk-backed store would derive from its own journal.
func NewMessageStore(recoveredCleanly bool) *MessageStore {
	return &MessageStore{
		blobs:     make(map[ulid.ULID]*entry),
		clients:   make(map[ulid.ULID]*client),
		recovered: recoveredCleanly,
	}
}

// RecoveredCleanly implements store.MessageStore.
func (s *MessageStore) RecoveredCleanly() bool {
	return s.recovered
}

// Clean implements store.MessageStore. Used at broker startup to wipe the
// transient store unconditionally.
func (s *MessageStore) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[ulid.ULID]*entry)
	s.clients = make(map[ulid.ULID]*client)
	return nil
}

// Client implements store.MessageStore.
func (s *MessageStore) Client(ref ulid.ULID) (store.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[ref]; ok {
		return c, nil
	}
	c := &client{ref: ref, store: s}
	s.clients[ref] = c
	return c, nil
}

func (s *MessageStore) write(guid ulid.ULID, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.blobs[guid]; ok {
		e.refs++
		return
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	s.blobs[guid] = &entry{body: cp, refs: 1}
}

func (s *MessageStore) read(guid ulid.ULID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blobs[guid]
	if !ok {
		return nil, errors.Errorf("message store: guid not found: %s", guid)
	}
	cp := make([]byte, len(e.body))
	copy(cp, e.body)
	return cp, nil
}

func (s *MessageStore) remove(guid ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, guid)
}

func (s *MessageStore) release(guid ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blobs[guid]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(s.blobs, guid)
	}
}

func (s *MessageStore) contains(guid ulid.ULID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[guid]
	return ok
}

// client is the per-queue handle into a MessageStore.
type client struct {
	ref   ulid.ULID
	store *MessageStore
}

func (c *client) Ref() ulid.ULID { return c.ref }

func (c *client) Write(guid ulid.ULID, body []byte) error {
	c.store.write(guid, body)
	return nil
}

func (c *client) Read(guid ulid.ULID) ([]byte, error) {
	return c.store.read(guid)
}

func (c *client) Remove(guids ...ulid.ULID) error {
	for _, g := range guids {
		c.store.remove(g)
	}
	return nil
}

func (c *client) Release(guids ...ulid.ULID) error {
	for _, g := range guids {
		c.store.release(g)
	}
	return nil
}

func (c *client) Contains(guid ulid.ULID) bool {
	return c.store.contains(guid)
}

// Sync is synchronous in this reference implementation: by the time Write
// returns, the body is already "durable" (resident in the shared map).
// Real disk-backed stores would batch fsyncs and invoke callback
// asynchronously; the queue's TxCommit (queue/tx.go) does not assume
// synchronous delivery.
func (c *client) Sync(guids []ulid.ULID, callback func(error)) {
	callback(nil)
}

func (c *client) Terminate() error {
	return nil
}

func (c *client) Delete() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	delete(c.store.clients, c.ref)
	return nil
}
