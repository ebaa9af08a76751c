package queue

import "go.bryk.io/queue/errors"

// Sentinel errors returned by the public protocol. Disk failures from the
// message store or queue index are bubbled up as-is and are not listed
// here; the engine performs no local retry for those.
var (
	// ErrQueueNotEmpty is returned by PublishDelivered, which is only
	// valid against an empty queue.
	ErrQueueNotEmpty = errors.New("queue: publish_delivered requires an empty queue")

	// ErrInvariantViolation marks a fatal structural corruption detected
	// by the debug assertion pass. A process embedding this engine is
	// expected to restart the queue on this error, rebuilding state from
	// the message stores and queue index.
	ErrInvariantViolation = errors.New("queue: structural invariant violated")

	// ErrTerminated is returned by any operation attempted after the
	// queue has been terminated.
	ErrTerminated = errors.New("queue: terminated")
)
