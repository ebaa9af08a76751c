package queue

import (
	xlog "go.bryk.io/queue/log"
	"go.bryk.io/queue/metrics"
)

// Option adjusts queue settings following a functional options pattern.
type Option func(q *Queue) error

// WithDurable marks the queue as durable: persistent publishes are
// recovered across a clean restart. Non-durable queues never write
// through to the persistent message store regardless of a message's own
// persistence flag.
func WithDurable(durable bool) Option {
	return func(q *Queue) error {
		q.durable = durable
		return nil
	}
}

// WithAssertions toggles the structural invariant check executed at every
// public operation boundary. Enable in tests and staging; the check walks
// every resident record and is not meant for a hot production path.
func WithAssertions(enabled bool) Option {
	return func(q *Queue) error {
		q.assertInvariants = enabled
		return nil
	}
}

// WithLogger overrides the queue's logger. Defaults to a discard logger.
func WithLogger(l xlog.Logger) Option {
	return func(q *Queue) error {
		q.log = l
		return nil
	}
}

// WithMetrics attaches a collector that observes publish/fetch/ack/requeue
// volume, residency gauges and phase-change batch timings. Optional; a nil
// collector (the default) disables observation entirely.
func WithMetrics(c *metrics.QueueCollector) Option {
	return func(q *Queue) error {
		q.metrics = c
		return nil
	}
}

// WithMailboxSize sets the buffer depth of the channel used to post
// deferred transaction-commit continuations back onto the queue's owning
// goroutine. Defaults to 16.
func WithMailboxSize(n int) Option {
	return func(q *Queue) error {
		if n > 0 {
			q.mailbox = make(chan func(), n)
		}
		return nil
	}
}
