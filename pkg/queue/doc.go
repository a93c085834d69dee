// Package queue feeds an ordered sequence of messages into an asynchronous
// producer while bounding the number of unacknowledged messages.
//
// The producer is only observed through the Producer interface. Submit
// enqueues without waiting for delivery. Outstanding reports how many
// messages are still unacknowledged, and Flush blocks for a bounded time
// while the producer makes progress.
//
// FlowPublisher pauses submission whenever the in-flight count reaches the
// configured ceiling and drains to zero before returning. Flush timeouts are
// absorbed by re-probing Outstanding.
//
// A Session owns one producer for the duration of one publish run and closes
// it exactly once, whatever the outcome.
package queue
