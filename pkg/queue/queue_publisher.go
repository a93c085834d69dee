package queue

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks a flush that made no acknowledgment progress within the
// producer's internal bound. It means the broker is slow, not that messages
// were lost.
var ErrTimeout = errors.New("timed out waiting for acknowledgments")

// ErrSessionClosed is returned when publishing on a session that has
// already been closed.
var ErrSessionClosed = errors.New("publish session closed")

// Msg represents a queue message.
//
// Topic overrides the producer's default destination when set.
// Key is used for partitioning when supported by the backend.
// Value contains the already serialized payload.
// Headers contains additional metadata.
// Source identifies where the message was loaded from.
type Msg struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Source  string
}

// Producer is an open handle to an asynchronous message-bus producer.
type Producer interface {
	// Submit enqueues a message for asynchronous delivery. It must not block
	// for longer than a small bounded amount.
	Submit(ctx context.Context, msg Msg) error

	// Outstanding returns the number of submitted messages that are not yet
	// acknowledged, across every destination the handle writes to.
	Outstanding() int

	// Flush blocks for up to timeout while driving acknowledgments and
	// returns the new outstanding count. It returns an error wrapping
	// ErrTimeout when no progress was made within the producer's own bound.
	Flush(timeout time.Duration) (int, error)

	// Close releases the producer. Calling Close more than once does nothing.
	Close()
}

// OpenFunc opens a producer for a new session.
type OpenFunc func(ctx context.Context) (Producer, error)

// Loader resolves a message source into a message ready for submission.
type Loader interface {
	Load(ctx context.Context, source string) (Msg, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, source string) (Msg, error)

// Load calls f(ctx, source).
func (f LoaderFunc) Load(ctx context.Context, source string) (Msg, error) {
	return f(ctx, source)
}

// IsTimeout reports whether err is a flush timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
