// Package queuetest provides producer doubles for testing code built on
// package queue.
package queuetest

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ava-labs/alert-republisher/pkg/queue"
)

// FakeProducer is a scriptable in-memory queue.Producer.
//
// Submitted messages stay outstanding until a Flush acknowledges them,
// AckPerFlush at a time. FlushErrs is consumed one entry per Flush call; a
// non-nil entry is returned instead of acknowledging anything.
type FakeProducer struct {
	mu sync.Mutex

	AckPerFlush int
	FlushErrs   []error
	SubmitErr   error
	// OnSubmit, when set, is called after every accepted submission with the
	// number of messages submitted so far.
	OnSubmit func(submitted int)

	Submitted        []queue.Msg
	FlushTimeouts    []time.Duration
	FlushCalls       int
	OutstandingCalls int
	CloseCalls       int

	outstanding int
	acked       int
	run         int
	maxRun      int
	maxPending  int
}

// NewFakeProducer returns a FakeProducer acknowledging ackPerFlush messages
// per successful Flush.
func NewFakeProducer(ackPerFlush int) *FakeProducer {
	return &FakeProducer{AckPerFlush: ackPerFlush}
}

func (f *FakeProducer) Submit(_ context.Context, msg queue.Msg) error {
	f.mu.Lock()
	if f.SubmitErr != nil {
		err := f.SubmitErr
		f.mu.Unlock()
		return err
	}
	f.Submitted = append(f.Submitted, msg)
	f.outstanding++
	f.run++
	f.maxRun = max(f.maxRun, f.run)
	f.maxPending = max(f.maxPending, f.outstanding)
	n := len(f.Submitted)
	hook := f.OnSubmit
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (f *FakeProducer) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OutstandingCalls++
	return f.outstanding
}

func (f *FakeProducer) Flush(timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.FlushCalls++
	f.FlushTimeouts = append(f.FlushTimeouts, timeout)
	f.run = 0

	if len(f.FlushErrs) > 0 {
		err := f.FlushErrs[0]
		f.FlushErrs = f.FlushErrs[1:]
		if err != nil {
			return 0, err
		}
	}

	ack := min(f.AckPerFlush, f.outstanding)
	f.outstanding -= ack
	f.acked += ack
	return f.outstanding, nil
}

func (f *FakeProducer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloseCalls++
}

// Acked returns the number of acknowledged messages.
func (f *FakeProducer) Acked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked
}

// Pending returns the number of unacknowledged messages without counting as
// an Outstanding call.
func (f *FakeProducer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outstanding
}

// MaxConsecutiveSubmits returns the longest run of submissions with no Flush
// in between.
func (f *FakeProducer) MaxConsecutiveSubmits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRun
}

// MaxPending returns the highest outstanding count ever reached.
func (f *FakeProducer) MaxPending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPending
}

// Open returns a queue.OpenFunc handing out f.
func (f *FakeProducer) Open() queue.OpenFunc {
	return func(context.Context) (queue.Producer, error) {
		return f, nil
	}
}

// MockProducer is a testify mock of queue.Producer.
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Submit(ctx context.Context, msg queue.Msg) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockProducer) Outstanding() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockProducer) Flush(timeout time.Duration) (int, error) {
	args := m.Called(timeout)
	return args.Int(0), args.Error(1)
}

func (m *MockProducer) Close() {
	m.Called()
}
