// Package stream provides a hot multicast primitive: one writer, many
// readers, each reader owning a bounded buffer. A slow reader loses its own
// oldest elements; it never blocks the writer or its sibling readers.
package stream

import (
	"sync"
)

const defaultBuffer = 64

// Broadcast fans values out to any number of subscriptions. The zero value is
// not usable; construct with New or NewLatest.
//
// A Broadcast constructed with NewLatest retains the most recently published
// value and delivers it to new subscribers as their first element.
type Broadcast[T any] struct {
	mu         sync.Mutex
	subs       map[*Subscription[T]]struct{}
	buffer     int
	replaySeed bool

	latest    T
	hasLatest bool

	done    bool
	doneErr error
}

// Subscription is one reader's view of a Broadcast. Values arrive on C; once
// C is closed, Err reports why the stream ended (nil for a clean close).
type Subscription[T any] struct {
	b  *Broadcast[T]
	ch chan T
}

// New returns a Broadcast that delivers only values published after a
// subscriber attaches. bufferSize <= 0 selects the default.
func New[T any](bufferSize int) *Broadcast[T] {
	return newBroadcast[T](bufferSize, false)
}

// NewLatest returns a Broadcast that additionally seeds each new subscriber
// with the most recently published value, if any.
func NewLatest[T any](bufferSize int) *Broadcast[T] {
	return newBroadcast[T](bufferSize, true)
}

func newBroadcast[T any](bufferSize int, replaySeed bool) *Broadcast[T] {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	return &Broadcast[T]{
		subs:       make(map[*Subscription[T]]struct{}),
		buffer:     bufferSize,
		replaySeed: replaySeed,
	}
}

// Publish delivers v to every current subscriber without blocking. A
// subscriber whose buffer is full loses its oldest buffered element.
// Publishing after termination is a no-op.
func (b *Broadcast[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.latest = v
	b.hasLatest = true
	for sub := range b.subs {
		sub.offer(v)
	}
}

// Fail terminates the stream with err. Every subscription's channel is
// closed and Err returns err. Subsequent Publish/Fail/Close calls are no-ops.
func (b *Broadcast[T]) Fail(err error) {
	b.terminate(err)
}

// Close terminates the stream cleanly.
func (b *Broadcast[T]) Close() {
	b.terminate(nil)
}

func (b *Broadcast[T]) terminate(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	b.doneErr = err
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscription[T]]struct{})
}

// Subscribe attaches a new reader. On a NewLatest broadcast the reader's
// first element is the latest published value, if one exists. Subscribing to
// a terminated broadcast yields an already-closed subscription carrying the
// terminal error.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{b: b, ch: make(chan T, b.buffer)}
	if b.done {
		close(sub.ch)
		return sub
	}
	if b.replaySeed && b.hasLatest {
		sub.ch <- b.latest
	}
	b.subs[sub] = struct{}{}
	return sub
}

// SubscribeSeeded attaches a new reader whose first element is seed,
// regardless of replay mode. Used where the caller fetched a current value
// out of band so the reader does not wait for the next event.
func (b *Broadcast[T]) SubscribeSeeded(seed T) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{b: b, ch: make(chan T, b.buffer)}
	if b.done {
		close(sub.ch)
		return sub
	}
	sub.ch <- seed
	b.subs[sub] = struct{}{}
	return sub
}

// Latest returns the most recently published value, if any.
func (b *Broadcast[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

// offer performs a non-blocking send, dropping the subscriber's oldest
// element on overflow. Called with b.mu held, so sends never race with the
// channel close in terminate.
func (s *Subscription[T]) offer(v T) {
	select {
	case s.ch <- v:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- v:
	default:
	}
}

// C returns the receive channel. It is closed when the stream terminates or
// the subscription is cancelled.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Err reports the stream's terminal error. It is meaningful only after C has
// been closed; a cancelled subscription reports nil.
func (s *Subscription[T]) Err() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.doneErr
}

// Cancel detaches the subscription and closes its channel. Safe to call
// concurrently with Publish and after termination.
func (s *Subscription[T]) Cancel() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.subs[s]; !ok {
		return
	}
	delete(s.b.subs, s)
	close(s.ch)
}
