package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recvOne[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed while waiting for a value")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a value")
	}
	var zero T
	return zero
}

func requireClosed[T any](t *testing.T, sub *Subscription[T]) {
	t.Helper()
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatalf("expected closed subscription, got a value")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for close")
	}
}

func TestBroadcastMulticast(t *testing.T) {
	b := New[int](4)
	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(7)

	require.Equal(t, 7, recvOne(t, first))
	require.Equal(t, 7, recvOne(t, second))
}

func TestBroadcastNoReplayByDefault(t *testing.T) {
	b := New[int](4)
	b.Publish(1)

	late := b.Subscribe()
	select {
	case v := <-late.C():
		t.Fatalf("unexpected value %d on plain broadcast", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastLatestSeedsNewSubscriber(t *testing.T) {
	b := NewLatest[int](4)
	b.Publish(1)
	b.Publish(2)

	late := b.Subscribe()
	require.Equal(t, 2, recvOne(t, late))

	b.Publish(3)
	require.Equal(t, 3, recvOne(t, late))
}

func TestBroadcastSubscribeSeeded(t *testing.T) {
	b := New[string](4)
	sub := b.SubscribeSeeded("seed")
	require.Equal(t, "seed", recvOne(t, sub))

	b.Publish("next")
	require.Equal(t, "next", recvOne(t, sub))
}

func TestBroadcastSlowSubscriberDropsOwnOldest(t *testing.T) {
	b := New[int](2)
	slow := b.Subscribe()
	fast := b.Subscribe()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
		// The fast reader keeps draining; the slow one does not.
		require.Equal(t, i, recvOne(t, fast))
	}

	// The slow reader lost its oldest elements but kept the newest.
	got := []int{recvOne(t, slow), recvOne(t, slow)}
	require.Equal(t, []int{4, 5}, got)
}

func TestBroadcastFailReachesEverySubscriber(t *testing.T) {
	b := New[int](4)
	first := b.Subscribe()
	second := b.Subscribe()

	boom := errors.New("boom")
	b.Fail(boom)

	requireClosed(t, first)
	requireClosed(t, second)
	require.ErrorIs(t, first.Err(), boom)
	require.ErrorIs(t, second.Err(), boom)
}

func TestBroadcastSubscribeAfterTermination(t *testing.T) {
	b := New[int](4)
	boom := errors.New("boom")
	b.Fail(boom)

	sub := b.Subscribe()
	requireClosed(t, sub)
	require.ErrorIs(t, sub.Err(), boom)

	// Publishing after termination is a no-op.
	b.Publish(1)
}

func TestBroadcastCloseIsClean(t *testing.T) {
	b := New[int](4)
	sub := b.Subscribe()
	b.Close()

	requireClosed(t, sub)
	require.NoError(t, sub.Err())
}

func TestBroadcastCancelDetaches(t *testing.T) {
	b := New[int](4)
	sub := b.Subscribe()
	sub.Cancel()
	requireClosed(t, sub)

	// Cancel twice and publish afterwards: both must be safe.
	sub.Cancel()
	b.Publish(1)
}

func TestBroadcastConcurrentPublishers(t *testing.T) {
	b := NewLatest[int](128)
	sub := b.Subscribe()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish(i)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
		b.Close()
	}()

	count := 0
	for range sub.C() {
		count++
	}
	<-done
	require.Greater(t, count, 0)
	require.NoError(t, sub.Err())
}
