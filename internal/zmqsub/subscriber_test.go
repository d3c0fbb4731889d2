package zmqsub

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/require"

	"nodewatch/internal/model"
	"nodewatch/internal/stream"
)

type fakeSocket struct {
	mu        sync.Mutex
	subscribe []string

	msgs      chan zmq4.Msg
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		msgs:   make(chan zmq4.Msg, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeSocket) push(frames ...[]byte) {
	f.msgs <- zmq4.NewMsgFrom(frames...)
}

func (f *fakeSocket) Recv() (zmq4.Msg, error) {
	select {
	case msg := <-f.msgs:
		return msg, nil
	case <-f.closed:
		return zmq4.Msg{}, errors.New("socket closed")
	}
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) SetOption(name string, value interface{}) error {
	if name == zmq4.OptionSubscribe {
		f.mu.Lock()
		f.subscribe = append(f.subscribe, value.(string))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeSocket) Send(zmq4.Msg) error                    { return nil }
func (f *fakeSocket) SendMulti(zmq4.Msg) error               { return nil }
func (f *fakeSocket) Listen(string) error                    { return nil }
func (f *fakeSocket) Dial(string) error                      { return nil }
func (f *fakeSocket) Type() zmq4.SocketType                  { return zmq4.Sub }
func (f *fakeSocket) Addr() net.Addr                         { return nil }
func (f *fakeSocket) GetOption(string) (interface{}, error)  { return nil, nil }

func seqFrame(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return buf[:]
}

func mustStream(t *testing.T, s *Subscriber, topic model.Topic) *stream.Subscription[model.RawNotification] {
	t.Helper()
	bc, err := s.Stream(topic)
	require.NoError(t, err)
	return bc.Subscribe()
}

func recvNotification(t *testing.T, sub *stream.Subscription[model.RawNotification]) model.RawNotification {
	t.Helper()
	select {
	case n, ok := <-sub.C():
		require.True(t, ok, "stream ended: %v", sub.Err())
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
	return model.RawNotification{}
}

func TestSubscriberDemultiplexesByTopic(t *testing.T) {
	sock := newFakeSocket()
	sub, err := newWithSocket("tcp://test:1", sock, nil, model.TopicRawBlock, model.TopicRawTx)
	require.NoError(t, err)
	defer sub.Close()

	blockSub := mustStream(t, sub, model.TopicRawBlock)
	txSub := mustStream(t, sub, model.TopicRawTx)

	sock.push([]byte("rawblock"), []byte{0x01, 0x02}, seqFrame(9))
	sock.push([]byte("rawtx"), []byte{0x03}, seqFrame(4))

	block := recvNotification(t, blockSub)
	require.Equal(t, model.TopicRawBlock, block.Topic)
	require.Equal(t, uint64(9), block.Sequence)
	require.Equal(t, []byte{0x01, 0x02}, block.Payload)

	tx := recvNotification(t, txSub)
	require.Equal(t, model.TopicRawTx, tx.Topic)
	require.Equal(t, uint64(4), tx.Sequence)
	require.Equal(t, []byte{0x03}, tx.Payload)
}

func TestSubscriberSubscribesConfiguredTopics(t *testing.T) {
	sock := newFakeSocket()
	sub, err := newWithSocket("tcp://test:1", sock, nil, model.TopicRawBlock, model.TopicRawTx)
	require.NoError(t, err)
	defer sub.Close()

	sock.mu.Lock()
	defer sock.mu.Unlock()
	require.ElementsMatch(t, []string{"rawblock", "rawtx"}, sock.subscribe)
}

func TestSubscriberDropsUnconfiguredTopic(t *testing.T) {
	sock := newFakeSocket()
	sub, err := newWithSocket("tcp://test:1", sock, nil, model.TopicRawBlock)
	require.NoError(t, err)
	defer sub.Close()

	blockSub := mustStream(t, sub, model.TopicRawBlock)

	sock.push([]byte("hashblock"), []byte{0xff}, seqFrame(1))
	sock.push([]byte("rawblock"), []byte{0x01}, seqFrame(2))

	// Only the configured topic's message arrives.
	got := recvNotification(t, blockSub)
	require.Equal(t, uint64(2), got.Sequence)
}

func TestSubscriberMalformedMessageFailsStreams(t *testing.T) {
	sock := newFakeSocket()
	sub, err := newWithSocket("tcp://test:1", sock, nil, model.TopicRawBlock)
	require.NoError(t, err)
	defer sub.Close()

	blockSub := mustStream(t, sub, model.TopicRawBlock)

	sock.push([]byte("rawblock"), []byte{0x01})

	select {
	case _, ok := <-blockSub.C():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream failure")
	}
	require.Error(t, blockSub.Err())
	require.Contains(t, blockSub.Err().Error(), "malformed")
}

func TestSubscriberTransportErrorFailsStreams(t *testing.T) {
	sock := newFakeSocket()
	sub, err := newWithSocket("tcp://test:1", sock, nil, model.TopicRawBlock)
	require.NoError(t, err)

	blockSub := mustStream(t, sub, model.TopicRawBlock)

	// A receive error while the subscriber is not closing is a transport
	// failure and must reach the consumer.
	sock.Close()

	select {
	case _, ok := <-blockSub.C():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream failure")
	}
	require.Error(t, blockSub.Err())
	sub.Close()
}

func TestSubscriberCloseEndsStreamsCleanly(t *testing.T) {
	sock := newFakeSocket()
	sub, err := newWithSocket("tcp://test:1", sock, nil, model.TopicRawBlock)
	require.NoError(t, err)

	blockSub := mustStream(t, sub, model.TopicRawBlock)
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-blockSub.C():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clean close")
	}
	require.NoError(t, blockSub.Err())
}

func TestSubscriberUnknownTopicStream(t *testing.T) {
	sock := newFakeSocket()
	sub, err := newWithSocket("tcp://test:1", sock, nil, model.TopicRawBlock)
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Stream(model.TopicRawTx)
	require.ErrorIs(t, err, ErrUnknownTopic)
}

func TestSubscriberRequiresTopics(t *testing.T) {
	sock := newFakeSocket()
	_, err := newWithSocket("tcp://test:1", sock, nil)
	require.Error(t, err)
}
