// Package zmqsub receives Bitcoin Core ZMQ notifications over a single
// connection and demultiplexes them into per-topic broadcast streams.
package zmqsub

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"

	"nodewatch/internal/metrics"
	"nodewatch/internal/model"
	"nodewatch/internal/stream"
)

// ErrUnknownTopic is returned when a stream is requested for a topic this
// connection was not configured to decode.
var ErrUnknownTopic = errors.New("topic not configured on this connection")

// Messages are (topic, payload, 8-byte big-endian sequence) triples.
const sequenceFrameLen = 8

// Subscriber owns one ZMQ SUB connection. The receive loop runs on its own
// goroutine from construction until Close.
type Subscriber struct {
	endpoint string
	logger   *zap.Logger
	sock     zmq4.Socket
	streams  map[model.Topic]*stream.Broadcast[model.RawNotification]

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Connect dials endpoint, subscribes to the given topics, and starts
// receiving. At least one topic is required.
func Connect(ctx context.Context, endpoint string, logger *zap.Logger, topics ...model.Topic) (*Subscriber, error) {
	ctx, cancel := context.WithCancel(ctx)
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	sub, err := newWithSocket(endpoint, sock, logger, topics...)
	if err != nil {
		cancel()
		sock.Close()
		return nil, err
	}
	sub.cancel = cancel
	return sub, nil
}

// newWithSocket wires a Subscriber over an already-dialed socket. Split out
// so tests can inject a fake zmq4.Socket.
func newWithSocket(endpoint string, sock zmq4.Socket, logger *zap.Logger, topics ...model.Topic) (*Subscriber, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	streams := make(map[model.Topic]*stream.Broadcast[model.RawNotification], len(topics))
	for _, topic := range topics {
		if err := sock.SetOption(zmq4.OptionSubscribe, string(topic)); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		streams[topic] = stream.New[model.RawNotification](0)
	}

	s := &Subscriber{
		endpoint: endpoint,
		logger:   logger,
		sock:     sock,
		streams:  streams,
		cancel:   func() {},
	}
	s.wg.Add(1)
	go s.receiveLoop()
	return s, nil
}

// Stream returns the broadcast for one configured topic. Callers subscribe
// to it; multiple subscribers receive the same notifications.
func (s *Subscriber) Stream(topic model.Topic) (*stream.Broadcast[model.RawNotification], error) {
	bc, ok := s.streams[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return bc, nil
}

// Endpoint returns the address this subscriber is connected to.
func (s *Subscriber) Endpoint() string {
	return s.endpoint
}

// Close stops the receive loop and releases the socket. Messages not yet
// dispatched are discarded. Topic streams end cleanly.
func (s *Subscriber) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	err := s.sock.Close()
	s.wg.Wait()
	return err
}

func (s *Subscriber) receiveLoop() {
	defer s.wg.Done()
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			if s.closed.Load() {
				s.finish(nil)
				return
			}
			s.finish(fmt.Errorf("zmq receive on %s: %w", s.endpoint, err))
			return
		}
		if err := s.dispatch(msg); err != nil {
			s.finish(err)
			return
		}
	}
}

// dispatch routes one multi-part message to its topic stream. Messages for
// topics this connection does not decode are dropped silently; malformed
// framing is a transport error and fatal.
func (s *Subscriber) dispatch(msg zmq4.Msg) error {
	frames := msg.Frames
	if len(frames) < 3 {
		return fmt.Errorf("malformed zmq message on %s: %d frames", s.endpoint, len(frames))
	}

	topic := model.Topic(frames[0])
	bc, ok := s.streams[topic]
	if !ok {
		return nil
	}

	if len(frames[2]) != sequenceFrameLen {
		return fmt.Errorf("malformed zmq sequence frame on %s: %d bytes", s.endpoint, len(frames[2]))
	}
	seq := binary.BigEndian.Uint64(frames[2])

	metrics.NotificationsTotal.WithLabelValues(string(topic)).Inc()
	bc.Publish(model.RawNotification{
		Topic:    topic,
		Sequence: seq,
		Payload:  frames[1],
	})
	return nil
}

// finish terminates every topic stream. A nil error is a clean shutdown; a
// stale stream is worse than a failed one, so transport errors propagate to
// every downstream consumer.
func (s *Subscriber) finish(err error) {
	if err != nil {
		s.logger.Error("zmq connection failed",
			zap.String("endpoint", s.endpoint),
			zap.Error(err),
		)
	}
	for _, bc := range s.streams {
		if err != nil {
			bc.Fail(err)
		} else {
			bc.Close()
		}
	}
}
