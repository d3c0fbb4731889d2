package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nodewatch/internal/model"
	"nodewatch/internal/stream"
	"nodewatch/internal/zmqsub"
)

// NodeClient is the slice of the node client the service needs. The service
// owns the client and closes it last.
type NodeClient interface {
	EndpointLister
	Close()
}

// Service exposes raw-bytes broadcast streams for block and transaction
// notifications, multiplexed over as few connections as the node's
// configuration allows.
type Service struct {
	logger *zap.Logger
	client NodeClient

	blockSub *zmqsub.Subscriber
	txSub    *zmqsub.Subscriber // same instance as blockSub when shared

	closeOnce sync.Once
	closeErr  error
}

// NewService resolves the rawblock and rawtx endpoints and connects. Both
// topics are required; a missing endpoint fails construction.
func NewService(ctx context.Context, client NodeClient, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoints, err := NewResolver(client).Resolve(ctx, model.TopicRawBlock, model.TopicRawTx)
	if err != nil {
		return nil, fmt.Errorf("resolve zmq endpoints: %w", err)
	}
	topo, err := planTopology(endpoints)
	if err != nil {
		return nil, err
	}

	var blockSub, txSub *zmqsub.Subscriber
	if topo.shared {
		sub, err := zmqsub.Connect(ctx, topo.blockEndpoint, logger, model.TopicRawBlock, model.TopicRawTx)
		if err != nil {
			return nil, err
		}
		blockSub, txSub = sub, sub
	} else {
		blockSub, err = zmqsub.Connect(ctx, topo.blockEndpoint, logger, model.TopicRawBlock)
		if err != nil {
			return nil, err
		}
		txSub, err = zmqsub.Connect(ctx, topo.txEndpoint, logger, model.TopicRawTx)
		if err != nil {
			blockSub.Close()
			return nil, err
		}
	}

	logger.Info("zmq notification service start",
		zap.Bool("shared_connection", topo.shared),
		zap.String("block_endpoint", topo.blockEndpoint),
		zap.String("tx_endpoint", topo.txEndpoint),
	)

	return &Service{
		logger:   logger,
		client:   client,
		blockSub: blockSub,
		txSub:    txSub,
	}, nil
}

// BlockBytes subscribes to raw block payloads.
func (s *Service) BlockBytes() (*stream.Subscription[model.RawNotification], error) {
	bc, err := s.blockSub.Stream(model.TopicRawBlock)
	if err != nil {
		return nil, err
	}
	return bc.Subscribe(), nil
}

// TxBytes subscribes to raw transaction payloads.
func (s *Service) TxBytes() (*stream.Subscription[model.RawNotification], error) {
	bc, err := s.txSub.Stream(model.TopicRawTx)
	if err != nil {
		return nil, err
	}
	return bc.Subscribe(), nil
}

// BlockHashBytes reports the hashblock topic as unsupported so callers can
// detect the missing capability rather than read an empty stream.
func (s *Service) BlockHashBytes() (*stream.Subscription[model.RawNotification], error) {
	return nil, fmt.Errorf("%w: %s stream", ErrNotImplemented, model.TopicHashBlock)
}

// TxHashBytes reports the hashtx topic as unsupported.
func (s *Service) TxHashBytes() (*stream.Subscription[model.RawNotification], error) {
	return nil, fmt.Errorf("%w: %s stream", ErrNotImplemented, model.TopicHashTx)
}

// Close shuts down every owned subscriber, then the node client.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.blockSub.Close()
		if s.txSub != s.blockSub {
			if err := s.txSub.Close(); s.closeErr == nil {
				s.closeErr = err
			}
		}
		s.client.Close()
	})
	return s.closeErr
}
