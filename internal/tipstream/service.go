// Package tipstream turns raw block notifications into a canonical,
// deduplicated chain-tip stream plus decoded block and transaction streams.
package tipstream

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"nodewatch/internal/metrics"
	"nodewatch/internal/model"
	"nodewatch/internal/stream"
)

// NodeClient is the slice of the node client this service queries. The node,
// not the raw block payload, is the source of truth for tip height and
// status.
type NodeClient interface {
	ChainTipForBlockHash(ctx context.Context, hash chainhash.Hash) (model.ChainTip, error)
	BestBlock(ctx context.Context) (*wire.MsgBlock, error)
}

// NotificationSource provides the raw byte streams this service decodes.
type NotificationSource interface {
	BlockBytes() (*stream.Subscription[model.RawNotification], error)
	TxBytes() (*stream.Subscription[model.RawNotification], error)
}

// Service derives the canonical chain-tip stream. A tip is forwarded only
// when its hash differs from the previously forwarded one; equality of any
// other field does not count as a change.
type Service struct {
	client NodeClient
	logger *zap.Logger

	tips   *stream.Broadcast[model.ChainTip]
	blocks *stream.Broadcast[*wire.MsgBlock]
	txs    *stream.Broadcast[*wire.MsgTx]

	blockSub *stream.Subscription[model.RawNotification]
	txSub    *stream.Subscription[model.RawNotification]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New subscribes to the source's block and transaction streams and starts
// deriving. The returned service owns its subscriptions; Close releases them.
func New(ctx context.Context, client NodeClient, source NotificationSource, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	blockSub, err := source.BlockBytes()
	if err != nil {
		return nil, fmt.Errorf("subscribe block bytes: %w", err)
	}
	txSub, err := source.TxBytes()
	if err != nil {
		blockSub.Cancel()
		return nil, fmt.Errorf("subscribe tx bytes: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		client:   client,
		logger:   logger,
		tips:     stream.NewLatest[model.ChainTip](0),
		blocks:   stream.New[*wire.MsgBlock](0),
		txs:      stream.New[*wire.MsgTx](0),
		blockSub: blockSub,
		txSub:    txSub,
		cancel:   cancel,
	}

	s.wg.Add(2)
	go s.blockLoop(ctx)
	go s.txLoop(ctx)
	return s, nil
}

// ChainTips subscribes to the canonical chain-tip stream. The most recently
// forwarded tip, if any, is delivered immediately; a new block can otherwise
// be minutes away.
func (s *Service) ChainTips() *stream.Subscription[model.ChainTip] {
	return s.tips.Subscribe()
}

// Blocks subscribes to the decoded block stream, seeded with the node's
// current best block fetched synchronously so the subscriber does not sit
// idle until the next network event.
func (s *Service) Blocks(ctx context.Context) (*stream.Subscription[*wire.MsgBlock], error) {
	best, err := s.client.BestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch best block for seeding: %w", err)
	}
	return s.blocks.SubscribeSeeded(best), nil
}

// Transactions subscribes to the decoded transaction stream.
func (s *Service) Transactions() *stream.Subscription[*wire.MsgTx] {
	return s.txs.Subscribe()
}

// Close cancels the derivation loops and ends the output streams.
func (s *Service) Close() {
	s.cancel()
	s.blockSub.Cancel()
	s.txSub.Cancel()
	s.wg.Wait()
}

// blockLoop decodes raw blocks, asks the node for the matching tip record,
// and forwards distinct tips. A decode or RPC failure is fatal to the
// canonical stream: silently skipping a block would desynchronize height
// tracking.
func (s *Service) blockLoop(ctx context.Context) {
	defer s.wg.Done()

	var lastHash chainhash.Hash
	var haveLast bool

	for notification := range s.blockSub.C() {
		var block wire.MsgBlock
		if err := block.Deserialize(bytes.NewReader(notification.Payload)); err != nil {
			s.failBlockStreams(fmt.Errorf("decode raw block: %w", err))
			return
		}
		s.blocks.Publish(&block)

		hash := block.BlockHash()
		tip, err := s.client.ChainTipForBlockHash(ctx, hash)
		if err != nil {
			s.failBlockStreams(fmt.Errorf("chain tip for block %s: %w", hash, err))
			return
		}

		if haveLast && tip.Hash == lastHash {
			s.logger.Debug("duplicate chain tip suppressed", zap.Stringer("hash", tip.Hash))
			continue
		}
		lastHash = tip.Hash
		haveLast = true

		metrics.TipUpdatesTotal.Inc()
		s.logger.Info("chain tip changed",
			zap.Int64("height", tip.Height),
			zap.Stringer("hash", tip.Hash),
		)
		s.tips.Publish(tip)
	}

	// Upstream ended: propagate its terminal state.
	if err := s.blockSub.Err(); err != nil {
		s.failBlockStreams(err)
		return
	}
	s.tips.Close()
	s.blocks.Close()
}

func (s *Service) failBlockStreams(err error) {
	s.logger.Error("chain tip derivation failed", zap.Error(err))
	s.tips.Fail(err)
	s.blocks.Fail(err)
}

// txLoop decodes raw transactions. Decode failures terminate only the
// transaction stream; the canonical tip stream is sourced independently.
func (s *Service) txLoop(_ context.Context) {
	defer s.wg.Done()

	for notification := range s.txSub.C() {
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(notification.Payload)); err != nil {
			err = fmt.Errorf("decode raw transaction: %w", err)
			s.logger.Error("transaction stream failed", zap.Error(err))
			s.txs.Fail(err)
			return
		}
		s.txs.Publish(&tx)
	}

	if err := s.txSub.Err(); err != nil {
		s.txs.Fail(err)
		return
	}
	s.txs.Close()
}
