// Package txoutset serves UTXO-set statistics keyed by chain tip. The
// statistic is expensive for the node to compute, so results are cached per
// best-block hash, concurrent fetches are capped, and a denied fetch reuses
// the last in-flight call's result instead of piling on.
package txoutset

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"nodewatch/internal/metrics"
	"nodewatch/internal/model"
	"nodewatch/internal/stream"
)

const (
	// DefaultCacheDepth is how many blocks behind the current tip a cached
	// entry stays valid before the sweep removes it.
	DefaultCacheDepth = 1

	// DefaultMaxOutstanding caps concurrent gettxoutsetinfo calls. Rapid tip
	// churn (reorgs, initial sync) must not overload the node.
	DefaultMaxOutstanding = 2
)

// Fetcher is the slice of the node client that computes the statistic.
type Fetcher interface {
	TxOutSetInfo(ctx context.Context) (model.TxOutSetInfo, error)
}

// TipSource provides the canonical chain-tip stream the service reacts to.
type TipSource interface {
	ChainTips() *stream.Subscription[model.ChainTip]
}

// Config tunes the cache and admission control. Zero values select defaults.
type Config struct {
	CacheDepth     int64
	MaxOutstanding int
}

func (c Config) withDefaults() Config {
	if c.CacheDepth <= 0 {
		c.CacheDepth = DefaultCacheDepth
	}
	if c.MaxOutstanding <= 0 {
		c.MaxOutstanding = DefaultMaxOutstanding
	}
	return c
}

// call is one in-flight (or completed) gettxoutsetinfo invocation. Multiple
// waiters may attach; completion fans out through the closed channel.
type call struct {
	done chan struct{}
	info model.TxOutSetInfo
	err  error
}

func completedCall(info model.TxOutSetInfo) *call {
	c := &call{done: make(chan struct{}), info: info}
	close(c.done)
	return c
}

// Service maintains the statistic cache and publishes results on a
// latest-seeded multicast stream.
type Service struct {
	client Fetcher
	source TipSource
	logger *zap.Logger
	cfg    Config

	out *stream.Broadcast[model.TxOutSetInfo]

	// mu guards everything below: cache sweeps and inserts, the admission
	// counter, the last-call handle, and the current tip height must be
	// mutually exclusive across the dispatch and completion goroutines.
	mu          sync.Mutex
	cache       map[chainhash.Hash]model.TxOutSetInfo
	outstanding int
	lastCall    *call
	tipHeight   int64

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ctx       context.Context
}

// New builds the service. The subscription to the tip source is established
// lazily on the first Subscribe call.
func New(ctx context.Context, client Fetcher, source TipSource, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		client: client,
		source: source,
		logger: logger,
		cfg:    cfg.withDefaults(),
		out:    stream.NewLatest[model.TxOutSetInfo](0),
		cache:  make(map[chainhash.Hash]model.TxOutSetInfo),
		cancel: cancel,
		ctx:    ctx,
	}
}

// Subscribe starts the service if needed and returns a subscription to the
// statistic stream. The most recent result, if any, is delivered first.
func (s *Service) Subscribe() *stream.Subscription[model.TxOutSetInfo] {
	s.startOnce.Do(func() {
		tipSub := s.source.ChainTips()
		s.wg.Add(1)
		go s.run(tipSub)
	})
	return s.out.Subscribe()
}

// Close stops reacting to tips and ends the output stream. Fetches already
// admitted run to completion but publish nothing.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
	s.out.Close()
}

func (s *Service) run(tipSub *stream.Subscription[model.ChainTip]) {
	defer s.wg.Done()
	defer tipSub.Cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case tip, ok := <-tipSub.C():
			if !ok {
				// The tip stream failing means the whole notification
				// pipeline is down; our output ends with the same error.
				if err := tipSub.Err(); err != nil {
					s.out.Fail(err)
				} else {
					s.out.Close()
				}
				return
			}
			s.onTip(tip)
		}
	}
}

// onTip sweeps stale entries, resolves a result for the tip (cache hit,
// fresh fetch, or the reused last call), and forwards that result once it is
// available.
func (s *Service) onTip(tip model.ChainTip) {
	c := s.resolve(tip)
	if c == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
			return
		case <-c.done:
		}
		if c.err != nil {
			// Transient: no update this round. The next tip change retries
			// through the same admission path.
			s.logger.Warn("utxo statistic fetch failed", zap.Error(c.err))
			return
		}
		s.out.Publish(c.info)
	}()
}

// resolve applies the per-entry state machine under one lock:
// absent -> fetching -> cached.
func (s *Service) resolve(tip model.ChainTip) *call {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Retention is relative to the tip that triggered this resolution, not a
	// high-water mark: a reorg to a lower-height tip moves the window down
	// with it.
	s.tipHeight = tip.Height
	s.sweepLocked()

	if info, ok := s.cache[tip.Hash]; ok {
		metrics.TxOutSetCacheHitsTotal.Inc()
		s.logger.Debug("utxo statistic cache hit",
			zap.Int64("height", info.Height),
			zap.Stringer("best_block", info.BestBlock),
		)
		return completedCall(info)
	}

	if s.outstanding >= s.cfg.MaxOutstanding {
		// Admission denied: accept the last in-flight call's eventual
		// result, which may belong to an already-superseded tip. That is a
		// designed approximation, not an error path.
		s.logger.Info("reusing in-flight utxo statistic call",
			zap.Int("outstanding", s.outstanding),
			zap.Int64("tip_height", tip.Height),
		)
		return s.lastCall
	}

	s.outstanding++
	metrics.OutstandingCalls.Set(float64(s.outstanding))
	s.logger.Info("fetching utxo statistic",
		zap.Int64("tip_height", tip.Height),
		zap.Stringer("tip_hash", tip.Hash),
		zap.Int("outstanding", s.outstanding),
	)

	c := &call{done: make(chan struct{})}
	s.lastCall = c
	s.wg.Add(1)
	go s.fetch(c)
	return c
}

func (s *Service) fetch(c *call) {
	defer s.wg.Done()

	info, err := s.client.TxOutSetInfo(s.ctx)

	s.mu.Lock()
	s.outstanding--
	metrics.OutstandingCalls.Set(float64(s.outstanding))
	if err == nil {
		// The entry is keyed by the result's own best-block hash. An insert
		// for a tip the sweep has already put out of range is discarded so
		// no sweep-violating entry can land after the sweep ran.
		if info.Height >= s.tipHeight-s.cfg.CacheDepth {
			s.cache[info.BestBlock] = info
		}
	}
	s.mu.Unlock()

	if err != nil {
		metrics.TxOutSetFetchesTotal.WithLabelValues("error").Inc()
	} else {
		metrics.TxOutSetFetchesTotal.WithLabelValues("ok").Inc()
		s.logger.Info("utxo statistic fetched",
			zap.Int64("height", info.Height),
			zap.Stringer("best_block", info.BestBlock),
		)
	}

	c.info, c.err = info, err
	close(c.done)
}

// sweepLocked removes every entry more than CacheDepth blocks behind the
// current tip. Handles reorgs by discarding entries no longer near the
// active tip. Caller holds mu.
func (s *Service) sweepLocked() {
	for hash, info := range s.cache {
		if info.Height < s.tipHeight-s.cfg.CacheDepth {
			s.logger.Info("evicting utxo statistic",
				zap.Int64("height", info.Height),
				zap.Stringer("best_block", hash),
			)
			delete(s.cache, hash)
		}
	}
}

// CacheSize reports the number of cached entries.
func (s *Service) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
