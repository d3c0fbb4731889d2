// Package metrics holds the process-wide prometheus collectors and an
// optional HTTP exposition listener.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// NotificationsTotal counts raw ZMQ notifications by topic.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewatch",
		Subsystem: "zmq",
		Name:      "notifications_total",
		Help:      "Raw ZMQ notifications received, by topic.",
	}, []string{"topic"})

	// TipUpdatesTotal counts distinct chain-tip changes forwarded downstream.
	TipUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nodewatch",
		Subsystem: "tipstream",
		Name:      "tip_updates_total",
		Help:      "Distinct chain tip changes forwarded downstream.",
	})

	// TxOutSetFetchesTotal counts gettxoutsetinfo completions by result.
	TxOutSetFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewatch",
		Subsystem: "txoutset",
		Name:      "fetches_total",
		Help:      "gettxoutsetinfo fetch completions, by result.",
	}, []string{"result"})

	// TxOutSetCacheHitsTotal counts tips served from the statistic cache.
	TxOutSetCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nodewatch",
		Subsystem: "txoutset",
		Name:      "cache_hits_total",
		Help:      "Chain tips served from the UTXO statistic cache.",
	})

	// OutstandingCalls tracks in-flight gettxoutsetinfo calls.
	OutstandingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodewatch",
		Subsystem: "txoutset",
		Name:      "outstanding_calls",
		Help:      "In-flight gettxoutsetinfo calls.",
	})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	logger.Info("metrics listener start", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
