package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nodewatch/internal/chain"
	"nodewatch/internal/config"
	"nodewatch/internal/metrics"
	"nodewatch/internal/model"
	"nodewatch/internal/notify"
	"nodewatch/internal/storage"
	"nodewatch/internal/storage/postgres"
	"nodewatch/internal/tipstream"
	"nodewatch/internal/txoutset"
)

func main() {
	root := &cobra.Command{
		Use:          "nodewatch",
		Short:        "Bitcoin Core ZMQ notification watcher",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch chain tips and UTXO-set statistics",
		RunE:  runWatch,
	}

	watchCmd.Flags().String("rpc-host", "", "Bitcoin Core RPC host:port")
	watchCmd.Flags().String("rpc-user", "", "RPC username")
	watchCmd.Flags().String("rpc-pass", "", "RPC password")
	watchCmd.Flags().Int64("cache-depth", 1, "blocks behind the tip a cached statistic stays valid")
	watchCmd.Flags().Int("max-calls", 2, "max concurrent gettxoutsetinfo calls")
	watchCmd.Flags().String("out", "./data/txoutset.jsonl", "output JSONL path")
	watchCmd.Flags().String("pg-dsn", "", "optional Postgres DSN")
	watchCmd.Flags().String("metrics-listen", "", "optional prometheus listen address (e.g. :9399)")
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(watchCmd)

	tipsCmd := &cobra.Command{
		Use:   "tips",
		Short: "Print the node's chain tips and exit",
		RunE:  runTips,
	}
	addClientFlags(tipsCmd)
	root.AddCommand(tipsCmd)

	txOutSetCmd := &cobra.Command{
		Use:   "txoutset",
		Short: "Fetch the UTXO-set statistic once and exit",
		RunE:  runTxOutSet,
	}
	addClientFlags(txOutSetCmd)
	root.AddCommand(txOutSetCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc-host", "", "Bitcoin Core RPC host:port")
	cmd.Flags().String("rpc-user", "", "RPC username")
	cmd.Flags().String("rpc-pass", "", "RPC password")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCHost == "" {
		return fmt.Errorf("rpc host is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(chain.Config{
		Host: cfg.RPCHost,
		User: cfg.RPCUser,
		Pass: cfg.RPCPass,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}

	notifySvc, err := notify.NewService(ctx, client, logger)
	if err != nil {
		client.Close()
		return err
	}
	defer notifySvc.Close()

	tipSvc, err := tipstream.New(ctx, client, notifySvc, logger)
	if err != nil {
		return err
	}
	defer tipSvc.Close()

	statSvc := txoutset.New(ctx, client, tipSvc, txoutset.Config{
		CacheDepth:     cfg.CacheDepth,
		MaxOutstanding: cfg.MaxCalls,
	}, logger)
	defer statSvc.Close()

	jsonlSink := storage.NewJsonlStorage(cfg.Out)

	var pgStore *postgres.Store
	if cfg.PgDSN != "" {
		pgStore, err = postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	if cfg.MetricsListen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsListen, logger); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	logger.Info("watch start",
		zap.String("rpc_host", cfg.RPCHost),
		zap.Int64("cache_depth", cfg.CacheDepth),
		zap.Int("max_calls", cfg.MaxCalls),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", pgStore != nil),
	)

	tipSub := tipSvc.ChainTips()
	defer tipSub.Cancel()
	statSub := statSvc.Subscribe()
	defer statSub.Cancel()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stop")
			return nil

		case tip, ok := <-tipSub.C():
			if !ok {
				if err := tipSub.Err(); err != nil {
					return fmt.Errorf("chain tip stream ended: %w", err)
				}
				return nil
			}
			logger.Info("tip",
				zap.Int64("height", tip.Height),
				zap.Stringer("hash", tip.Hash),
				zap.String("status", tip.Status),
			)

		case info, ok := <-statSub.C():
			if !ok {
				if err := statSub.Err(); err != nil {
					return fmt.Errorf("statistic stream ended: %w", err)
				}
				return nil
			}
			record := model.NewStatRecord(info, time.Now().UTC().Format(time.RFC3339))
			if err := jsonlSink.PutStatBatch([]model.StatRecord{record}); err != nil {
				logger.Error("persist statistic", zap.Error(err))
			}
			if pgStore != nil {
				if err := pgStore.UpsertStats(ctx, []model.StatRecord{record}); err != nil {
					logger.Error("upsert statistic", zap.Error(err))
				}
			}
			logger.Info("utxo statistic",
				zap.Int64("height", info.Height),
				zap.Stringer("best_block", info.BestBlock),
				zap.Int64("txouts", info.TxOuts),
				zap.Float64("total_amount", info.TotalAmount),
			)
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
