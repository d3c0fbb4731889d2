package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nodewatch/internal/chain"
	"nodewatch/internal/config"
)

// runTips prints the node's getchaintips result as JSON lines.
func runTips(cmd *cobra.Command, _ []string) error {
	client, ctx, cleanup, err := oneShotClient(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	tips, err := client.ChainTips(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	for _, tip := range tips {
		if err := encoder.Encode(tip); err != nil {
			return err
		}
	}
	return nil
}

// oneShotClient builds a node client for the single-request subcommands.
func oneShotClient(cmd *cobra.Command) (*chain.Client, context.Context, func(), error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.RPCHost == "" {
		return nil, nil, nil, fmt.Errorf("rpc host is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	client, err := chain.NewClient(chain.Config{
		Host: cfg.RPCHost,
		User: cfg.RPCUser,
		Pass: cfg.RPCPass,
	})
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("connect rpc: %w", err)
	}

	cleanup := func() {
		client.Close()
		stop()
	}
	return client, ctx, cleanup, nil
}
