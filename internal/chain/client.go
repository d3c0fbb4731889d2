package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"nodewatch/internal/model"
)

// Config holds the JSON-RPC connection settings for Bitcoin Core.
type Config struct {
	Host string
	User string
	Pass string
}

// Client wraps the Bitcoin Core JSON-RPC client and provides helper methods.
type Client struct {
	rpc *rpcclient.Client
}

// NewClient creates a new node client. HTTP POST mode matches Bitcoin Core's
// JSON-RPC server.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("rpc host is required")
	}
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc}, nil
}

// Close shuts down the underlying RPC client.
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Shutdown()
	}
}

// ZmqNotificationEndpoints returns the ZMQ notification endpoints the node
// advertises via getzmqnotifications.
func (c *Client) ZmqNotificationEndpoints(ctx context.Context) ([]model.NotificationEndpoint, error) {
	raw, err := c.rawRequest(ctx, "getzmqnotifications")
	if err != nil {
		return nil, fmt.Errorf("getzmqnotifications: %w", err)
	}
	var endpoints []model.NotificationEndpoint
	if err := json.Unmarshal(raw, &endpoints); err != nil {
		return nil, fmt.Errorf("decode getzmqnotifications result: %w", err)
	}
	return endpoints, nil
}

// ChainTips returns all chain tips the node knows about.
func (c *Client) ChainTips(ctx context.Context) ([]model.ChainTip, error) {
	raw, err := c.rawRequest(ctx, "getchaintips")
	if err != nil {
		return nil, fmt.Errorf("getchaintips: %w", err)
	}
	var tips []model.ChainTip
	if err := json.Unmarshal(raw, &tips); err != nil {
		return nil, fmt.Errorf("decode getchaintips result: %w", err)
	}
	return tips, nil
}

// ChainTipForBlockHash returns the active-chain tip record for a block the
// node just announced. The node is the source of truth for the height; the
// verbose block header supplies it.
func (c *Client) ChainTipForBlockHash(ctx context.Context, hash chainhash.Hash) (model.ChainTip, error) {
	hashParam, err := json.Marshal(hash.String())
	if err != nil {
		return model.ChainTip{}, err
	}
	raw, err := c.rawRequest(ctx, "getblockheader", hashParam)
	if err != nil {
		return model.ChainTip{}, fmt.Errorf("getblockheader %s: %w", hash, err)
	}
	var header struct {
		Height int64 `json:"height"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return model.ChainTip{}, fmt.Errorf("decode getblockheader result: %w", err)
	}
	return model.ActiveTip(header.Height, hash), nil
}

// BestBlock fetches the node's current best block, fully decoded.
func (c *Client) BestBlock(ctx context.Context) (*wire.MsgBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := c.rpc.GetBestBlockHash()
	if err != nil {
		return nil, fmt.Errorf("getbestblockhash: %w", err)
	}
	block, err := c.rpc.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("getblock %s: %w", hash, err)
	}
	return block, nil
}

// TxOutSetInfo runs gettxoutsetinfo. This walks the node's full UTXO set and
// can take tens of seconds on mainnet; callers bound their concurrency.
func (c *Client) TxOutSetInfo(ctx context.Context) (model.TxOutSetInfo, error) {
	raw, err := c.rawRequest(ctx, "gettxoutsetinfo")
	if err != nil {
		return model.TxOutSetInfo{}, fmt.Errorf("gettxoutsetinfo: %w", err)
	}
	var info model.TxOutSetInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return model.TxOutSetInfo{}, fmt.Errorf("decode gettxoutsetinfo result: %w", err)
	}
	return info, nil
}

type rawResult struct {
	raw json.RawMessage
	err error
}

// rawRequest issues a JSON-RPC call for methods rpcclient has no typed
// wrapper for. rpcclient itself is not context-aware, so the call is issued
// asynchronously and abandoned when the context ends; gettxoutsetinfo can
// take tens of seconds and callers must not be held through shutdown.
func (c *Client) rawRequest(ctx context.Context, method string, params ...json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	future := c.rpc.RawRequestAsync(method, params)
	done := make(chan rawResult, 1)
	go func() {
		raw, err := future.Receive()
		done <- rawResult{raw: raw, err: err}
	}()

	select {
	case res := <-done:
		return res.raw, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
