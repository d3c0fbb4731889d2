package model

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ChainTip is the node's view of one chain tip, as reported by getchaintips.
// Identity for deduplication purposes is the block hash only.
type ChainTip struct {
	Height    int64
	Hash      chainhash.Hash
	BranchLen int64
	Status    string
}

// ActiveTip builds the tip record for a block on the active chain.
func ActiveTip(height int64, hash chainhash.Hash) ChainTip {
	return ChainTip{Height: height, Hash: hash, Status: "active"}
}

type chainTipJSON struct {
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	BranchLen int64  `json:"branchlen"`
	Status    string `json:"status"`
}

// MarshalJSON encodes the tip with the hash in RPC (reversed hex) order.
func (t ChainTip) MarshalJSON() ([]byte, error) {
	return json.Marshal(chainTipJSON{
		Height:    t.Height,
		Hash:      t.Hash.String(),
		BranchLen: t.BranchLen,
		Status:    t.Status,
	})
}

// UnmarshalJSON decodes a getchaintips entry.
func (t *ChainTip) UnmarshalJSON(data []byte) error {
	var raw chainTipJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	hash, err := chainhash.NewHashFromStr(raw.Hash)
	if err != nil {
		return fmt.Errorf("parse tip hash: %w", err)
	}
	t.Height = raw.Height
	t.Hash = *hash
	t.BranchLen = raw.BranchLen
	t.Status = raw.Status
	return nil
}
