package model

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxOutSetInfo is the result of gettxoutsetinfo. It is valid only for the
// exact best-block hash it was computed at.
type TxOutSetInfo struct {
	Height          int64
	BestBlock       chainhash.Hash
	Transactions    int64
	TxOuts          int64
	BogoSize        int64
	HashSerialized2 string
	DiskSize        int64
	TotalAmount     float64
}

type txOutSetInfoJSON struct {
	Height          int64   `json:"height"`
	BestBlock       string  `json:"bestblock"`
	Transactions    int64   `json:"transactions"`
	TxOuts          int64   `json:"txouts"`
	BogoSize        int64   `json:"bogosize"`
	HashSerialized2 string  `json:"hash_serialized_2"`
	DiskSize        int64   `json:"disk_size"`
	TotalAmount     float64 `json:"total_amount"`
}

// MarshalJSON encodes the record with Bitcoin Core's field names.
func (i TxOutSetInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(txOutSetInfoJSON{
		Height:          i.Height,
		BestBlock:       i.BestBlock.String(),
		Transactions:    i.Transactions,
		TxOuts:          i.TxOuts,
		BogoSize:        i.BogoSize,
		HashSerialized2: i.HashSerialized2,
		DiskSize:        i.DiskSize,
		TotalAmount:     i.TotalAmount,
	})
}

// UnmarshalJSON decodes a gettxoutsetinfo result.
func (i *TxOutSetInfo) UnmarshalJSON(data []byte) error {
	var raw txOutSetInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	hash, err := chainhash.NewHashFromStr(raw.BestBlock)
	if err != nil {
		return fmt.Errorf("parse bestblock hash: %w", err)
	}
	i.Height = raw.Height
	i.BestBlock = *hash
	i.Transactions = raw.Transactions
	i.TxOuts = raw.TxOuts
	i.BogoSize = raw.BogoSize
	i.HashSerialized2 = raw.HashSerialized2
	i.DiskSize = raw.DiskSize
	i.TotalAmount = raw.TotalAmount
	return nil
}

// StatRecord is the normalized representation of a TxOutSetInfo for storage.
type StatRecord struct {
	Height          int64   `json:"height"`
	BestBlock       string  `json:"best_block"`
	Transactions    int64   `json:"transactions"`
	TxOuts          int64   `json:"txouts"`
	BogoSize        int64   `json:"bogosize"`
	DiskSize        int64   `json:"disk_size"`
	TotalAmount     float64 `json:"total_amount"`
	HashSerialized2 string  `json:"hash_serialized_2"`
	IngestedAt      string  `json:"ingested_at"`
}

// NewStatRecord converts a TxOutSetInfo into its storage form.
func NewStatRecord(info TxOutSetInfo, ingestedAt string) StatRecord {
	return StatRecord{
		Height:          info.Height,
		BestBlock:       info.BestBlock.String(),
		Transactions:    info.Transactions,
		TxOuts:          info.TxOuts,
		BogoSize:        info.BogoSize,
		DiskSize:        info.DiskSize,
		TotalAmount:     info.TotalAmount,
		HashSerialized2: info.HashSerialized2,
		IngestedAt:      ingestedAt,
	}
}
