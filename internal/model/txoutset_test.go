package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const txOutSetSample = `{
	"height": 840000,
	"bestblock": "000000000000000000000320283a032748cef8227873ff4872689bf23f1cda83",
	"transactions": 88000000,
	"txouts": 176000000,
	"bogosize": 13000000000,
	"hash_serialized_2": "a8d2e4b5c6f7081920314253647586970a1b2c3d4e5f60718293a4b5c6d7e8f9",
	"disk_size": 11000000000,
	"total_amount": 19687500.0
}`

func TestTxOutSetInfoDecodesRPCResult(t *testing.T) {
	var info TxOutSetInfo
	require.NoError(t, json.Unmarshal([]byte(txOutSetSample), &info))

	require.Equal(t, int64(840000), info.Height)
	require.Equal(t, "000000000000000000000320283a032748cef8227873ff4872689bf23f1cda83", info.BestBlock.String())
	require.Equal(t, int64(88000000), info.Transactions)
	require.Equal(t, int64(176000000), info.TxOuts)
	require.Equal(t, int64(13000000000), info.BogoSize)
	require.Equal(t, int64(11000000000), info.DiskSize)
	require.Equal(t, 19687500.0, info.TotalAmount)
	require.Equal(t, "a8d2e4b5c6f7081920314253647586970a1b2c3d4e5f60718293a4b5c6d7e8f9", info.HashSerialized2)
}

func TestNewStatRecord(t *testing.T) {
	var info TxOutSetInfo
	require.NoError(t, json.Unmarshal([]byte(txOutSetSample), &info))

	rec := NewStatRecord(info, "2026-08-23T12:00:00Z")
	require.Equal(t, info.Height, rec.Height)
	require.Equal(t, info.BestBlock.String(), rec.BestBlock)
	require.Equal(t, info.TotalAmount, rec.TotalAmount)
	require.Equal(t, "2026-08-23T12:00:00Z", rec.IngestedAt)
}
