package storage

import "nodewatch/internal/model"

// Storage defines a sink for UTXO statistic records.
type Storage interface {
	PutStatBatch(stats []model.StatRecord) error
}
