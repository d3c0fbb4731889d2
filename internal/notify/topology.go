package notify

import (
	"fmt"

	"nodewatch/internal/model"
)

// topology is the fixed connection plan decided once at construction: either
// one shared connection carrying both topics, or one connection per topic.
type topology struct {
	shared        bool
	blockEndpoint string
	txEndpoint    string
}

// planTopology requires endpoints for both rawblock and rawtx and collapses
// them onto a single connection when they coincide, so the node is not asked
// to feed duplicate sockets.
func planTopology(endpoints map[model.Topic]string) (topology, error) {
	blockEndpoint, ok := endpoints[model.TopicRawBlock]
	if !ok {
		return topology{}, fmt.Errorf("%w: %s", ErrNoEndpoint, model.TopicRawBlock)
	}
	txEndpoint, ok := endpoints[model.TopicRawTx]
	if !ok {
		return topology{}, fmt.Errorf("%w: %s", ErrNoEndpoint, model.TopicRawTx)
	}
	return topology{
		shared:        blockEndpoint == txEndpoint,
		blockEndpoint: blockEndpoint,
		txEndpoint:    txEndpoint,
	}, nil
}
