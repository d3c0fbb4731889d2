package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"nodewatch/internal/model"
)

type fakeNode struct {
	endpoints []model.NotificationEndpoint
	listErr   error
	listCalls atomic.Int32
	closed    atomic.Bool
}

func (f *fakeNode) ZmqNotificationEndpoints(context.Context) ([]model.NotificationEndpoint, error) {
	f.listCalls.Add(1)
	return f.endpoints, f.listErr
}

func (f *fakeNode) Close() {
	f.closed.Store(true)
}

func TestResolverMapsTopicsToEndpoints(t *testing.T) {
	node := &fakeNode{endpoints: []model.NotificationEndpoint{
		{Type: "pubrawblock", Address: "tcp://127.0.0.1:28332", HWM: 1000},
		{Type: "pubrawtx", Address: "tcp://127.0.0.1:28333", HWM: 1000},
		{Type: "pubhashblock", Address: "tcp://127.0.0.1:28334", HWM: 1000},
	}}

	resolved, err := NewResolver(node).Resolve(context.Background(),
		model.TopicRawBlock, model.TopicRawTx, model.TopicHashTx)
	require.NoError(t, err)

	require.Equal(t, "tcp://127.0.0.1:28332", resolved[model.TopicRawBlock])
	require.Equal(t, "tcp://127.0.0.1:28333", resolved[model.TopicRawTx])

	// hashtx is not advertised: absent, not an error at resolve time.
	_, ok := resolved[model.TopicHashTx]
	require.False(t, ok)

	// One RPC round trip regardless of how many topics were requested.
	require.Equal(t, int32(1), node.listCalls.Load())
}

func TestResolverPropagatesClientError(t *testing.T) {
	boom := errors.New("rpc down")
	node := &fakeNode{listErr: boom}

	_, err := NewResolver(node).Resolve(context.Background(), model.TopicRawBlock)
	require.ErrorIs(t, err, boom)
}

func TestNewServiceMissingEndpointIsFatal(t *testing.T) {
	node := &fakeNode{endpoints: []model.NotificationEndpoint{
		{Type: "pubrawblock", Address: "tcp://127.0.0.1:28332"},
	}}

	_, err := NewService(context.Background(), node, nil)
	require.ErrorIs(t, err, ErrNoEndpoint)
}
