// Package notify discovers Bitcoin Core's ZMQ notification endpoints and
// exposes raw block and transaction byte streams over one or two
// connections, depending on how the node is configured.
package notify

import (
	"context"
	"errors"

	"nodewatch/internal/model"
)

// ErrNoEndpoint means the node does not advertise a ZMQ endpoint for a
// required topic. This is a node configuration problem, not a transient
// failure; it is fatal at construction and never retried.
var ErrNoEndpoint = errors.New("no zmq endpoint advertised for topic")

// ErrNotImplemented marks stream kinds this deployment does not decode.
var ErrNotImplemented = errors.New("not implemented")

// EndpointLister is the slice of the node client the resolver needs.
type EndpointLister interface {
	ZmqNotificationEndpoints(ctx context.Context) ([]model.NotificationEndpoint, error)
}

// Resolver maps notification topics to the transport endpoints serving them.
type Resolver struct {
	client EndpointLister
}

func NewResolver(client EndpointLister) *Resolver {
	return &Resolver{client: client}
}

// Resolve queries the node once and returns an endpoint per requested topic.
// Topics the node does not advertise are absent from the result.
func (r *Resolver) Resolve(ctx context.Context, topics ...model.Topic) (map[model.Topic]string, error) {
	endpoints, err := r.client.ZmqNotificationEndpoints(ctx)
	if err != nil {
		return nil, err
	}

	byType := make(map[string]string, len(endpoints))
	for _, ep := range endpoints {
		if _, ok := byType[ep.Type]; !ok {
			byType[ep.Type] = ep.Address
		}
	}

	resolved := make(map[model.Topic]string, len(topics))
	for _, topic := range topics {
		if addr, ok := byType[topic.ZmqType()]; ok {
			resolved[topic] = addr
		}
	}
	return resolved, nil
}
