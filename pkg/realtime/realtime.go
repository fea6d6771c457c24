// Package realtime defines the RealtimeAdapter contract the
// RealtimeCoordinator subscribes and publishes through. A concrete
// websocket implementation lives in the ws subpackage.
package realtime

import "context"

// InboundHandler receives a decoded update blob pushed from the realtime
// transport. The coordinator applies it to the CRDT with origin REALTIME.
type InboundHandler func(update []byte)

// Unsubscribe cancels a subscription registered with Subscribe.
type Unsubscribe func()

// Adapter is the realtime pub/sub contract. Reconnect-and-rejoin
// semantics, if any, are the adapter's own concern; the coordinator never
// inspects connection state.
type Adapter interface {
	// Subscribe registers handler for inbound updates on docID and
	// returns a callable that cancels the subscription.
	Subscribe(ctx context.Context, docID string, handler InboundHandler) (Unsubscribe, error)

	// Publish sends update for docID to the transport.
	Publish(ctx context.Context, docID string, update []byte) error
}
