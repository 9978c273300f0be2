package ports

import (
	"context"

	"hirecall/internal/core/domain"
)

// SignalingTransport is one bidirectional envelope channel.
type SignalingTransport interface {
	// Send fails with domain.ErrChannelNotOpen unless the channel is open.
	Send(env domain.SignalEnvelope) error
	// OnMessage registers a handler called once per envelope, in receipt order.
	OnMessage(handler func(domain.SignalEnvelope)) (unsubscribe func())
	State() domain.ChannelState
	// Done is closed once the channel reaches the closed state.
	Done() <-chan struct{}
	Close() error
}

type TransportDialer interface {
	Dial(ctx context.Context, callID domain.CallID) (SignalingTransport, error)
}

type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}
