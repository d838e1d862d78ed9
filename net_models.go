package wsession

import (
	"context"
)

type (
	// CloseChan is closed once a Transport is done.
	CloseChan chan struct{}

	// Transport is one physical connection. A Transport is opened at most once; reconnecting
	// means creating a new one through a TransportFactory.
	Transport interface {
		// Open dials the server and starts delivering inbound messages to the receive channel
		// given to the factory. It returns once the connection is usable or failed.
		Open(ctx context.Context) error
		// Write sends m synchronously. An error means the transport must be considered dead.
		Write(m Message) error
		// Close closes the transport from our side. It is idempotent.
		Close()
		// CloseErr explains why the transport closed: ErrTerminated when we closed it,
		// ErrClosedByServer on a normal closure by the peer, a wrapped ErrConnectionClosed
		// otherwise.
		CloseErr() error
		CloseChan() CloseChan
	}

	// TransportFactory creates an unopened Transport delivering inbound messages to recv. The
	// transport must stop sending to recv once its CloseChan is closed.
	TransportFactory func(ctx context.Context, recv chan<- Message) Transport
)
