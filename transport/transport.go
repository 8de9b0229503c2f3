// Package transport defines the capability the connection manager
// consumes to move framed bytes to and from a peer, without assuming
// anything about the concrete wire protocol underneath. Stream-oriented
// QUIC and length-delimited TCP are both valid realizations; transport/tcp
// provides the latter.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Receive once the connection is cleanly closed
// and no more frames will arrive; callers treat it like io.EOF.
var ErrClosed = errors.New("transport: connection closed")

// Conn is the capability a concrete transport binding provides: send a
// whole frame, receive the next whole frame. The connection manager is
// written only against this interface, never against a concrete socket
// type.
type Conn interface {
	// Send transmits one frame. Implementations must not fragment or
	// coalesce frames with other calls to Send.
	Send(ctx context.Context, b []byte) error
	// Receive blocks until the next whole frame arrives, the connection
	// closes (returning ErrClosed), or ctx is done. How ctx is observed is
	// up to the binding; transport/tcp applies only its deadline.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the underlying connection resources. Safe to call
	// more than once.
	Close() error
}
