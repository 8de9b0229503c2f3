package p2p

import (
	"errors"
	"fmt"
)

// ErrGotNoQuote is raised when the first packet received from a peer is
// not an Onboard handshake message. Fatal.
var ErrGotNoQuote = errors.New("p2p: first peer packet was not an onboarding message")

// ErrInvalidQuote is raised when the peer's attestation quote fails
// verification. Fatal.
var ErrInvalidQuote = errors.New("p2p: peer quote failed verification")

// ErrTransport covers any send/receive failure on the underlying
// transport. Fatal.
var ErrTransport = errors.New("p2p: transport send or receive failed")

// ErrClosed denotes a connection that has torn down. No Manager method in
// this package returns it; teardown is observed through Done and Err.
var ErrClosed = errors.New("p2p: connection closed")

// InvalidSessionKeyError is raised when an established-state packet's
// session key disagrees with the one agreed at handshake. Fatal.
type InvalidSessionKeyError struct {
	Expected, Got int64
}

func (e *InvalidSessionKeyError) Error() string {
	return fmt.Sprintf("p2p: invalid session key: expected %d, got %d", e.Expected, e.Got)
}

// InvalidNonceError is raised when a packet's nonce falls outside the
// acceptance window around the current peer nonce. Fatal.
type InvalidNonceError struct {
	Expected, Got int64
}

func (e *InvalidNonceError) Error() string {
	return fmt.Sprintf("p2p: invalid nonce: expected near %d, got %d", e.Expected, e.Got)
}

// ExpiredNonceError is raised when a packet's nonce has already been
// observed within the window — a replay signal. Fatal.
type ExpiredNonceError struct {
	Nonce int64
}

func (e *ExpiredNonceError) Error() string {
	return fmt.Sprintf("p2p: expired nonce: %d already seen", e.Nonce)
}
