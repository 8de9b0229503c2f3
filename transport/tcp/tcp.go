// Package tcp is the length-delimited TCP realization of transport.Conn.
//
// Framing is a 4-byte little-endian length prefix followed by that many
// bytes of payload (`|MessageLength(4bytes)|Message(MessageLength)|`),
// capped by MaxMessageLength. It is wired behind transport.Conn so the
// connection manager never depends on net.Conn directly.
package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dstack-tee/overlay/transport"
)

const (
	// lengthPrefixSize is the width of the frame length header.
	lengthPrefixSize = 4
	// MaxMessageLength bounds a single frame at 32MiB.
	MaxMessageLength = 32 * 1024 * 1024
)

// ErrFrameTooLarge is returned when a peer advertises a frame length above
// MaxMessageLength.
var ErrFrameTooLarge = errors.New("tcp: frame exceeds maximum message length")

// Conn is a length-delimited framing of a net.Conn, satisfying
// transport.Conn.
type Conn struct {
	nc net.Conn

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Conn = (*Conn)(nil)

// New wraps an established net.Conn (from net.Dial or a net.Listener
// accept) in the overlay's framing.
func New(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Send writes one length-prefixed frame. ctx is honored via the
// connection's deadline rather than a background goroutine per call.
func (c *Conn) Send(ctx context.Context, b []byte) error {
	if len(b) > MaxMessageLength {
		return ErrFrameTooLarge
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(deadline)
	} else {
		_ = c.nc.SetWriteDeadline(time.Time{})
	}

	var header [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(b)))

	if _, err := c.nc.Write(header[:]); err != nil {
		return err
	}
	if _, err := c.nc.Write(b); err != nil {
		return err
	}
	return nil
}

// Receive reads the next length-prefixed frame. ctx's deadline, if any,
// becomes the read deadline; canceling a ctx does not interrupt a blocked
// read by itself. Close does.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetReadDeadline(deadline)
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}

	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(c.nc, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, transport.ErrClosed
		}
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxMessageLength {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, transport.ErrClosed
		}
		return nil, err
	}
	return buf, nil
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
