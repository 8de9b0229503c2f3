package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dstack-tee/overlay/transport"
	"github.com/stretchr/testify/assert"
)

func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	assert.Nil(t, err)

	accepted := <-acceptedCh
	return New(dialed), New(accepted)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := []byte("hello overlay frame")
	assert.Nil(t, client.Send(ctx, msg))

	got, err := server.Receive(ctx)
	assert.Nil(t, err)
	assert.Equal(t, msg, got)
}

func TestReceiveReturnsClosedOnEOF(t *testing.T) {
	client, server := pipePair(t)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client.Close()

	_, err := server.Receive(ctx)
	assert.Equal(t, transport.ErrClosed, err)
}

func TestSendRejectsOversizedFrame(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	ctx := context.Background()
	big := make([]byte, MaxMessageLength+1)
	err := client.Send(ctx, big)
	assert.Equal(t, ErrFrameTooLarge, err)
}
