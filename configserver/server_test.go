package configserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerAcceptsOneConfigAndShutsDown(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0"})

	ln, err := s.Listen()
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	body, err := json.Marshal(Config{Peers: []string{"127.0.0.1:9001"}, Port: 9002, ExecutionRPC: "http://localhost:8545"})
	assert.Nil(t, err)

	resp, err := http.Post("http://"+ln.Addr().String()+"/setup", "application/json", bytes.NewReader(body))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case cfg := <-s.Configs():
		assert.Equal(t, []string{"127.0.0.1:9001"}, cfg.Peers)
		assert.Equal(t, uint16(9002), cfg.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("config was never delivered")
	}

	select {
	case err := <-errCh:
		assert.Nil(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never shut down after accepting config")
	}
}

func TestServerRejectsMalformedBody(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0"})
	ln, err := s.Listen()
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, ln)

	resp, err := http.Post("http://"+ln.Addr().String()+"/setup", "application/json", bytes.NewReader([]byte("{not json")))
	assert.Nil(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
