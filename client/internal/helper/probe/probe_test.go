package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestProbe_Connected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	state := NewState()
	p := New(wsURL(srv), state)

	assert.True(t, p.Probe(context.Background()))
	assert.True(t, state.Connected())
	assert.False(t, state.LastChecked().IsZero())
}

func TestProbe_Refused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	state := NewState()
	state.set(true)

	p := New("ws://"+addr, state)
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, state.Connected())
}

func TestProbe_NotAWebsocket(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	state := NewState()
	assert.False(t, New(wsURL(srv), state).Probe(context.Background()))
	assert.False(t, state.Connected())
}

func TestCheck_Timeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	// accept but never answer the upgrade request
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	state := NewState()
	p := New("ws://"+l.Addr().String(), state, WithTimeout(100*time.Millisecond))

	start := time.Now()
	require.ErrorIs(t, p.Check(context.Background()), ErrProbeTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, state.Connected())
}

func TestState_MarkDisconnected(t *testing.T) {
	state := NewState()
	state.set(true)
	checked := state.LastChecked()

	state.MarkDisconnected()
	assert.False(t, state.Connected())
	assert.Equal(t, checked, state.LastChecked())
}
