package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_OrderedDelivery(t *testing.T) {
	a, b := Pipe()
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, a.Write([]byte(msg)))
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := b.Read()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestPipe_CloseDeliversInFlightThenEOF(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.Write([]byte("last")))
	require.NoError(t, a.Close())

	got, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, "last", string(got))

	_, err = b.Read()
	assert.ErrorIs(t, err, io.EOF)

	assert.ErrorIs(t, b.Write([]byte("x")), io.ErrClosedPipe)
	_, err = a.Read()
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.NoError(t, a.Close(), "close is idempotent")
}

func TestPipe_CloseUnblocksRead(t *testing.T) {
	a, _ := Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := a.Read()
		done <- err
	}()
	require.NoError(t, a.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnClosed)
	case <-time.After(waitTimeout):
		t.Fatal("Read did not unblock")
	}
}

func TestPipeListener_Down(t *testing.T) {
	l := NewPipeListener()
	l.SetDown(true)
	_, err := l.Dial(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))

	l.SetDown(false)
	c, err := l.Dial(context.Background())
	require.NoError(t, err)
	far, err := l.Accept(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Write([]byte("hi")))
	got, err := far.Read()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
	assert.Equal(t, 2, l.Dials())
}

func TestWebSocket_SessionRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	accepted := make(chan *Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- Accept(ctx, testConfig("server"), NewWebSocketConn(ws))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewSession(testConfig("client"), WebSocketDialer{URL: url})
	require.NoError(t, client.Connect(ctx))
	waitPhase(t, client, Connected)

	var server *Session
	select {
	case server = <-accepted:
	case <-time.After(waitTimeout):
		t.Fatal("server never accepted")
	}

	require.NoError(t, client.Send(syncRequest(t, "ws-1")))
	got := recv(t, server)
	assert.Equal(t, "ws-1", got.ID)
	assert.Equal(t, "doc", got.DocID)

	require.NoError(t, server.Send(syncRequest(t, "ws-2")))
	assert.Equal(t, "ws-2", recv(t, client).ID)

	client.Disconnect()
	waitPhase(t, server, Disconnected)
}

func TestWebSocketDialer_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := WebSocketDialer{URL: url}.Dial(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ")
}
