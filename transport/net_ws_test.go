package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestListener(t *testing.T, backlog int) (*Listener, string) {
	t.Helper()
	l := NewListener(backlog, Options{})
	srv := httptest.NewServer(l)
	t.Cleanup(func() {
		l.Close()
		srv.Close()
	})
	return l, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListenerAcceptAndRoundTrip(t *testing.T) {
	l, url := newTestListener(t, 4)

	_, ok := l.Accept()
	assert.False(t, ok, "no pending connections yet")

	client, err := Dial(context.Background(), url, Options{})
	require.NoError(t, err)
	defer client.Close()

	var server Link
	waitFor(t, func() bool {
		server, ok = l.Accept()
		return ok
	})

	require.True(t, client.Send([]byte("ping")))
	var got []byte
	waitFor(t, func() bool {
		got, ok = server.Poll()
		return ok
	})
	assert.Equal(t, "ping", string(got))

	require.True(t, server.Send([]byte("pong")))
	waitFor(t, func() bool {
		got, ok = client.Poll()
		return ok
	})
	assert.Equal(t, "pong", string(got))
}

func TestConnReportsPeerDisconnect(t *testing.T) {
	l, url := newTestListener(t, 4)

	client, err := Dial(context.Background(), url, Options{})
	require.NoError(t, err)

	var server Link
	var ok bool
	waitFor(t, func() bool {
		server, ok = l.Accept()
		return ok
	})
	assert.True(t, server.Alive())

	client.Close()
	assert.False(t, client.Alive())
	assert.False(t, client.Send([]byte("late")))
	waitFor(t, func() bool { return !server.Alive() })

	server.Close()
	server.Close()
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", Options{})
	assert.Error(t, err)
}

func TestPipe(t *testing.T) {
	a, b := Pipe(1)
	require.True(t, a.Send([]byte("x")))
	assert.False(t, a.Send([]byte("y")), "queue full drops")

	got, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, "x", string(got))
	_, ok = b.Poll()
	assert.False(t, ok)

	b.Close()
	assert.False(t, a.Alive())
	assert.False(t, a.Send([]byte("z")))
}
