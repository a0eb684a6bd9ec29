package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"arenasync/protocol"
	"arenasync/server"
	"arenasync/transport"
)

// recorder 记录渲染调用，并校验“每个 id 恰好一个表示”
type recorder struct {
	t      *testing.T
	live   map[string]protocol.Vector3
	events []string
}

func newRecorder(t *testing.T) *recorder {
	return &recorder{t: t, live: map[string]protocol.Vector3{}}
}

func (r *recorder) Spawn(id string, pos protocol.Vector3) {
	_, dup := r.live[id]
	assert.False(r.t, dup, "spawned %s twice", id)
	r.live[id] = pos
	r.events = append(r.events, "spawn "+id)
}

func (r *recorder) Move(id string, pos protocol.Vector3) {
	_, ok := r.live[id]
	assert.True(r.t, ok, "moved unknown %s", id)
	r.live[id] = pos
}

func (r *recorder) Despawn(id string) {
	_, ok := r.live[id]
	assert.True(r.t, ok, "despawned unknown %s", id)
	delete(r.live, id)
	r.events = append(r.events, "despawn "+id)
}

type fixedInput protocol.Vector3

func (f *fixedInput) Sample() protocol.Vector3 { return protocol.Vector3(*f) }

func send(t *testing.T, l transport.Link, m protocol.Message) {
	t.Helper()
	b, err := protocol.Encode(m)
	require.NoError(t, err)
	require.True(t, l.Send(b))
}

func drain(t *testing.T, l transport.Link) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for {
		b, ok := l.Poll()
		if !ok {
			return out
		}
		m, err := protocol.Decode(b)
		require.NoError(t, err)
		out = append(out, m)
	}
}

func newAttached(t *testing.T) (*Client, *recorder, transport.Link) {
	rec := newRecorder(t)
	in := &fixedInput{}
	c := New(in, rec, Options{ReportInterval: 30 * time.Millisecond, ReportDelay: 100 * time.Millisecond, Logger: zaptest.NewLogger(t).Sugar()})
	local, remote := transport.Pipe(64)
	require.NoError(t, c.Attach(local))
	return c, rec, remote
}

func TestClientReconcilesMirror(t *testing.T) {
	c, rec, srv := newAttached(t)
	t0 := time.Unix(0, 0)

	send(t, srv, protocol.NewInternalID("1"))
	send(t, srv, protocol.NewSnapshot(protocol.OldClientsInfo, []protocol.PlayerState{{ID: "2", Position: protocol.Vector3{1, 0, 0}}}))
	send(t, srv, protocol.NewNewClient(protocol.PlayerState{ID: "3"}))
	require.NoError(t, c.Step(t0))

	assert.Equal(t, "1", c.ID())
	assert.Equal(t, map[string]protocol.Vector3{"2": {1, 0, 0}, "3": {}}, c.Players())

	send(t, srv, protocol.NewSnapshot(protocol.ServerUpdate, []protocol.PlayerState{
		{ID: "1", Position: protocol.Vector3{5, 5, 5}},
		{ID: "2", Position: protocol.Vector3{2, 0, 0}},
		{ID: "4", Position: protocol.Vector3{0, 0, 4}},
	}))
	require.NoError(t, c.Step(t0.Add(10*time.Millisecond)))
	assert.NotContains(t, c.Players(), "1", "self never mirrored")
	assert.Equal(t, protocol.Vector3{2, 0, 0}, c.Players()["2"])
	assert.Contains(t, c.Players(), "4", "unseen id spawned on snapshot")

	send(t, srv, protocol.NewDisconnected([]string{"2", "9"}))
	send(t, srv, protocol.NewDisconnected([]string{"2"}))
	require.NoError(t, c.Step(t0.Add(20*time.Millisecond)))
	assert.NotContains(t, c.Players(), "2")
	assert.Equal(t, rec.live, c.Players())
	assert.Equal(t, []string{"spawn 2", "spawn 3", "spawn 4", "despawn 2"}, rec.events)
}

func TestClientReportsOnlyAfterID(t *testing.T) {
	c, _, srv := newAttached(t)
	t0 := time.Unix(0, 0)

	require.NoError(t, c.Step(t0))
	require.NoError(t, c.Step(t0.Add(time.Second)))
	assert.Empty(t, drain(t, srv), "no reports without an id")

	send(t, srv, protocol.NewInternalID("7"))
	require.NoError(t, c.Step(t0.Add(2*time.Second)))
	assert.Empty(t, drain(t, srv), "initial report delay")

	var reports int
	for at := 2*time.Second + 100*time.Millisecond; at < 3*time.Second+100*time.Millisecond; at += 10 * time.Millisecond {
		require.NoError(t, c.Step(t0.Add(at)))
		for _, m := range drain(t, srv) {
			require.Equal(t, protocol.PlayerUpdate, m.Command)
			p, _ := m.Player()
			assert.Equal(t, "7", p.ID)
			reports++
		}
	}
	assert.InDelta(t, 34, reports, 1, "one report per 30ms over one second")
}

func TestClientIgnoresGarbage(t *testing.T) {
	c, _, srv := newAttached(t)
	require.True(t, srv.Send([]byte("{not json")))
	require.True(t, srv.Send([]byte(`{"cmd":"NOPE","payload":{}}`)))
	send(t, srv, protocol.NewPlayerUpdate(protocol.PlayerState{ID: "x"}))
	require.NoError(t, c.Step(time.Unix(0, 0)))
	assert.Equal(t, StateConnected, c.State())
	assert.Empty(t, c.Players())
}

func TestClientDisconnectDespawnsEveryone(t *testing.T) {
	c, rec, srv := newAttached(t)
	send(t, srv, protocol.NewInternalID("1"))
	send(t, srv, protocol.NewSnapshot(protocol.OldClientsInfo, []protocol.PlayerState{{ID: "2"}, {ID: "3"}}))
	srv.Close()

	err := c.Step(time.Unix(0, 0))
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, rec.live)
	assert.Equal(t, []string{"spawn 2", "spawn 3", "despawn 2", "despawn 3"}, rec.events)

	assert.ErrorIs(t, c.Step(time.Unix(1, 0)), ErrConnectionLost)
	local, _ := transport.Pipe(1)
	assert.Error(t, c.Attach(local), "no reconnection")
}

func TestClientConnectFailure(t *testing.T) {
	c := New(&fixedInput{}, newRecorder(t), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx, "ws://127.0.0.1:1/ws"))
	assert.Equal(t, StateDisconnected, c.State())
}

// pipeAcceptor 让服务端通过内存管道接入客户端
type pipeAcceptor struct{ pending []transport.Link }

func (p *pipeAcceptor) Accept() (transport.Link, bool) {
	if len(p.pending) == 0 {
		return nil, false
	}
	l := p.pending[0]
	p.pending = p.pending[1:]
	return l, true
}

func (p *pipeAcceptor) dial(t *testing.T, c *Client) {
	local, remote := transport.Pipe(256)
	require.NoError(t, c.Attach(local))
	p.pending = append(p.pending, remote)
}

func TestEndToEndWithSimulatedClock(t *testing.T) {
	acc := &pipeAcceptor{}
	srv := server.New(acc, server.Timing{
		Broadcast:        30 * time.Millisecond,
		HeartbeatTimeout: time.Second,
		Sweep:            100 * time.Millisecond,
	}, server.WithLogger(zaptest.NewLogger(t).Sugar()))

	opts := Options{ReportInterval: 30 * time.Millisecond}
	recA, recB := newRecorder(t), newRecorder(t)
	inA, inB := fixedInput{1, 2, 3}, fixedInput{4, 5, 6}
	a := New(&inA, recA, opts)
	b := New(&inB, recB, opts)

	t0 := time.Unix(100, 0)
	tick := func(at time.Duration, clients ...*Client) {
		now := t0.Add(at)
		srv.Step(now)
		for _, c := range clients {
			_ = c.Step(now)
		}
	}

	acc.dial(t, a)
	tick(0, a)
	require.NotEmpty(t, a.ID())
	assert.Empty(t, a.Players())

	acc.dial(t, b)
	var at time.Duration
	for at = 10 * time.Millisecond; at <= 200*time.Millisecond; at += 10 * time.Millisecond {
		tick(at, a, b)
	}
	assert.Equal(t, map[string]protocol.Vector3{b.ID(): {4, 5, 6}}, a.Players())
	assert.Equal(t, map[string]protocol.Vector3{a.ID(): {1, 2, 3}}, b.Players())

	// A 停止 Tick（不再上报），超时后 B 应销毁 A
	aID := a.ID()
	for ; at <= 2*time.Second; at += 10 * time.Millisecond {
		tick(at, b)
	}
	assert.Empty(t, b.Players())
	assert.Equal(t, []string{"spawn " + aID, "despawn " + aID}, recB.events)
	assert.Len(t, srv.Players(), 1)

	assert.ErrorIs(t, a.Step(t0.Add(at)), ErrConnectionLost, "evicted client sees the closed link")
}

func TestEndToEndOverWebsocket(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	l := transport.NewListener(8, transport.Options{})
	srv := server.New(l, server.Timing{Tick: 5 * time.Millisecond}, server.WithLogger(logger))
	hs := httptest.NewServer(l)
	defer hs.Close()
	url := "ws" + strings.TrimPrefix(hs.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(ctx) }()

	opts := Options{TickInterval: 5 * time.Millisecond, ReportInterval: 10 * time.Millisecond}
	inA, inB := fixedInput{1, 0, 0}, fixedInput{0, 0, 2}
	a := New(&inA, LogRenderer{Log: logger}, opts)
	b := New(&inB, LogRenderer{Log: logger}, opts)
	require.NoError(t, a.Connect(ctx, url))
	require.NoError(t, b.Connect(ctx, url))
	assert.Error(t, a.Connect(ctx, url), "already connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	var seen bool
	for time.Now().Before(deadline) && !seen {
		_ = b.Step(time.Now())
		for _, pos := range b.Players() {
			if pos == (protocol.Vector3{1, 0, 0}) {
				seen = true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, seen, "B never saw A's reported position")

	cancel()
	<-done
	require.NoError(t, <-srvDone)
	assert.Equal(t, StateDisconnected, a.State())
}
