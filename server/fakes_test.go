package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"arenasync/protocol"
	"arenasync/transport"
)

// fakeLink 内存连接；测试直接调用 Step，所以无需加锁
type fakeLink struct {
	in     [][]byte
	out    [][]byte
	dead   bool
	closed bool
	full   bool
}

func (f *fakeLink) Send(b []byte) bool {
	if f.dead || f.closed || f.full {
		return false
	}
	f.out = append(f.out, b)
	return true
}

func (f *fakeLink) Poll() ([]byte, bool) {
	if len(f.in) == 0 {
		return nil, false
	}
	b := f.in[0]
	f.in = f.in[1:]
	return b, true
}

func (f *fakeLink) Alive() bool { return !f.dead && !f.closed }

func (f *fakeLink) Close() { f.closed = true }

func (f *fakeLink) push(t *testing.T, m protocol.Message) {
	t.Helper()
	b, err := protocol.Encode(m)
	require.NoError(t, err)
	f.in = append(f.in, b)
}

// take 解码并清空已发出的消息
func (f *fakeLink) take(t *testing.T) []protocol.Message {
	t.Helper()
	out := make([]protocol.Message, 0, len(f.out))
	for _, b := range f.out {
		m, err := protocol.Decode(b)
		require.NoError(t, err)
		out = append(out, m)
	}
	f.out = nil
	return out
}

type fakeAcceptor struct {
	pending []transport.Link
	closed  bool
}

func (a *fakeAcceptor) Accept() (transport.Link, bool) {
	if len(a.pending) == 0 {
		return nil, false
	}
	l := a.pending[0]
	a.pending = a.pending[1:]
	return l, true
}

func (a *fakeAcceptor) Close() { a.closed = true }

type harness struct {
	t        *testing.T
	acceptor *fakeAcceptor
	srv      *Server
	start    time.Time
}

var testTiming = Timing{
	Tick:             10 * time.Millisecond,
	Broadcast:        30 * time.Millisecond,
	HeartbeatTimeout: 5 * time.Second,
	Sweep:            250 * time.Millisecond,
}

func newHarness(t *testing.T) *harness {
	acc := &fakeAcceptor{}
	return &harness{
		t:        t,
		acceptor: acc,
		srv:      New(acc, testTiming, WithLogger(zaptest.NewLogger(t).Sugar())),
		start:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (h *harness) connect() *fakeLink {
	l := &fakeLink{}
	h.acceptor.pending = append(h.acceptor.pending, l)
	return l
}

func (h *harness) step(at time.Duration) {
	h.srv.Step(h.start.Add(at))
}

// join 接入一个连接并返回分配的 id，清空其收到的握手消息
func (h *harness) join(at time.Duration) (*fakeLink, string) {
	l := h.connect()
	h.step(at)
	msgs := l.take(h.t)
	require.NotEmpty(h.t, msgs)
	require.Equal(h.t, protocol.InternalID, msgs[0].Command)
	p, ok := msgs[0].Player()
	require.True(h.t, ok)
	return l, p.ID
}

func commands(msgs []protocol.Message) []protocol.Command {
	out := make([]protocol.Command, len(msgs))
	for i, m := range msgs {
		out[i] = m.Command
	}
	return out
}

func only(msgs []protocol.Message, cmd protocol.Command) []protocol.Message {
	var out []protocol.Message
	for _, m := range msgs {
		if m.Command == cmd {
			out = append(out, m)
		}
	}
	return out
}
