package transport

import (
	"sync"
	"sync/atomic"
)

// Pipe 返回一对内存中直连的 Link，一端 Send 的消息由另一端 Poll 取出。
// 用于不经过网络驱动服务端与客户端（测试、同进程机器人）。
func Pipe(queue int) (Link, Link) {
	if queue <= 0 {
		queue = 64
	}
	ab := make(chan []byte, queue)
	ba := make(chan []byte, queue)
	state := &pipeState{}
	a := &pipeEnd{in: ba, out: ab, state: state}
	b := &pipeEnd{in: ab, out: ba, state: state}
	return a, b
}

type pipeState struct {
	closed atomic.Bool
	once   sync.Once
}

type pipeEnd struct {
	in    chan []byte
	out   chan []byte
	state *pipeState
}

func (p *pipeEnd) Send(b []byte) bool {
	if p.state.closed.Load() {
		return false
	}
	select {
	case p.out <- b:
		return true
	default:
		return false
	}
}

func (p *pipeEnd) Poll() ([]byte, bool) {
	select {
	case b := <-p.in:
		return b, true
	default:
		return nil, false
	}
}

func (p *pipeEnd) Alive() bool { return !p.state.closed.Load() }

// Close 关闭任一端即两端同时失效
func (p *pipeEnd) Close() {
	p.state.once.Do(func() { p.state.closed.Store(true) })
}
