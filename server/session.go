package server

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"arenasync/protocol"
	"arenasync/transport"
)

// Acceptor 非阻塞地提供新接入的连接
type Acceptor interface {
	Accept() (transport.Link, bool)
}

// Clock 时间来源，测试中可替换为模拟时钟
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Option 服务器可选配置
type Option func(*Server)

func WithClock(c Clock) Option { return func(s *Server) { s.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(s *Server) { s.log = l } }

func WithMetrics(m *Metrics) Option { return func(s *Server) { s.metrics = m } }

// Server 权威会话服务器：注册表与心跳只在 Tick 线程中读写，不加锁
type Server struct {
	acceptor Acceptor
	timing   Timing
	clock    Clock
	log      *zap.SugaredLogger
	metrics  *Metrics

	registry  *Registry
	heartbeat *Heartbeat

	started       bool
	lastBroadcast time.Time
	lastSweep     time.Time

	// 供 HTTP 管理接口跨协程读取的只读副本
	players atomic.Pointer[[]protocol.PlayerState]
}

// New 创建会话服务器；acceptor 通常是 *transport.Listener
func New(acceptor Acceptor, timing Timing, opts ...Option) *Server {
	timing = timing.withDefaults()
	s := &Server{
		acceptor:  acceptor,
		timing:    timing,
		clock:     ClockFunc(time.Now),
		log:       Log,
		metrics:   &Metrics{},
		registry:  NewRegistry(),
		heartbeat: NewHeartbeat(timing.HeartbeatTimeout),
	}
	for _, opt := range opts {
		opt(s)
	}
	empty := []protocol.PlayerState{}
	s.players.Store(&empty)
	return s
}

// Step 执行一次 Tick：清理 → 接入 → 读取分发 → 定时广播 → 心跳扫描。
// 后面的阶段能看到前面阶段在同一 Tick 内的修改。
func (s *Server) Step(now time.Time) {
	start := time.Now()
	if !s.started {
		s.started = true
		s.lastBroadcast = now
		s.lastSweep = now
	}

	s.prune()
	s.acceptPending()
	s.readAll(now)

	if now.Sub(s.lastBroadcast) >= s.timing.Broadcast {
		s.broadcast()
		next := s.lastBroadcast.Add(s.timing.Broadcast)
		if now.Sub(next) >= s.timing.Broadcast {
			// 落后超过一个周期（Tick 卡顿），不补发，直接对齐到当前
			next = now
		}
		s.lastBroadcast = next
	}
	if now.Sub(s.lastSweep) >= s.timing.Sweep {
		s.lastSweep = now
		s.sweep(now)
	}

	snapshot := s.registry.Snapshot()
	s.players.Store(&snapshot)
	s.metrics.AddTick(time.Since(start).Nanoseconds())
}

// prune 移除传输层已断开的连接，必须先于任何其他注册表读取
func (s *Server) prune() {
	dead := s.registry.Dead()
	if len(dead) == 0 {
		return
	}
	s.drop(dead)
	s.metrics.AddDisconnected(len(dead))
	s.log.Infow("clients disconnected", "ids", dead, "remaining", s.registry.Len())
	s.notifyDisconnected(dead)
}

// acceptPending 接入所有挂起的连接（同一 Tick 内可能到达多个）
func (s *Server) acceptPending() {
	for {
		link, ok := s.acceptor.Accept()
		if !ok {
			return
		}
		if !link.Alive() {
			// 等待接入期间已断开
			link.Close()
			continue
		}
		s.accept(link)
	}
}

func (s *Server) accept(link transport.Link) {
	existing := s.registry.Snapshot()
	id := s.registry.Add(link)
	s.metrics.IncAccepted()

	s.sendTo(id, link, protocol.NewInternalID(id))
	s.sendTo(id, link, protocol.NewSnapshot(protocol.OldClientsInfo, existing))

	notice, err := protocol.Encode(protocol.NewNewClient(protocol.PlayerState{ID: id}))
	if err != nil {
		s.log.Errorw("encode new client notice", "id", id, "err", err)
		return
	}
	s.registry.Each(func(other string, l transport.Link) {
		if other != id {
			s.send(other, l, notice)
		}
	})
	s.log.Infow("client connected", "id", id, "players", s.registry.Len())
}

// readAll 取空每个连接的入站队列
func (s *Server) readAll(now time.Time) {
	s.registry.Each(func(id string, link transport.Link) {
		for {
			b, ok := link.Poll()
			if !ok {
				return
			}
			s.handle(id, b, now)
		}
	})
}

func (s *Server) handle(id string, b []byte, now time.Time) {
	s.metrics.IncMessagesIn()
	// 任何数据都算心跳，包括无法解析的消息
	s.heartbeat.Touch(id, now)

	msg, err := protocol.Decode(b)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownCommand) {
			s.metrics.IncUnknownCommands()
			s.log.Warnw("ignoring unknown command", "id", id, "err", err)
			return
		}
		s.metrics.IncDecodeErrors()
		s.log.Warnw("discarding malformed message", "id", id, "err", err)
		return
	}

	switch msg.Command {
	case protocol.PlayerUpdate:
		p, _ := msg.Player()
		if p.ID != "" && p.ID != id {
			// 以连接身份为准，忽略载荷中的 id
			s.log.Debugw("player update carries foreign id", "id", id, "claimed", p.ID)
		}
		s.registry.UpdatePosition(id, p.Position)
	case protocol.Handshake:
		s.log.Debugw("handshake received", "id", id)
	case protocol.PlayerInput:
		in, _ := msg.Input()
		s.log.Debugw("player input received", "id", id, "input", in)
	default:
		s.metrics.IncUnknownCommands()
		s.log.Warnw("unexpected command from client", "id", id, "cmd", msg.Command.String())
	}
}

// broadcast 向所有连接发送全量快照
func (s *Server) broadcast() {
	b, err := protocol.Encode(protocol.NewSnapshot(protocol.ServerUpdate, s.registry.Snapshot()))
	if err != nil {
		s.log.Errorw("encode snapshot", "err", err)
		return
	}
	s.metrics.IncBroadcasts()
	s.registry.Each(func(id string, link transport.Link) {
		s.send(id, link, b)
	})
}

// sweep 驱逐心跳超时的连接，并把 id 批次通知给剩余连接
func (s *Server) sweep(now time.Time) {
	expired := s.heartbeat.Sweep(now)
	evicted := expired[:0]
	for _, id := range expired {
		if _, ok := s.registry.Link(id); ok {
			evicted = append(evicted, id)
		}
	}
	if len(evicted) == 0 {
		return
	}
	s.drop(evicted)
	s.metrics.AddEvicted(len(evicted))
	s.log.Infow("clients evicted by heartbeat", "ids", evicted, "timeout", s.timing.HeartbeatTimeout)
	s.notifyDisconnected(evicted)
}

// drop 关闭连接并同时删除玩家状态和心跳记录；重复调用无副作用
func (s *Server) drop(ids []string) {
	for _, id := range ids {
		if link, ok := s.registry.Link(id); ok {
			link.Close()
		}
		s.registry.Remove(id)
		s.heartbeat.Forget(id)
	}
}

// notifyDisconnected 通知剩余连接；批次中的 id 永远收不到自己的断开通知
func (s *Server) notifyDisconnected(ids []string) {
	b, err := protocol.Encode(protocol.NewDisconnected(ids))
	if err != nil {
		s.log.Errorw("encode disconnect notice", "err", err)
		return
	}
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}
	s.registry.Each(func(id string, link transport.Link) {
		if _, skip := gone[id]; skip {
			return
		}
		s.send(id, link, b)
	})
}

func (s *Server) sendTo(id string, link transport.Link, m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		s.log.Errorw("encode message", "id", id, "cmd", m.Command.String(), "err", err)
		return
	}
	s.send(id, link, b)
}

// send 尽力而为，失败只记录不重试
func (s *Server) send(id string, link transport.Link, b []byte) {
	if !link.Send(b) {
		s.metrics.IncSendDropped()
		s.log.Debugw("send dropped", "id", id)
	}
}

// Players 最近一次 Tick 结束时的玩家列表，可跨协程调用
func (s *Server) Players() []protocol.PlayerState {
	p := s.players.Load()
	out := make([]protocol.PlayerState, len(*p))
	copy(out, *p)
	return out
}

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) Timing() Timing { return s.timing }
