package server

import (
	"context"
	"time"

	"arenasync/config"
	"arenasync/protocol"
)

const (
	// DefaultTickInterval 调度频率（100 TPS），需要明显快于广播频率
	DefaultTickInterval = 10 * time.Millisecond
	// DefaultBroadcastInterval 全量快照广播间隔（约 33Hz）
	DefaultBroadcastInterval = 30 * time.Millisecond
	// DefaultSweepInterval 心跳扫描间隔，与广播节奏无关
	DefaultSweepInterval = 250 * time.Millisecond
)

// Timing 服务器的各项节奏
type Timing struct {
	Tick             time.Duration
	Broadcast        time.Duration
	HeartbeatTimeout time.Duration
	Sweep            time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.Tick <= 0 {
		t.Tick = DefaultTickInterval
	}
	if t.Broadcast <= 0 {
		t.Broadcast = DefaultBroadcastInterval
	}
	if t.HeartbeatTimeout <= 0 {
		t.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if t.Sweep <= 0 {
		t.Sweep = DefaultSweepInterval
	}
	return t
}

// TimingFromConfig 从配置文件读取节奏
func TimingFromConfig(cfg config.ServerConfig) Timing {
	return Timing{
		Tick:             cfg.TickInterval,
		Broadcast:        cfg.BroadcastInterval,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		Sweep:            cfg.SweepInterval,
	}.withDefaults()
}

// Run 启动 Tick 循环（单线程推进），ctx 取消后关闭所有连接并返回
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.timing.Tick)
	defer ticker.Stop()
	defer s.shutdown()

	s.log.Infow("session loop started",
		"tick", s.timing.Tick,
		"broadcast", s.timing.Broadcast,
		"heartbeat_timeout", s.timing.HeartbeatTimeout,
		"sweep", s.timing.Sweep,
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step(s.clock.Now())
		}
	}
}

// shutdown 释放监听端和所有连接
func (s *Server) shutdown() {
	if c, ok := s.acceptor.(interface{ Close() }); ok {
		c.Close()
	}
	ids := s.registry.IDs()
	s.drop(ids)
	empty := []protocol.PlayerState{}
	s.players.Store(&empty)
	s.log.Infow("session loop stopped", "closed", len(ids))
}
