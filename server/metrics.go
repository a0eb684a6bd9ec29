package server

import (
	"sync/atomic"
)

// Metrics 记录会话服务器运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount       int64 // Tick 次数
	Accepted        int64 // 接入的连接数
	Disconnected    int64 // 传输层断开被清理的连接数
	Evicted         int64 // 心跳超时被驱逐的连接数
	Broadcasts      int64 // 全量快照广播次数
	MessagesIn      int64 // 收到的消息数
	DecodeErrors    int64 // 解码失败被丢弃的消息数
	UnknownCommands int64 // 无法识别的命令数
	SendDropped     int64 // 因发送队列满或连接失效被丢弃的消息数
	TotalTickNs     int64 // Tick 累计耗时（纳秒）
}

func (m *Metrics) IncAccepted()        { atomic.AddInt64(&m.Accepted, 1) }
func (m *Metrics) IncBroadcasts()      { atomic.AddInt64(&m.Broadcasts, 1) }
func (m *Metrics) IncMessagesIn()      { atomic.AddInt64(&m.MessagesIn, 1) }
func (m *Metrics) IncDecodeErrors()    { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) IncUnknownCommands() { atomic.AddInt64(&m.UnknownCommands, 1) }
func (m *Metrics) IncSendDropped()     { atomic.AddInt64(&m.SendDropped, 1) }
func (m *Metrics) AddDisconnected(n int) {
	atomic.AddInt64(&m.Disconnected, int64(n))
}
func (m *Metrics) AddEvicted(n int) { atomic.AddInt64(&m.Evicted, int64(n)) }
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":       tick,
		"accepted":         atomic.LoadInt64(&m.Accepted),
		"disconnected":     atomic.LoadInt64(&m.Disconnected),
		"evicted":          atomic.LoadInt64(&m.Evicted),
		"broadcasts":       atomic.LoadInt64(&m.Broadcasts),
		"messages_in":      atomic.LoadInt64(&m.MessagesIn),
		"decode_errors":    atomic.LoadInt64(&m.DecodeErrors),
		"unknown_commands": atomic.LoadInt64(&m.UnknownCommands),
		"send_dropped":     atomic.LoadInt64(&m.SendDropped),
		"avg_tick_ms":      avgMs,
	}
}
