package server

import (
	"sort"
	"time"
)

// DefaultHeartbeatTimeout 超过该时长没有任何数据即驱逐
const DefaultHeartbeatTimeout = 5 * time.Second

// Heartbeat 记录每个连接最后一次收到数据的时间。
// 状态：未见 → 存活（首次收到数据）→ 驱逐（Sweep 发现超时）。
type Heartbeat struct {
	timeout  time.Duration
	lastSeen map[string]time.Time
}

func NewHeartbeat(timeout time.Duration) *Heartbeat {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Heartbeat{timeout: timeout, lastSeen: make(map[string]time.Time)}
}

// Touch 收到任意数据时刷新时间戳（首次调用即创建记录）
func (h *Heartbeat) Touch(id string, now time.Time) {
	h.lastSeen[id] = now
}

// Forget 删除记录，可重复调用
func (h *Heartbeat) Forget(id string) {
	delete(h.lastSeen, id)
}

// Seen 返回最后收到数据的时间
func (h *Heartbeat) Seen(id string) (time.Time, bool) {
	t, ok := h.lastSeen[id]
	return t, ok
}

func (h *Heartbeat) Len() int { return len(h.lastSeen) }

// Sweep 删除并返回所有 now-lastSeen >= timeout 的 id（已排序，每个只出现一次）
func (h *Heartbeat) Sweep(now time.Time) []string {
	var evicted []string
	for id, seen := range h.lastSeen {
		if now.Sub(seen) >= h.timeout {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(h.lastSeen, id)
	}
	sort.Strings(evicted)
	return evicted
}
