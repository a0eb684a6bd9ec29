package server

import (
	"strconv"

	"arenasync/protocol"
	"arenasync/transport"
)

// entry 注册表中的一条连接及其玩家状态
type entry struct {
	link  transport.Link
	state protocol.PlayerState
}

// Registry 连接注册表：id → 连接 + 玩家状态。
// 只由 Tick 线程访问，不加锁。
type Registry struct {
	nextID  uint64
	entries map[string]*entry
	order   []string // 插入顺序
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Add 登记新连接，分配新 id 并插入空的玩家状态。
// id 单调递增，进程生命周期内不会复用。
func (r *Registry) Add(link transport.Link) string {
	r.nextID++
	id := strconv.FormatUint(r.nextID, 10)
	r.entries[id] = &entry{link: link, state: protocol.PlayerState{ID: id}}
	r.order = append(r.order, id)
	return id
}

// Remove 删除玩家状态；id 不存在时为 no-op，返回是否删除
func (r *Registry) Remove(id string) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// UpdatePosition 覆盖位置；id 未知（例如刚被驱逐）时忽略
func (r *Registry) UpdatePosition(id string, pos protocol.Vector3) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.state.Position = pos
	return true
}

// Snapshot 返回当前所有玩家状态的副本（插入顺序）
func (r *Registry) Snapshot() []protocol.PlayerState {
	out := make([]protocol.PlayerState, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].state)
	}
	return out
}

// Dead 返回传输层已失效的连接 id（只检测，不删除）
func (r *Registry) Dead() []string {
	var dead []string
	for _, id := range r.order {
		if !r.entries[id].link.Alive() {
			dead = append(dead, id)
		}
	}
	return dead
}

func (r *Registry) Link(id string) (transport.Link, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.link, true
}

func (r *Registry) Len() int { return len(r.entries) }

func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Each 按插入顺序遍历；回调内不得增删条目
func (r *Registry) Each(fn func(id string, link transport.Link)) {
	for _, id := range r.order {
		fn(id, r.entries[id].link)
	}
}
