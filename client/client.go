package client

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"arenasync/protocol"
	"arenasync/transport"
)

// ErrConnectionLost 服务端关闭或传输层断开
var ErrConnectionLost = errors.New("connection lost")

// State 客户端连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// InputProvider 本地输入来源，每次采样返回当前位置
type InputProvider interface {
	Sample() protocol.Vector3
}

// Renderer 外部渲染协作者：每个在线 id 恰好一个表示
type Renderer interface {
	Spawn(id string, pos protocol.Vector3)
	Move(id string, pos protocol.Vector3)
	Despawn(id string)
}

// Options 客户端节奏与传输参数
type Options struct {
	TickInterval   time.Duration
	ReportInterval time.Duration
	// ReportDelay 拿到 id 后延迟多久开始上报
	ReportDelay time.Duration
	Transport   transport.Options
	Logger      *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 10 * time.Millisecond
	}
	if o.ReportInterval <= 0 {
		o.ReportInterval = 30 * time.Millisecond
	}
	if o.ReportDelay < 0 {
		o.ReportDelay = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Client 会话客户端：单连接，状态只在 Step 所在的协程中修改
type Client struct {
	input    InputProvider
	renderer Renderer
	opts     Options
	log      *zap.SugaredLogger

	state atomic.Int32
	link  transport.Link

	selfID     string
	assignedAt time.Time
	lastReport time.Time
	reporting  bool
	mirror     map[string]protocol.Vector3
}

func New(input InputProvider, renderer Renderer, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		input:    input,
		renderer: renderer,
		opts:     opts,
		log:      opts.Logger,
		mirror:   make(map[string]protocol.Vector3),
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

// ID 服务端分配的 id；尚未分配时为空
func (c *Client) ID() string { return c.selfID }

// Connect 拨号并进入 Connected；同一个 Client 只能连接一次
func (c *Client) Connect(ctx context.Context, url string) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) || c.link != nil {
		return errors.Errorf("client already %s", c.State())
	}
	link, err := transport.Dial(ctx, url, c.opts.Transport)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}
	c.link = link
	c.state.Store(int32(StateConnected))
	c.log.Infow("connected to server", "url", url)
	return nil
}

// Attach 使用已建立的连接（内存管道或自定义传输）
func (c *Client) Attach(link transport.Link) error {
	if c.State() != StateDisconnected || c.link != nil {
		return errors.Errorf("client already %s", c.State())
	}
	c.link = link
	c.state.Store(int32(StateConnected))
	return nil
}

// Step 处理所有已到达的服务端消息，然后按节奏上报本地位置
func (c *Client) Step(now time.Time) error {
	if c.State() != StateConnected {
		return ErrConnectionLost
	}
	for {
		b, ok := c.link.Poll()
		if !ok {
			break
		}
		c.handle(b, now)
	}
	if !c.link.Alive() {
		c.teardown()
		c.log.Infow("client got disconnected from server", "id", c.selfID)
		return ErrConnectionLost
	}
	c.report(now)
	return nil
}

func (c *Client) handle(b []byte, now time.Time) {
	msg, err := protocol.Decode(b)
	if err != nil {
		c.log.Warnw("discarding server message", "err", err)
		return
	}

	switch msg.Command {
	case protocol.InternalID:
		p, _ := msg.Player()
		if p.ID == "" {
			c.log.Warnw("empty internal id")
			return
		}
		c.selfID = p.ID
		c.assignedAt = now
		c.forget(p.ID)
		c.log.Infow("internal id assigned", "id", p.ID)
	case protocol.OldClientsInfo, protocol.ServerUpdate:
		players, _ := msg.Players()
		for _, p := range players {
			c.upsert(p)
		}
	case protocol.NewClientsInfo:
		p, _ := msg.Player()
		c.upsert(p)
	case protocol.Disconnected:
		ids, _ := msg.DeleteIDs()
		for _, id := range ids {
			c.forget(id)
		}
	default:
		c.log.Debugw("unrecognized message received", "cmd", msg.Command.String())
	}
}

// upsert 首次出现时创建表示，之后只更新位置；自身不进入镜像
func (c *Client) upsert(p protocol.PlayerState) {
	if p.ID == "" || p.ID == c.selfID {
		return
	}
	if _, ok := c.mirror[p.ID]; ok {
		c.mirror[p.ID] = p.Position
		c.renderer.Move(p.ID, p.Position)
		return
	}
	c.mirror[p.ID] = p.Position
	c.renderer.Spawn(p.ID, p.Position)
}

// forget 每个 id 只销毁一次
func (c *Client) forget(id string) {
	if _, ok := c.mirror[id]; !ok {
		return
	}
	delete(c.mirror, id)
	c.renderer.Despawn(id)
}

// report 只有在拿到 id 之后才上报，否则更新无法寻址
func (c *Client) report(now time.Time) {
	if c.selfID == "" {
		return
	}
	if !c.reporting {
		if now.Sub(c.assignedAt) < c.opts.ReportDelay {
			return
		}
		c.reporting = true
	} else if now.Sub(c.lastReport) < c.opts.ReportInterval {
		return
	}
	c.lastReport = now

	b, err := protocol.Encode(protocol.NewPlayerUpdate(protocol.PlayerState{ID: c.selfID, Position: c.input.Sample()}))
	if err != nil {
		c.log.Errorw("encode player update", "err", err)
		return
	}
	if !c.link.Send(b) {
		c.log.Debugw("player update dropped")
	}
}

// teardown 关闭连接并销毁所有镜像玩家
func (c *Client) teardown() {
	c.state.Store(int32(StateDisconnected))
	if c.link != nil {
		c.link.Close()
	}
	ids := make([]string, 0, len(c.mirror))
	for id := range c.mirror {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.forget(id)
	}
}

// Run 固定频率驱动 Step；ctx 取消时主动断开并返回 nil
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if c.State() == StateConnected {
				c.teardown()
			}
			return nil
		case now := <-ticker.C:
			if err := c.Step(now); err != nil {
				return err
			}
		}
	}
}

// Players 镜像中其他玩家的副本；与 Run 并发调用不安全
func (c *Client) Players() map[string]protocol.Vector3 {
	out := make(map[string]protocol.Vector3, len(c.mirror))
	for id, pos := range c.mirror {
		out[id] = pos
	}
	return out
}
