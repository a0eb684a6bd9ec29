package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Link 一条按消息分帧的双向连接；所有方法都不阻塞，可在 Tick 线程中调用
type Link interface {
	// Send 将一条完整消息压入发送队列，队列满或连接已关闭时返回 false
	Send(b []byte) bool
	// Poll 取出一条已到达的消息，没有则 ok=false
	Poll() (b []byte, ok bool)
	// Alive 传输层是否仍认为连接有效
	Alive() bool
	// Close 关闭连接并释放资源，可重复调用
	Close()
}

// Options 连接参数
type Options struct {
	SendQueue    int
	RecvQueue    int
	ReadLimit    int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.RecvQueue <= 0 {
		o.RecvQueue = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 16
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Conn 基于 websocket 的 Link 实现：读写各一个协程，与 Tick 之间只通过通道交互
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	recv chan []byte
	done chan struct{}

	alive     atomic.Bool
	closeOnce sync.Once
	opts      Options
}

// NewConn 包装已建立的 websocket 连接并启动读写协程
func NewConn(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		ws:   ws,
		send: make(chan []byte, opts.SendQueue),
		recv: make(chan []byte, opts.RecvQueue),
		done: make(chan struct{}),
		opts: opts,
	}
	c.alive.Store(true)
	go c.writePump()
	go c.readPump()
	return c
}

// Send 非阻塞入队，满则丢弃（防止慢连接拖住 Tick）
func (c *Conn) Send(b []byte) bool {
	if !c.alive.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Conn) Poll() ([]byte, bool) {
	select {
	case b := <-c.recv:
		return b, true
	default:
		return nil, false
	}
}

func (c *Conn) Alive() bool { return c.alive.Load() }

// Close 标记失效、结束写协程并关闭底层连接
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *Conn) writePump() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.opts.Logger.Debugw("write failed", "remote", c.ws.RemoteAddr().String(), "err", err)
				return
			}
		}
	}
}

// readPump 读取对端消息放入 recv 队列；出错即视为断开
func (c *Conn) readPump() {
	defer c.Close()
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.opts.Logger.Debugw("read failed", "remote", c.ws.RemoteAddr().String(), "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		select {
		case c.recv <- payload:
		case <-c.done:
			return
		}
	}
}

// Listener 接收 websocket 升级请求，把新连接挂起直到 Tick 调用 Accept
type Listener struct {
	upgrader websocket.Upgrader
	pending  chan *Conn
	opts     Options

	mu     sync.Mutex
	closed bool
}

// NewListener backlog 为等待 Accept 的最大连接数
func NewListener(backlog int, opts Options) *Listener {
	if backlog <= 0 {
		backlog = 64
	}
	return &Listener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 不做鉴权：允许所有来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pending: make(chan *Conn, backlog),
		opts:    opts.withDefaults(),
	}
}

// ServeHTTP WebSocket 接入点
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.opts.Logger.Warnw("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := NewConn(ws, l.opts)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		c.Close()
		return
	}
	select {
	case l.pending <- c:
	default:
		l.opts.Logger.Warnw("accept backlog full, rejecting", "remote", r.RemoteAddr)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.Close()
	}
}

// Accept 非阻塞取出一个新连接
func (l *Listener) Accept() (Link, bool) {
	select {
	case c := <-l.pending:
		return c, true
	default:
		return nil, false
	}
}

// Close 拒绝后续接入并关闭尚未被接收的连接
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for {
		select {
		case c := <-l.pending:
			c.Close()
		default:
			return
		}
	}
}

// Dial 客户端建立连接
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewConn(ws, opts), nil
}
