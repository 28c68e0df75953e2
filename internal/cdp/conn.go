package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cdpbridge/internal/logger"
	"cdpbridge/internal/protocol"
	"cdpbridge/pkg/model"

	"github.com/gorilla/websocket"
)

var (
	// ErrConnectionClosed 调试连接已关闭（浏览器退出或网络中断）
	ErrConnectionClosed = errors.New("debug connection closed")
	// ErrDial 无法连接调试端点
	ErrDial = errors.New("dial debug endpoint")
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	inboundBuffer    = 256
)

// Transport 调试连接的最小接口，便于在测试中替换
type Transport interface {
	Send(method string, params any, sid model.SessionID) (int64, error)
	Messages() <-chan []byte
	Err() error
	Close() error
}

// Conn 到页面调试端点的原始 WebSocket 连接，自行分配命令 id
type Conn struct {
	ws      *websocket.Conn
	seq     atomic.Int64
	writeMu sync.Mutex
	msgs    chan []byte
	done    chan struct{}
	exited  chan struct{}
	err     error
	once    sync.Once
	log     logger.Logger
}

// Dial 连接 webSocketDebuggerUrl
func Dial(ctx context.Context, wsURL string, l logger.Logger) (*Conn, error) {
	if l == nil {
		l = logger.NewNop()
	}
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := d.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	c := &Conn{
		ws:     ws,
		msgs:   make(chan []byte, inboundBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		log:    l,
	}
	go c.readLoop()
	return c, nil
}

// Send 发送命令，sid 为空时发往根会话
func (c *Conn) Send(method string, params any, sid model.SessionID) (int64, error) {
	id := c.seq.Add(1)
	b, err := protocol.EncodeCommand(id, method, params, sid)
	if err != nil {
		return 0, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return id, nil
}

// Messages 入站帧，连接关闭后通道被关闭
func (c *Conn) Messages() <-chan []byte { return c.msgs }

// Err 连接关闭的原因，仅在 Messages 关闭后有效
func (c *Conn) Err() error { return c.err }

// Close 关闭连接并等待读协程退出
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	<-c.exited
	return err
}

func (c *Conn) readLoop() {
	defer close(c.exited)
	defer close(c.msgs)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			c.log.Debug("调试连接读取结束", "error", err)
			return
		}
		select {
		case c.msgs <- data:
		case <-c.done:
			c.err = ErrConnectionClosed
			return
		}
	}
}
