package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cdpbridge/internal/logger"
	"cdpbridge/internal/metrics"
	"cdpbridge/pkg/model"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultReconnectDelay  = time.Second
	defaultFallbackTimeout = 2 * time.Second
	defaultQueueSize       = 256
)

type state int

const (
	disconnected state = iota
	connected
)

// Config 通道配置
type Config struct {
	Name            model.ChannelName
	URL             string // websocket 地址
	Fallback        string // HTTP 兜底地址
	ReconnectDelay  time.Duration
	FallbackTimeout time.Duration
	QueueSize       int
	Logger          logger.Logger
	HTTPClient      *http.Client
	Dialer          *websocket.Dialer
}

// Channel 自动重连的出站 websocket，发送失败时退化为一次 HTTP POST
type Channel struct {
	name     model.ChannelName
	url      string
	fallback string
	delay    time.Duration
	timeout  time.Duration
	log      logger.Logger
	client   *http.Client
	dialer   *websocket.Dialer

	mu     sync.Mutex
	state  state
	conn   *websocket.Conn
	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	writeMu sync.Mutex
	queue   chan model.Payload
	wg      sync.WaitGroup

	sent      atomic.Int64
	fallbacks atomic.Int64
	sample    rate.Sometimes
}

// New 创建通道，需调用 Start 后才会连接
func New(cfg Config) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = defaultFallbackTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	}
	return &Channel{
		name:     cfg.Name,
		url:      cfg.URL,
		fallback: cfg.Fallback,
		delay:    cfg.ReconnectDelay,
		timeout:  cfg.FallbackTimeout,
		log:      cfg.Logger.With("channel", string(cfg.Name)),
		client:   cfg.HTTPClient,
		dialer:   cfg.Dialer,
		queue:    make(chan model.Payload, cfg.QueueSize),
		sample:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Name 通道名称
func (c *Channel) Name() model.ChannelName { return c.name }

// Start 开始连接并启动投递协程
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	metrics.ChannelReady.WithLabelValues(string(c.name)).Set(0)

	go c.open()
	c.wg.Add(1)
	go c.run()
}

// Stop 取消重连定时器并关闭连接
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = disconnected
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	metrics.ChannelReady.WithLabelValues(string(c.name)).Set(0)
}

// Ready socket 是否处于已连接状态
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connected
}

// Enqueue 非阻塞入队，队列满时丢弃
func (c *Channel) Enqueue(p model.Payload) bool {
	select {
	case c.queue <- p:
		return true
	default:
		metrics.Dropped.WithLabelValues(string(c.name), "queue_full").Inc()
		c.log.Warn("投递队列已满，丢弃消息", "uri", p.URI)
		return false
	}
}

// Send 已连接时走 socket，否则（或写失败时）POST 到兜底地址；兜底结果不再重试
func (c *Channel) Send(ctx context.Context, p model.Payload) (viaSocket bool) {
	data, err := json.Marshal(p)
	if err != nil {
		c.log.Err(err, "序列化消息失败", "uri", p.URI)
		return false
	}
	if c.writeSocket(data) {
		c.sent.Add(1)
		metrics.Forwarded.WithLabelValues(string(c.name), "socket").Inc()
		c.sample.Do(func() {
			c.log.Info("已发送", "uri", p.URI, "encoding", p.Encoding, "len", len(p.ResponseBody))
		})
		return true
	}
	c.post(ctx, data)
	c.fallbacks.Add(1)
	metrics.Forwarded.WithLabelValues(string(c.name), "fallback").Inc()
	c.log.Debug("已通过 HTTP 兜底发送", "uri", p.URI)
	return false
}

// Status 状态快照
func (c *Channel) Status() model.ChannelStatus {
	return model.ChannelStatus{
		Name:      c.name,
		URL:       c.url,
		Fallback:  c.fallback,
		Ready:     c.Ready(),
		Queued:    len(c.queue),
		Sent:      c.sent.Load(),
		Fallbacks: c.fallbacks.Load(),
	}
}

func (c *Channel) run() {
	defer c.wg.Done()
	ctx := c.context()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.queue:
			c.Send(ctx, p)
		}
	}
}

func (c *Channel) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Channel) writeSocket(data []byte) bool {
	c.mu.Lock()
	conn, st := c.conn, c.state
	c.mu.Unlock()
	if st != connected || conn == nil {
		return false
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err := conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn("socket 发送失败，改用 HTTP 兜底", "error", err)
		c.markDown(conn)
		return false
	}
	return true
}

func (c *Channel) post(ctx context.Context, data []byte) {
	if c.fallback == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fallback, bytes.NewReader(data))
	if err != nil {
		c.log.Err(err, "构造兜底请求失败")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("HTTP 兜底失败", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// open 尝试连接，失败则安排下一次重连
func (c *Channel) open() {
	c.mu.Lock()
	if c.closed || c.url == "" || c.ctx == nil {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.log.Debug("连接失败，稍后重试", "url", c.url, "error", err)
		c.schedule()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = connected
	c.mu.Unlock()

	metrics.ChannelReady.WithLabelValues(string(c.name)).Set(1)
	c.log.Info("通道已连接", "url", c.url)
	go c.readLoop(conn)
}

// readLoop 丢弃对端消息，仅用于感知断开
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	c.markDown(conn)
}

// markDown 切换到未连接状态并安排重连，同一连接只处理一次
func (c *Channel) markDown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = disconnected
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close()
	metrics.ChannelReady.WithLabelValues(string(c.name)).Set(0)
	if !closed {
		c.log.Info("通道已断开", "url", c.url)
		c.schedule()
	}
}

// schedule 先取消已有定时器再安排重连
func (c *Channel) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.delay, c.open)
}
