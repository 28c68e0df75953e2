package capture

import (
	"time"

	"cdpbridge/internal/handler"
	"cdpbridge/internal/logger"
	"cdpbridge/internal/rules"
	"cdpbridge/pkg/model"
	"cdpbridge/pkg/traffic"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mafredri/cdp/protocol/fetch"
)

const (
	defaultPendingTTL      = 2 * time.Minute
	defaultPendingCapacity = 4096
)

// Commander 在某个会话上发送调试命令，返回分配的命令 id
type Commander interface {
	Send(method string, params any, sid model.SessionID) (int64, error)
}

// Forwarder 接收已取得响应体的捕获
type Forwarder interface {
	Forward(c traffic.Capture) handler.Result
}

// Options 捕获行为
type Options struct {
	Intercept         bool
	ObserveAPI        bool
	InterceptPatterns []string
	PendingTTL        time.Duration
	PendingCapacity   int
	WatchSuffixes     []string
}

// Config 配置选项
type Config struct {
	Commander Commander
	Rules     *rules.Engine
	Forwarder Forwarder
	Logger    logger.Logger
	Options   Options
}

type requestKey struct {
	session model.SessionID
	id      string
}

type fetchKey struct {
	session model.SessionID
	id      int64
}

// PendingRequest 观察路径上已见到但尚未取回响应体的请求
type PendingRequest struct {
	Request  traffic.Request
	Captured bool
}

// PendingBodyFetch 已发出的取响应体命令
type PendingBodyFetch struct {
	Kind     model.CaptureKind
	Request  traffic.Request
	PausedID fetch.RequestID // 仅 api_fetch 有值
}

// Engine 单个调试连接上的捕获状态。
// 所有方法都应由该连接的事件循环调用，不做并发保护。
type Engine struct {
	cmd      Commander
	rules    *rules.Engine
	fwd      Forwarder
	log      logger.Logger
	opts     Options
	requests *expirable.LRU[requestKey, *PendingRequest]
	fetches  map[fetchKey]*PendingBodyFetch
}

// New 创建捕获引擎
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Options.PendingTTL <= 0 {
		cfg.Options.PendingTTL = defaultPendingTTL
	}
	if cfg.Options.PendingCapacity <= 0 {
		cfg.Options.PendingCapacity = defaultPendingCapacity
	}
	return &Engine{
		cmd:      cfg.Commander,
		rules:    cfg.Rules,
		fwd:      cfg.Forwarder,
		log:      cfg.Logger.With("engine", uuid.NewString()),
		opts:     cfg.Options,
		requests: expirable.NewLRU[requestKey, *PendingRequest](cfg.Options.PendingCapacity, nil, cfg.Options.PendingTTL),
		fetches:  make(map[fetchKey]*PendingBodyFetch),
	}
}

// PendingRequests 观察表中的条目数
func (e *Engine) PendingRequests() int { return e.requests.Len() }

// PendingFetches 未完成的取响应体命令数
func (e *Engine) PendingFetches() int { return len(e.fetches) }

// ForgetSession 会话分离后丢弃其所有未完成状态
func (e *Engine) ForgetSession(sid model.SessionID) {
	for _, k := range e.requests.Keys() {
		if k.session == sid {
			e.requests.Remove(k)
		}
	}
	for k := range e.fetches {
		if k.session == sid {
			delete(e.fetches, k)
		}
	}
}

// Close 连接关闭时丢弃全部状态，此时暂停中的请求已无法恢复
func (e *Engine) Close() {
	if n := len(e.fetches); n > 0 {
		e.log.Warn("连接关闭，丢弃未完成的取响应体命令", "count", n)
	}
	e.requests.Purge()
	e.fetches = make(map[fetchKey]*PendingBodyFetch)
}

func (e *Engine) fetchBody(sid model.SessionID, method string, params any, pf *PendingBodyFetch) error {
	id, err := e.cmd.Send(method, params, sid)
	if err != nil {
		return err
	}
	e.fetches[fetchKey{session: sid, id: id}] = pf
	return nil
}
