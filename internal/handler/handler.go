package handler

import (
	"cdpbridge/internal/dedupe"
	"cdpbridge/internal/logger"
	"cdpbridge/internal/metrics"
	"cdpbridge/internal/payload"
	"cdpbridge/internal/rules"
	"cdpbridge/pkg/model"
	"cdpbridge/pkg/traffic"
)

// Result 一次转发的最终结果
type Result string

const (
	ResultForwarded Result = "forwarded"
	ResultDuplicate Result = "duplicate"
	ResultUnrouted  Result = "unrouted"
	ResultDropped   Result = "dropped"
)

// Sink 投递目标，由通道实现
type Sink interface {
	Enqueue(p model.Payload) bool
}

// Handler 两条捕获路径共用的汇聚点：去重、分类、构建消息并路由到通道
type Handler struct {
	rules  *rules.Engine
	dedupe *dedupe.Deduplicator
	sinks  map[rules.Route]Sink
	log    logger.Logger
}

// Config 配置选项
type Config struct {
	Rules  *rules.Engine
	Dedupe *dedupe.Deduplicator
	Sinks  map[rules.Route]Sink
	Logger logger.Logger
}

// New 创建转发处理器
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Dedupe == nil {
		cfg.Dedupe = dedupe.New(dedupe.DefaultWindow, dedupe.DefaultBodyPrefix)
	}
	return &Handler{
		rules:  cfg.Rules,
		dedupe: cfg.Dedupe,
		sinks:  cfg.Sinks,
		log:    cfg.Logger,
	}
}

// Forward 处理一次捕获
func (h *Handler) Forward(c traffic.Capture) Result {
	uri, qs, _ := traffic.SplitURL(c.Request.URL)
	route := h.rules.Classify(c.Request.URL, uri)
	if route == rules.RouteNone {
		h.log.Debug("无匹配路由，忽略", "url", c.Request.URL, "kind", c.Kind)
		return ResultUnrouted
	}

	sink, ok := h.sinks[route]
	if !ok || sink == nil {
		h.log.Warn("路由未配置通道", "route", route.String(), "uri", uri)
		return ResultUnrouted
	}

	key := dedupe.Key{
		Tag:         c.Kind.Category(),
		Method:      c.Request.Method,
		URI:         uri,
		QueryString: qs,
		PostData:    c.Request.PostData,
		Body:        c.Body,
	}
	if h.dedupe.Seen(key) {
		metrics.Deduplicated.WithLabelValues(key.Tag).Inc()
		h.log.Debug("重复捕获，跳过发送", "uri", uri, "kind", c.Kind)
		return ResultDuplicate
	}

	p := payload.Build(c, route)
	if !sink.Enqueue(p) {
		return ResultDropped
	}
	if route == rules.RouteAPI {
		h.log.Info("已转发", "uri", uri, "kind", c.Kind, "base64", c.Base64Encoded)
	}
	return ResultForwarded
}
