package cdp

import (
	"context"
	"fmt"

	adapter "cdpbridge/internal/adapter/cdp"
	"cdpbridge/internal/capture"
	"cdpbridge/internal/logger"
	"cdpbridge/internal/protocol"
	"cdpbridge/internal/rules"
	"cdpbridge/internal/session"
	"cdpbridge/pkg/model"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/target"
)

// Config 会话管理器配置
type Config struct {
	Rules     *rules.Engine
	Forwarder capture.Forwarder
	Capture   capture.Options
	Logger    logger.Logger
}

// Manager 单个调试连接的会话管理：根会话握手、target 附加以及事件分发
type Manager struct {
	cfg      Config
	log      logger.Logger
	sessions *session.Manager
	conn     Transport
	engine   *capture.Engine
}

// New 创建会话管理器
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: session.NewManager(cfg.Logger),
	}
}

// Sessions 已附加会话表
func (m *Manager) Sessions() *session.Manager { return m.sessions }

// Run 连接调试端点并处理消息，直到连接关闭或 ctx 取消
func (m *Manager) Run(ctx context.Context, wsURL string) error {
	conn, err := Dial(ctx, wsURL, m.log)
	if err != nil {
		return err
	}
	defer conn.Close()
	m.log.Info("已连接调试端点", "url", wsURL)
	return m.Serve(ctx, conn)
}

// Serve 在已建立的连接上运行事件循环。连接上的所有状态只由本循环读写。
func (m *Manager) Serve(ctx context.Context, conn Transport) error {
	m.conn = conn
	m.engine = capture.New(capture.Config{
		Commander: conn,
		Rules:     m.cfg.Rules,
		Forwarder: m.cfg.Forwarder,
		Logger:    m.log,
		Options:   m.cfg.Capture,
	})
	defer func() {
		m.engine.Close()
		m.sessions.Clear()
	}()

	if err := m.handshake(); err != nil {
		_ = conn.Close()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return ctx.Err()
		case raw, ok := <-conn.Messages():
			if !ok {
				m.log.Warn("调试连接已关闭", "error", conn.Err())
				return fmt.Errorf("%w: %v", ErrConnectionClosed, conn.Err())
			}
			m.dispatch(raw)
		}
	}
}

// handshake 根会话初始化：开启观察、禁用缓存、发现并自动附加子 target
func (m *Manager) handshake() error {
	steps := []struct {
		method string
		params any
	}{
		{protocol.NetworkEnable, &network.EnableArgs{}},
		{protocol.NetworkSetCacheDisabled, &network.SetCacheDisabledArgs{CacheDisabled: true}},
		{protocol.NetworkClearBrowserCache, nil},
		{protocol.TargetSetDiscoverTargets, &target.SetDiscoverTargetsArgs{Discover: true}},
		{protocol.TargetSetAutoAttach, target.NewSetAutoAttachArgs(true, false).SetFlatten(true)},
	}
	for _, s := range steps {
		if _, err := m.conn.Send(s.method, s.params, model.RootSession); err != nil {
			return fmt.Errorf("handshake %s: %w", s.method, err)
		}
	}
	return nil
}

// initSession 新附加会话的初始化，失败只记录日志
func (m *Manager) initSession(sid model.SessionID) {
	steps := []struct {
		method string
		params any
	}{
		{protocol.NetworkEnable, &network.EnableArgs{}},
		{protocol.NetworkSetCacheDisabled, &network.SetCacheDisabledArgs{CacheDisabled: true}},
		{protocol.NetworkClearBrowserCache, nil},
	}
	for _, s := range steps {
		if _, err := m.conn.Send(s.method, s.params, sid); err != nil {
			m.log.Err(err, "会话初始化失败", "sessionID", string(sid), "method", s.method)
			return
		}
	}
	if err := m.engine.Arm(sid); err != nil {
		m.log.Err(err, "开启拦截失败", "sessionID", string(sid))
	}
}

type targetCreatedEvent struct {
	TargetInfo target.Info `json:"targetInfo"`
}

type attachedEvent struct {
	SessionID  target.SessionID `json:"sessionId"`
	TargetInfo target.Info      `json:"targetInfo"`
}

type detachedEvent struct {
	SessionID target.SessionID `json:"sessionId"`
}

// onTargetCreated 允许列表内的 target 显式附加（flatten）
func (m *Manager) onTargetCreated(msg *protocol.Message) {
	var ev targetCreatedEvent
	if err := msg.DecodeParams(&ev); err != nil {
		m.log.Debug("解析 targetCreated 失败", "error", err)
		return
	}
	t := adapter.FromTargetInfo(ev.TargetInfo)
	if !m.cfg.Rules.AllowAttach(t.Type, t.URL) {
		return
	}
	m.log.Info("发现目标，附加", "targetID", string(t.ID), "type", t.Type, "url", t.URL)
	args := target.NewAttachToTargetArgs(ev.TargetInfo.TargetID).SetFlatten(true)
	if _, err := m.conn.Send(protocol.TargetAttachToTarget, args, model.RootSession); err != nil {
		m.log.Err(err, "附加目标失败", "targetID", string(t.ID))
	}
}

// onAttached 登记会话并初始化，同一 target 可能因自动附加与显式附加得到两个会话
func (m *Manager) onAttached(msg *protocol.Message) {
	var ev attachedEvent
	if err := msg.DecodeParams(&ev); err != nil || ev.SessionID == "" {
		m.log.Debug("解析 attachedToTarget 失败", "error", err)
		return
	}
	sid := model.SessionID(ev.SessionID)
	if _, created := m.sessions.Create(sid, adapter.FromTargetInfo(ev.TargetInfo)); !created {
		return
	}
	m.initSession(sid)
}

func (m *Manager) onDetached(msg *protocol.Message) {
	var ev detachedEvent
	if err := msg.DecodeParams(&ev); err != nil || ev.SessionID == "" {
		return
	}
	sid := model.SessionID(ev.SessionID)
	if m.sessions.Delete(sid) {
		m.engine.ForgetSession(sid)
	}
}
