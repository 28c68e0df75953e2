package session

import (
	"sort"
	"sync"

	"cdpbridge/internal/logger"
	"cdpbridge/internal/metrics"
	"cdpbridge/pkg/model"
)

// Manager 调试连接上已附加会话的登记表
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SessionID]*Session),
		log:      l,
	}
}

// Create 登记新会话，同一 sessionId 重复登记时返回 false
func (m *Manager) Create(id model.SessionID, t model.Target) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s := New(id, t)
	m.sessions[id] = s
	metrics.Sessions.Set(float64(len(m.sessions)))
	m.log.Info("附加会话", "sessionID", string(id), "type", t.Type, "url", t.URL)
	return s, true
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 移除会话
func (m *Manager) Delete(id model.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	metrics.Sessions.Set(float64(len(m.sessions)))
	m.log.Info("会话已分离", "sessionID", string(id))
	return true
}

// List 按附加时间返回所有会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AttachedAt.Before(list[j].AttachedAt) })
	return list
}

// Len 会话数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Clear 清空所有会话，连接关闭时调用
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[model.SessionID]*Session)
	metrics.Sessions.Set(0)
}
