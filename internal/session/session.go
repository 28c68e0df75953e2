package session

import (
	"time"

	"cdpbridge/pkg/model"
)

// Session 一个已附加的调试会话
type Session struct {
	ID         model.SessionID
	TargetID   model.TargetID
	Type       string
	URL        string
	AttachedAt time.Time
}

// New 创建会话
func New(id model.SessionID, t model.Target) *Session {
	return &Session{
		ID:         id,
		TargetID:   t.ID,
		Type:       t.Type,
		URL:        t.URL,
		AttachedAt: time.Now(),
	}
}
