package relay

import (
	"context"

	"cdpbridge/pkg/model"
)

// Set 一组具名通道
type Set struct {
	order    []model.ChannelName
	channels map[model.ChannelName]*Channel
}

// NewSet 按给定顺序组织通道
func NewSet(chs ...*Channel) *Set {
	s := &Set{channels: make(map[model.ChannelName]*Channel, len(chs))}
	for _, c := range chs {
		s.order = append(s.order, c.Name())
		s.channels[c.Name()] = c
	}
	return s
}

// Get 按名称获取通道
func (s *Set) Get(name model.ChannelName) (*Channel, bool) {
	c, ok := s.channels[name]
	return c, ok
}

// Start 启动全部通道
func (s *Set) Start(ctx context.Context) {
	for _, n := range s.order {
		s.channels[n].Start(ctx)
	}
}

// Stop 停止全部通道
func (s *Set) Stop() {
	for _, n := range s.order {
		s.channels[n].Stop()
	}
}

// Channels 返回各通道状态
func (s *Set) Channels() []model.ChannelStatus {
	out := make([]model.ChannelStatus, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.channels[n].Status())
	}
	return out
}
