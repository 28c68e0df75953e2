package api

import (
	"context"

	"cdpbridge/internal/config"
	"cdpbridge/internal/logger"
	"cdpbridge/internal/service"
	"cdpbridge/pkg/model"
)

// Service 服务接口
type Service interface {
	// Run 运行到调试连接关闭或 ctx 取消
	Run(ctx context.Context) error

	// Channels 投递通道状态
	Channels() []model.ChannelStatus
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) Service {
	return service.New(cfg, l)
}
