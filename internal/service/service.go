package service

import (
	"context"
	"fmt"

	"cdpbridge/internal/capture"
	"cdpbridge/internal/cdp"
	"cdpbridge/internal/config"
	"cdpbridge/internal/dedupe"
	"cdpbridge/internal/handler"
	"cdpbridge/internal/logger"
	"cdpbridge/internal/metrics"
	"cdpbridge/internal/relay"
	"cdpbridge/internal/rules"
	"cdpbridge/internal/target"
	"cdpbridge/pkg/model"
)

// Service 组装各组件：发现并选择目标、启动投递通道、运行调试连接
type Service struct {
	cfg      *config.Config
	log      logger.Logger
	channels *relay.Set
	rules    *rules.Engine
}

// New 按配置创建服务
func New(cfg *config.Config, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	ch := func(name model.ChannelName, c config.ChannelConfig) *relay.Channel {
		return relay.New(relay.Config{
			Name:            name,
			URL:             c.URL,
			Fallback:        c.Fallback,
			ReconnectDelay:  cfg.Channels.ReconnectDelay,
			FallbackTimeout: cfg.Channels.FallbackTimeout,
			QueueSize:       cfg.Channels.QueueSize,
			Logger:          l,
		})
	}
	return &Service{
		cfg: cfg,
		log: l,
		channels: relay.NewSet(
			ch(model.ChannelAPI, cfg.Channels.API),
			ch(model.ChannelImage, cfg.Channels.Image),
			ch(model.ChannelImageJSON, cfg.Channels.ImageJSON),
		),
		rules: rules.New(rules.Config{
			APIPath:           cfg.Capture.APIPath,
			AssetPath:         cfg.Capture.AssetPath,
			InterceptPatterns: cfg.Capture.InterceptPatterns,
			AttachTypes:       cfg.CDP.AttachTypes,
			AttachHosts:       cfg.CDP.AttachHosts,
		}),
	}
}

// Channels 各投递通道的状态
func (s *Service) Channels() []model.ChannelStatus {
	return s.channels.Channels()
}

// Run 运行到调试连接关闭或 ctx 取消。调试连接关闭不会重连，由调用方决定退出。
func (s *Service) Run(ctx context.Context) error {
	targets, err := target.Discover(ctx, s.cfg.DevToolsURL(), s.log)
	if err != nil {
		return err
	}
	t, err := target.Select(targets, s.cfg.CDP.Filter)
	if err != nil {
		return err
	}
	s.log.Info("选中目标", "id", string(t.ID), "type", t.Type, "url", t.URL)

	s.channels.Start(ctx)
	defer s.channels.Stop()

	if s.cfg.Status.Listen != "" {
		if err := metrics.Serve(ctx, s.cfg.Status.Listen, metrics.NewRouter(s.channels), s.log); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
	}

	mgr := cdp.New(cdp.Config{
		Rules:     s.rules,
		Forwarder: s.forwarder(),
		Logger:    s.log,
		Capture: capture.Options{
			Intercept:         s.cfg.Capture.Intercept,
			ObserveAPI:        s.cfg.Capture.ObserveAPI,
			InterceptPatterns: s.cfg.Capture.InterceptPatterns,
			PendingTTL:        s.cfg.Capture.PendingTTL,
			PendingCapacity:   s.cfg.Capture.PendingCapacity,
			WatchSuffixes:     s.cfg.Capture.WatchSuffixes,
		},
	})
	return mgr.Run(ctx, t.WebSocketDebuggerURL)
}

func (s *Service) forwarder() *handler.Handler {
	sinks := make(map[rules.Route]handler.Sink, 3)
	for route, name := range map[rules.Route]model.ChannelName{
		rules.RouteAPI:       model.ChannelAPI,
		rules.RouteAsset:     model.ChannelImage,
		rules.RouteAssetJSON: model.ChannelImageJSON,
	} {
		if ch, ok := s.channels.Get(name); ok {
			sinks[route] = ch
		}
	}
	return handler.New(handler.Config{
		Rules:  s.rules,
		Dedupe: dedupe.New(s.cfg.Capture.DedupeWindow, s.cfg.Capture.BodyPrefix),
		Sinks:  sinks,
		Logger: s.log,
	})
}
