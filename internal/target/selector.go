package target

import (
	"context"
	"errors"
	"fmt"

	"cdpbridge/internal/logger"
	"cdpbridge/internal/rules"
	"cdpbridge/pkg/model"

	"github.com/mafredri/cdp/devtool"
)

var (
	// ErrTargetNotFound 选中的 target 没有调试 WebSocket 地址（或列表为空）
	ErrTargetNotFound = errors.New("target not found")
	// ErrDiscovery 发现接口请求失败
	ErrDiscovery = errors.New("target discovery failed")
)

const (
	typePage    = "page"
	typeWebview = "webview"
)

// Discover 查询调试端口上的 target 列表
func Discover(ctx context.Context, devtoolsURL string, l logger.Logger) ([]model.Target, error) {
	if l == nil {
		l = logger.NewNop()
	}
	list, err := devtool.New(devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	targets := make([]model.Target, 0, len(list))
	for _, t := range list {
		targets = append(targets, model.Target{
			ID:                   model.TargetID(t.ID),
			Type:                 string(t.Type),
			Title:                t.Title,
			URL:                  t.URL,
			WebSocketDebuggerURL: t.WebSocketDebuggerURL,
		})
		l.Info("发现目标", "type", string(t.Type), "url", t.URL)
	}
	return targets, nil
}

// Select 按顺序选择：匹配过滤条件的 page/webview，任意 webview，任意 page，列表第一个
func Select(targets []model.Target, filter string) (model.Target, error) {
	picks := []func(model.Target) bool{
		func(t model.Target) bool {
			return (t.Type == typePage || t.Type == typeWebview) && rules.MatchFilter(t.URL, filter)
		},
		func(t model.Target) bool { return t.Type == typeWebview },
		func(t model.Target) bool { return t.Type == typePage },
		func(model.Target) bool { return true },
	}
	for _, pick := range picks {
		for _, t := range targets {
			if !pick(t) {
				continue
			}
			if t.WebSocketDebuggerURL == "" {
				return t, fmt.Errorf("%w: %s (%s) has no webSocketDebuggerUrl", ErrTargetNotFound, t.ID, t.Type)
			}
			return t, nil
		}
	}
	return model.Target{}, fmt.Errorf("%w: empty target list", ErrTargetNotFound)
}
