package capture

import (
	adapter "cdpbridge/internal/adapter/cdp"
	"cdpbridge/internal/metrics"
	"cdpbridge/internal/protocol"
	"cdpbridge/pkg/model"

	"github.com/mafredri/cdp/protocol/fetch"
)

// Arm 在会话上按拦截模式开启 Fetch 域（响应阶段暂停）
func (e *Engine) Arm(sid model.SessionID) error {
	if !e.opts.Intercept || len(e.opts.InterceptPatterns) == 0 {
		return nil
	}
	patterns := make([]fetch.RequestPattern, 0, len(e.opts.InterceptPatterns))
	for _, p := range e.opts.InterceptPatterns {
		p := p
		patterns = append(patterns, fetch.RequestPattern{URLPattern: &p, RequestStage: fetch.RequestStageResponse})
	}
	_, err := e.cmd.Send(protocol.FetchEnable, &fetch.EnableArgs{Patterns: patterns}, sid)
	return err
}

// OnRequestPaused 处理暂停的请求。每个暂停的请求最终恰好恢复一次：
// 不需要捕获的立即 continueRequest，需要捕获的在响应体返回后 continueResponse。
func (e *Engine) OnRequestPaused(sid model.SessionID, ev *fetch.RequestPausedReply) {
	req := adapter.FromRequestPaused(ev)
	// 无状态码表示尚未收到响应（请求阶段或网络错误），不可取响应体
	if ev.ResponseStatusCode == nil || !e.rules.IsAPI(req.URL) {
		e.continueRequest(sid, ev.RequestID)
		return
	}

	pf := &PendingBodyFetch{Kind: model.KindAPIFetch, Request: req, PausedID: ev.RequestID}
	if err := e.fetchBody(sid, protocol.FetchGetResponseBody, &fetch.GetResponseBodyArgs{RequestID: ev.RequestID}, pf); err != nil {
		e.log.Err(err, "发送 Fetch.getResponseBody 失败", "url", req.URL)
		e.resume(sid, ev.RequestID)
	}
}

// Release 不做捕获直接放行暂停的请求
func (e *Engine) Release(sid model.SessionID, id fetch.RequestID) {
	e.continueRequest(sid, id)
}

func (e *Engine) continueRequest(sid model.SessionID, id fetch.RequestID) {
	metrics.Resumed.WithLabelValues(protocol.FetchContinueRequest).Inc()
	if _, err := e.cmd.Send(protocol.FetchContinueRequest, &fetch.ContinueRequestArgs{RequestID: id}, sid); err != nil {
		e.log.Err(err, "continueRequest 失败", "requestID", string(id))
	}
}

// resume 恢复响应阶段暂停的请求
func (e *Engine) resume(sid model.SessionID, id fetch.RequestID) {
	metrics.Resumed.WithLabelValues(protocol.FetchContinueResponse).Inc()
	if _, err := e.cmd.Send(protocol.FetchContinueResponse, &fetch.ContinueResponseArgs{RequestID: id}, sid); err != nil {
		e.log.Err(err, "continueResponse 失败", "requestID", string(id))
	}
}
