package capture

import (
	"strings"

	adapter "cdpbridge/internal/adapter/cdp"
	"cdpbridge/internal/protocol"
	"cdpbridge/pkg/model"

	"github.com/mafredri/cdp/protocol/network"
)

// OnRequestWillBeSent 记录请求元数据，相同 requestId（重定向）覆盖旧条目
func (e *Engine) OnRequestWillBeSent(sid model.SessionID, ev *network.RequestWillBeSentReply) {
	if ev.RequestID == "" || ev.Request.URL == "" {
		return
	}
	req := adapter.FromRequestWillBeSent(ev)
	if !e.rules.IsAPI(req.URL) && !e.rules.IsAsset(req.URL) {
		return
	}
	e.requests.Add(requestKey{session: sid, id: req.ID}, &PendingRequest{Request: req})
	e.watch(req.URL)
}

// OnResponseReceived 资源总是在此取响应体；API 仅在拦截路径不覆盖时取
func (e *Engine) OnResponseReceived(sid model.SessionID, ev *network.ResponseReceivedReply) {
	key := requestKey{session: sid, id: string(ev.RequestID)}
	pr, ok := e.requests.Get(key)
	if !ok || pr.Captured {
		return
	}
	url := pr.Request.URL
	switch {
	case e.rules.IsAPI(url):
		if !e.observesAPI(url) {
			e.requests.Remove(key)
			return
		}
		e.observe(sid, pr, model.KindAPI)
	case e.rules.IsAsset(url):
		e.observe(sid, pr, model.KindAsset)
		e.requests.Remove(key)
	default:
		e.requests.Remove(key)
	}
}

// OnLoadingFinished 未收到 responseReceived 的 API 请求在此补取响应体
func (e *Engine) OnLoadingFinished(sid model.SessionID, ev *network.LoadingFinishedReply) {
	key := requestKey{session: sid, id: string(ev.RequestID)}
	pr, ok := e.requests.Get(key)
	if !ok {
		return
	}
	e.requests.Remove(key)
	if pr.Captured {
		return
	}
	if e.rules.IsAPI(pr.Request.URL) && e.observesAPI(pr.Request.URL) {
		e.observe(sid, pr, model.KindAPI)
	}
}

// OnLoadingFailed 请求失败时丢弃条目
func (e *Engine) OnLoadingFailed(sid model.SessionID, ev *network.LoadingFailedReply) {
	e.requests.Remove(requestKey{session: sid, id: string(ev.RequestID)})
}

// observe 发出 Network.getResponseBody 并标记已捕获，保证每个请求至多取一次
func (e *Engine) observe(sid model.SessionID, pr *PendingRequest, kind model.CaptureKind) {
	pr.Captured = true
	args := &network.GetResponseBodyArgs{RequestID: network.RequestID(pr.Request.ID)}
	pf := &PendingBodyFetch{Kind: kind, Request: pr.Request}
	if err := e.fetchBody(sid, protocol.NetworkGetResponseBody, args, pf); err != nil {
		e.log.Err(err, "发送 getResponseBody 失败", "url", pr.Request.URL, "kind", kind)
	}
}

func (e *Engine) observesAPI(url string) bool {
	if e.opts.ObserveAPI || !e.opts.Intercept {
		return true
	}
	return !e.rules.Intercepted(url)
}

func (e *Engine) watch(url string) {
	for _, suffix := range e.opts.WatchSuffixes {
		if suffix != "" && strings.HasSuffix(url, suffix) {
			e.log.Info("检测到关注的请求", "url", url)
			return
		}
	}
}
