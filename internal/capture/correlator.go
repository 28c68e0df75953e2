package capture

import (
	"cdpbridge/internal/metrics"
	"cdpbridge/internal/protocol"
	"cdpbridge/pkg/model"
	"cdpbridge/pkg/traffic"
)

// OnCommandResponse 将命令响应与未完成的取响应体命令配对。
// 未知 id（其他命令的响应）直接忽略；条目在任何结果下都会被移除。
func (e *Engine) OnCommandResponse(msg *protocol.Message) {
	key := fetchKey{session: msg.Session, id: msg.ID}
	pf, ok := e.fetches[key]
	if !ok {
		return
	}
	delete(e.fetches, key)

	if pf.Kind == model.KindAPIFetch {
		defer e.resume(msg.Session, pf.PausedID)
	}

	body, b64, ok := msg.Body()
	if !ok {
		metrics.BodyFetchFailures.WithLabelValues(string(pf.Kind)).Inc()
		e.log.Debug("未取得响应体", "url", pf.Request.URL, "kind", pf.Kind, "error", msg.Error.Get("message").String())
		return
	}
	metrics.Captures.WithLabelValues(string(pf.Kind)).Inc()

	e.fwd.Forward(traffic.Capture{
		Kind:          pf.Kind,
		Session:       msg.Session,
		Request:       pf.Request,
		Body:          body,
		Base64Encoded: b64,
	})
}
