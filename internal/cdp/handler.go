package cdp

import (
	"cdpbridge/internal/protocol"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// dispatch 按消息类型分发：命令响应交给关联器，事件交给对应处理函数
func (m *Manager) dispatch(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		m.log.Debug("丢弃无法解析的消息", "error", err, "size", len(raw))
		return
	}
	if msg.IsResponse() {
		m.engine.OnCommandResponse(msg)
		return
	}

	switch msg.Method {
	case protocol.EventTargetCreated:
		m.onTargetCreated(msg)
	case protocol.EventAttachedToTarget:
		m.onAttached(msg)
	case protocol.EventDetachedFromTarget:
		m.onDetached(msg)
	case protocol.EventRequestWillBeSent:
		var ev network.RequestWillBeSentReply
		if m.decode(msg, &ev) {
			m.engine.OnRequestWillBeSent(msg.Session, &ev)
		}
	case protocol.EventResponseReceived:
		var ev network.ResponseReceivedReply
		if m.decode(msg, &ev) {
			m.engine.OnResponseReceived(msg.Session, &ev)
		}
	case protocol.EventLoadingFinished:
		var ev network.LoadingFinishedReply
		if m.decode(msg, &ev) {
			m.engine.OnLoadingFinished(msg.Session, &ev)
		}
	case protocol.EventLoadingFailed:
		var ev network.LoadingFailedReply
		if m.decode(msg, &ev) {
			m.engine.OnLoadingFailed(msg.Session, &ev)
		}
	case protocol.EventRequestPaused:
		var ev fetch.RequestPausedReply
		if m.decode(msg, &ev) {
			m.engine.OnRequestPaused(msg.Session, &ev)
			return
		}
		// 参数无法完整解析时仍需放行，否则页面中的请求会一直挂起
		if id := msg.Params.Get("requestId").String(); id != "" {
			m.engine.Release(msg.Session, fetch.RequestID(id))
		}
	}
}

func (m *Manager) decode(msg *protocol.Message, v any) bool {
	if err := msg.DecodeParams(v); err != nil {
		m.log.Debug("解析事件失败", "method", msg.Method, "error", err)
		return false
	}
	return true
}
