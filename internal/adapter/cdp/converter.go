package cdp

import (
	"cdpbridge/pkg/model"
	"cdpbridge/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/target"
)

// FromRequestWillBeSent 将观察路径的请求事件转换为中立 Request 模型
func FromRequestWillBeSent(ev *network.RequestWillBeSentReply) traffic.Request {
	return traffic.NewRequest(string(ev.RequestID), ev.Request.URL, ev.Request.Method, postData(ev.Request))
}

// FromRequestPaused 将拦截事件转换为中立 Request 模型，ID 为暂停请求的 id
func FromRequestPaused(ev *fetch.RequestPausedReply) traffic.Request {
	return traffic.NewRequest(string(ev.RequestID), ev.Request.URL, ev.Request.Method, postData(ev.Request))
}

// FromTargetInfo 将 Target 域事件中的 targetInfo 转换为 model.Target
func FromTargetInfo(ti target.Info) model.Target {
	return model.Target{
		ID:    model.TargetID(ti.TargetID),
		Type:  ti.Type,
		Title: ti.Title,
		URL:   ti.URL,
	}
}

func postData(req network.Request) string {
	if req.PostData != nil {
		return *req.PostData
	}
	return ""
}
