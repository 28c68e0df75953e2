package traffic

import (
	"net/url"
	"strings"

	"cdpbridge/pkg/model"
)

// Request 中立的请求模型，记录被观察到的请求元数据
type Request struct {
	ID       string // CDP requestId
	URL      string // 完整URL
	Method   string // HTTP方法
	PostData string // 原始请求体
}

// Capture 一次已获取到响应体的捕获
type Capture struct {
	Kind          model.CaptureKind
	Session       model.SessionID
	Request       Request
	Body          string
	Base64Encoded bool
}

// NewRequest 创建请求对象，方法缺省为 GET
func NewRequest(id, rawURL, method, postData string) Request {
	if method == "" {
		method = "GET"
	}
	return Request{ID: id, URL: rawURL, Method: method, PostData: postData}
}

// SplitURL 拆分出路径、带 "?" 的查询串以及解析后的查询参数
func SplitURL(raw string) (uri, queryString string, params map[string]string) {
	params = make(map[string]string)
	u, err := url.Parse(raw)
	if err != nil {
		// 无法解析时尽量按字符串切分
		if idx := strings.Index(raw, "?"); idx != -1 {
			return raw[:idx], raw[idx:], params
		}
		return raw, "", params
	}
	uri = u.EscapedPath()
	if u.RawQuery != "" {
		queryString = "?" + u.RawQuery
	}
	for key, vals := range u.Query() {
		if len(vals) > 0 {
			// 与 URLSearchParams 一致，重复键取最后一个
			params[key] = vals[len(vals)-1]
		}
	}
	return uri, queryString, params
}
