package model

type SessionID string
type TargetID string

// RootSession 根连接（未附加任何 target）对应的空会话
const RootSession SessionID = ""

// Target 发现接口返回的可调试浏览上下文快照
type Target struct {
	ID                   TargetID `json:"id"`
	Type                 string   `json:"type"`
	Title                string   `json:"title"`
	URL                  string   `json:"url"`
	WebSocketDebuggerURL string   `json:"webSocketDebuggerUrl"`
}

// CaptureKind 本文获取的来源标记
type CaptureKind string

const (
	KindAPI      CaptureKind = "api"       // Network 观察路径的 API 流量
	KindAPIFetch CaptureKind = "api_fetch" // Fetch 拦截路径的 API 流量
	KindAsset    CaptureKind = "asset"     // Network 观察路径的资源流量
)

// Category 返回去重使用的流量类别，两条 API 捕获路径归为同一类
func (k CaptureKind) Category() string {
	switch k {
	case KindAPI, KindAPIFetch:
		return "api"
	default:
		return string(k)
	}
}

// ChannelName 投递通道名称
type ChannelName string

const (
	ChannelAPI       ChannelName = "api"
	ChannelImage     ChannelName = "image"
	ChannelImageJSON ChannelName = "imageJson"
)

// Encoding 取值
const (
	EncodingNone   = ""
	EncodingBase64 = "base64"
)

// Payload 发往下游收集器的消息，构建后不可修改
type Payload struct {
	Method       string            `json:"method"`
	Encoding     string            `json:"encoding"`
	URI          string            `json:"uri"`
	QueryString  string            `json:"queryString"`
	QueryParams  map[string]string `json:"queryParams"`
	PostData     string            `json:"postData"`
	ResponseBody string            `json:"responseBody"`
}

// ChannelStatus 通道状态快照
type ChannelStatus struct {
	Name      ChannelName `json:"name"`
	URL       string      `json:"url"`
	Fallback  string      `json:"fallback"`
	Ready     bool        `json:"ready"`
	Queued    int         `json:"queued"`
	Sent      int64       `json:"sent"`
	Fallbacks int64       `json:"fallbacks"`
}
