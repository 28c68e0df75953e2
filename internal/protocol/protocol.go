package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"cdpbridge/pkg/model"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// 使用到的命令
const (
	NetworkEnable            = "Network.enable"
	NetworkSetCacheDisabled  = "Network.setCacheDisabled"
	NetworkClearBrowserCache = "Network.clearBrowserCache"
	NetworkGetResponseBody   = "Network.getResponseBody"
	FetchEnable              = "Fetch.enable"
	FetchGetResponseBody     = "Fetch.getResponseBody"
	FetchContinueRequest     = "Fetch.continueRequest"
	FetchContinueResponse    = "Fetch.continueResponse"
	TargetSetDiscoverTargets = "Target.setDiscoverTargets"
	TargetSetAutoAttach      = "Target.setAutoAttach"
	TargetAttachToTarget     = "Target.attachToTarget"
)

// 订阅的事件
const (
	EventRequestWillBeSent  = "Network.requestWillBeSent"
	EventResponseReceived   = "Network.responseReceived"
	EventLoadingFinished    = "Network.loadingFinished"
	EventLoadingFailed      = "Network.loadingFailed"
	EventRequestPaused      = "Fetch.requestPaused"
	EventTargetCreated      = "Target.targetCreated"
	EventAttachedToTarget   = "Target.attachedToTarget"
	EventDetachedFromTarget = "Target.detachedFromTarget"
)

// ErrMalformed 无法解析的入站消息
var ErrMalformed = errors.New("malformed message")

type command struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// EncodeCommand 序列化出站命令，非根会话时附加 sessionId（flatten 模式）
func EncodeCommand(id int64, method string, params any, sid model.SessionID) ([]byte, error) {
	if params == nil {
		params = struct{}{}
	}
	b, err := json.Marshal(command{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	if sid != model.RootSession {
		b, err = sjson.SetBytes(b, "sessionId", string(sid))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", method, err)
		}
	}
	return b, nil
}

// Message 入站消息：命令响应 {id, result} 或事件 {method, params}
type Message struct {
	ID      int64
	Method  string
	Session model.SessionID
	Params  gjson.Result
	Result  gjson.Result
	Error   gjson.Result

	hasID bool
}

// Decode 解析入站帧
func Decode(raw []byte) (*Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformed
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return nil, ErrMalformed
	}
	id := r.Get("id")
	return &Message{
		ID:      id.Int(),
		Method:  r.Get("method").String(),
		Session: model.SessionID(r.Get("sessionId").String()),
		Params:  r.Get("params"),
		Result:  r.Get("result"),
		Error:   r.Get("error"),
		hasID:   id.Exists(),
	}, nil
}

// IsResponse 带 id 且无 method 即为命令响应
func (m *Message) IsResponse() bool {
	return m.hasID && m.Method == ""
}

// DecodeParams 将事件参数解码到 v
func (m *Message) DecodeParams(v any) error {
	if !m.Params.IsObject() {
		return ErrMalformed
	}
	return json.Unmarshal([]byte(m.Params.Raw), v)
}

// Body 读取 getResponseBody 响应中的 body，body 不是字符串时 ok 为 false
func (m *Message) Body() (body string, base64Encoded bool, ok bool) {
	b := m.Result.Get("body")
	if b.Type != gjson.String {
		return "", false, false
	}
	return b.String(), m.Result.Get("base64Encoded").Bool(), true
}
