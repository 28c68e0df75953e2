package payload

import (
	"encoding/base64"
	"strings"
	"unicode"

	"cdpbridge/internal/rules"
	"cdpbridge/pkg/model"
	"cdpbridge/pkg/traffic"
)

const minBase64Len = 32

// Build 根据路由把捕获转换为下发消息
func Build(c traffic.Capture, route rules.Route) model.Payload {
	uri, qs, qp := traffic.SplitURL(c.Request.URL)
	p := model.Payload{
		Method:      c.Request.Method,
		URI:         uri,
		QueryString: qs,
		QueryParams: qp,
	}
	if p.Method == "" {
		p.Method = "GET"
	}

	switch route {
	case rules.RouteAPI:
		if c.Base64Encoded {
			p.Encoding = model.EncodingBase64
		}
		p.PostData = c.Request.PostData
		p.ResponseBody = c.Body
	case rules.RouteAssetJSON:
		p.Encoding = model.EncodingNone
		p.ResponseBody = rawText(c.Body, c.Base64Encoded)
	default:
		p.Encoding = model.EncodingBase64
		p.ResponseBody = EncodeAsset(c.Body, c.Base64Encoded)
	}
	return p
}

// EncodeAsset 二进制资源统一以 base64 下发，避免二次编码
func EncodeAsset(body string, base64Encoded bool) string {
	if base64Encoded || LooksLikeBase64(body) {
		return body
	}
	return base64.StdEncoding.EncodeToString([]byte(body))
}

// LooksLikeBase64 长度不少于 32、去空白后长度为 4 的倍数且只含 base64 字符
func LooksLikeBase64(s string) bool {
	if len(s) < minBase64Len {
		return false
	}
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if len(clean)%4 != 0 {
		return false
	}
	for i := 0; i < len(clean); i++ {
		c := clean[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=':
		default:
			return false
		}
	}
	return true
}

// rawText 元数据按原文下发，协议标记为 base64 时先解码
func rawText(body string, base64Encoded bool) string {
	if !base64Encoded {
		return body
	}
	b, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return body
	}
	return string(b)
}
