package rules

import (
	"regexp"
	"strings"
	"sync"
)

// Route 捕获响应的投递路由
type Route int

const (
	RouteNone      Route = iota
	RouteAPI             // 结构化 API 流量
	RouteAssetJSON       // 资源元数据（.json）
	RouteAsset           // 二进制资源
)

func (r Route) String() string {
	switch r {
	case RouteAPI:
		return "api"
	case RouteAssetJSON:
		return "asset_json"
	case RouteAsset:
		return "asset"
	default:
		return "none"
	}
}

// Mode 字符串匹配方式
type Mode string

const (
	ModeContains Mode = "contains"
	ModeRegex    Mode = "regex"
	ModeGlob     Mode = "glob"
)

// Condition 单个匹配条件
type Condition struct {
	Mode    Mode
	Pattern string
}

// Match 按条件匹配字符串，未知模式视为 contains
func (c Condition) Match(s string) bool {
	switch c.Mode {
	case ModeRegex:
		return matchRegex(s, c.Pattern)
	case ModeGlob:
		return Glob(s, c.Pattern)
	default:
		return strings.Contains(s, c.Pattern)
	}
}

// Config 规则配置
type Config struct {
	APIPath           string
	AssetPath         string
	InterceptPatterns []string
	AttachTypes       []string
	AttachHosts       []string
}

// Engine URL 分类规则
type Engine struct {
	api        Condition
	asset      Condition
	json       Condition
	intercepts []Condition
	attachType map[string]struct{}
	attachHost []string
}

// New 根据配置创建规则引擎
func New(cfg Config) *Engine {
	e := &Engine{
		api:        Condition{Mode: ModeContains, Pattern: cfg.APIPath},
		asset:      Condition{Mode: ModeContains, Pattern: cfg.AssetPath},
		json:       Condition{Mode: ModeRegex, Pattern: `(?i)\.json($|\?)`},
		attachType: make(map[string]struct{}, len(cfg.AttachTypes)),
	}
	for _, p := range cfg.InterceptPatterns {
		e.intercepts = append(e.intercepts, Condition{Mode: ModeGlob, Pattern: p})
	}
	for _, t := range cfg.AttachTypes {
		e.attachType[strings.ToLower(t)] = struct{}{}
	}
	for _, h := range cfg.AttachHosts {
		e.attachHost = append(e.attachHost, strings.ToLower(h))
	}
	return e
}

// IsAPI 是否为结构化 API 流量
func (e *Engine) IsAPI(url string) bool {
	return e.api.Pattern != "" && e.api.Match(url)
}

// IsAsset 是否为资源流量
func (e *Engine) IsAsset(url string) bool {
	return e.asset.Pattern != "" && e.asset.Match(url)
}

// Intercepted 是否被 Fetch 拦截模式覆盖
func (e *Engine) Intercepted(url string) bool {
	for _, c := range e.intercepts {
		if c.Match(url) {
			return true
		}
	}
	return false
}

// Classify 按 URL 形态决定路由，uri 为不含 scheme/host 的路径部分
func (e *Engine) Classify(url, uri string) Route {
	if e.IsAPI(url) {
		return RouteAPI
	}
	if e.IsAsset(url) {
		if e.json.Match(uri) {
			return RouteAssetJSON
		}
		return RouteAsset
	}
	return RouteNone
}

// AllowAttach 新发现的 target 是否需要显式附加
func (e *Engine) AllowAttach(typ, url string) bool {
	if _, ok := e.attachType[strings.ToLower(typ)]; !ok {
		return false
	}
	u := strings.ToLower(url)
	for _, h := range e.attachHost {
		if strings.Contains(u, h) {
			return true
		}
	}
	return false
}

// Glob 通配匹配，'*' 匹配任意长度（含 '/'），'?' 匹配单个字符
func Glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			si++
			pi++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star != -1:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

var regexCache sync.Map

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

func matchRegex(s, pattern string) bool {
	re, err := compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// MatchFilter 大小写不敏感的正则过滤，非法正则退化为子串匹配
func MatchFilter(s, filter string) bool {
	s = strings.ToLower(s)
	filter = strings.ToLower(filter)
	re, err := compile(filter)
	if err != nil {
		return strings.Contains(s, filter)
	}
	return re.MatchString(s)
}
