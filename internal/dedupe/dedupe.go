package dedupe

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultWindow     = 2000 * time.Millisecond
	DefaultBodyPrefix = 64
)

// Key 去重键的组成部分
type Key struct {
	Tag         string
	Method      string
	URI         string
	QueryString string
	PostData    string
	Body        string
}

type entry struct {
	key string
	at  time.Time
}

// Deduplicator 短窗口重复抑制，所有捕获路径共享同一实例
type Deduplicator struct {
	mu      sync.Mutex
	window  time.Duration
	prefix  int
	now     func() time.Time
	entries []entry
	index   map[string]struct{}
}

// Option 可选项
type Option func(*Deduplicator)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

// New 创建去重器，window/prefix 非正时使用默认值
func New(window time.Duration, prefix int, opts ...Option) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	if prefix <= 0 {
		prefix = DefaultBodyPrefix
	}
	d := &Deduplicator{
		window: window,
		prefix: prefix,
		now:    time.Now,
		index:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Build 生成去重键，响应体只取前缀
func (d *Deduplicator) Build(k Key) string {
	body := k.Body
	if len(body) > d.prefix {
		body = body[:d.prefix]
	}
	return strings.Join([]string{k.Tag, k.Method, k.URI, k.QueryString, k.PostData, body}, "|")
}

// Seen 先清理过期条目再检查；已存在返回 true（应抑制），否则记录并返回 false
func (d *Deduplicator) Seen(k Key) bool {
	key := d.Build(k)
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evict(now)
	if _, ok := d.index[key]; ok {
		return true
	}
	d.entries = append(d.entries, entry{key: key, at: now})
	d.index[key] = struct{}{}
	return false
}

// Len 当前存活条目数
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evict(d.now())
	return len(d.entries)
}

// entries 按记录时间递增排列，过期条目总在前部
func (d *Deduplicator) evict(now time.Time) {
	n := 0
	for n < len(d.entries) && now.Sub(d.entries[n].at) > d.window {
		delete(d.index, d.entries[n].key)
		n++
	}
	if n > 0 {
		d.entries = append(d.entries[:0], d.entries[n:]...)
	}
}
