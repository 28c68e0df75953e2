package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cdpbridge/internal/capture"
	"cdpbridge/internal/dedupe"
	"cdpbridge/internal/handler"
	"cdpbridge/internal/protocol"
	"cdpbridge/internal/rules"
	"cdpbridge/pkg/model"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

type sent struct {
	id      int64
	method  string
	session model.SessionID
	params  string
}

type fakeTransport struct {
	mu   sync.Mutex
	seq  int64
	sent []sent
	msgs chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: make(chan []byte, 64)}
}

func (f *fakeTransport) Send(method string, params any, sid model.SessionID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	b, err := protocol.EncodeCommand(f.seq, method, params, sid)
	if err != nil {
		return 0, err
	}
	f.sent = append(f.sent, sent{id: f.seq, method: method, session: sid, params: gjson.GetBytes(b, "params").Raw})
	return f.seq, nil
}

func (f *fakeTransport) Messages() <-chan []byte { return f.msgs }
func (f *fakeTransport) Err() error              { return errors.New("eof") }
func (f *fakeTransport) Close() error            { return nil }

func (f *fakeTransport) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeTransport) find(method string, sid model.SessionID) (sent, bool) {
	for _, s := range f.snapshot() {
		if s.method == method && s.session == sid {
			return s, true
		}
	}
	return sent{}, false
}

type recordSink struct {
	mu  sync.Mutex
	got []model.Payload
}

func (s *recordSink) Enqueue(p model.Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, p)
	return true
}

func (s *recordSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func newTestManager(api *recordSink) *Manager {
	r := rules.New(rules.Config{
		APIPath:           "/kcsapi/",
		AssetPath:         "/kcs2/",
		InterceptPatterns: []string{"*://*/kcsapi/*"},
		AttachTypes:       []string{"webview"},
		AttachHosts:       []string{"play.games.dmm.com", "kancolle"},
	})
	fwd := handler.New(handler.Config{
		Rules:  r,
		Dedupe: dedupe.New(2*time.Second, 64),
		Sinks:  map[rules.Route]handler.Sink{rules.RouteAPI: api},
	})
	return New(Config{
		Rules:     r,
		Forwarder: fwd,
		Capture: capture.Options{
			Intercept:         true,
			InterceptPatterns: []string{"*://*/kcsapi/*"},
		},
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startServe(t *testing.T, m *Manager, tr *fakeTransport) (cancel func(), done chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- m.Serve(ctx, tr) }()
	return cancel, done
}

func TestHandshake(t *testing.T) {
	tr := newFakeTransport()
	cancel, done := startServe(t, newTestManager(&recordSink{}), tr)
	defer cancel()

	want := []string{
		protocol.NetworkEnable,
		protocol.NetworkSetCacheDisabled,
		protocol.NetworkClearBrowserCache,
		protocol.TargetSetDiscoverTargets,
		protocol.TargetSetAutoAttach,
	}
	waitFor(t, func() bool { return len(tr.snapshot()) >= len(want) }, "handshake not sent")
	got := tr.snapshot()
	for i, m := range want {
		if got[i].method != m || got[i].session != model.RootSession {
			t.Fatalf("step %d: got %s on %q, want %s", i, got[i].method, got[i].session, m)
		}
	}
	if p := gjson.Parse(got[4].params); !p.Get("autoAttach").Bool() || !p.Get("flatten").Bool() || p.Get("waitForDebuggerOnStart").Bool() {
		t.Errorf("unexpected setAutoAttach params %s", got[4].params)
	}
	if !gjson.Get(got[1].params, "cacheDisabled").Bool() {
		t.Errorf("cache not disabled: %s", got[1].params)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTargetCreatedAttachesAllowedTargets(t *testing.T) {
	tr := newFakeTransport()
	cancel, _ := startServe(t, newTestManager(&recordSink{}), tr)
	defer cancel()

	tr.msgs <- []byte(`{"method":"Target.targetCreated","params":{"targetInfo":{"targetId":"P1","type":"page","title":"","url":"https://play.games.dmm.com/game/kancolle","attached":false,"canAccessOpener":false}}}`)
	tr.msgs <- []byte(`{"method":"Target.targetCreated","params":{"targetInfo":{"targetId":"W1","type":"webview","title":"","url":"https://example.com/","attached":false,"canAccessOpener":false}}}`)
	tr.msgs <- []byte(`{"method":"Target.targetCreated","params":{"targetInfo":{"targetId":"W2","type":"webview","title":"","url":"https://play.games.dmm.com/game/kancolle","attached":false,"canAccessOpener":false}}}`)

	waitFor(t, func() bool { _, ok := tr.find(protocol.TargetAttachToTarget, model.RootSession); return ok }, "attachToTarget not sent")
	time.Sleep(20 * time.Millisecond)

	var attaches []sent
	for _, s := range tr.snapshot() {
		if s.method == protocol.TargetAttachToTarget {
			attaches = append(attaches, s)
		}
	}
	if len(attaches) != 1 {
		t.Fatalf("expected one attach, got %d", len(attaches))
	}
	p := gjson.Parse(attaches[0].params)
	if p.Get("targetId").String() != "W2" || !p.Get("flatten").Bool() {
		t.Errorf("unexpected attach params %s", attaches[0].params)
	}
}

func TestAttachedSessionInitialised(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(&recordSink{})
	cancel, _ := startServe(t, m, tr)
	defer cancel()

	attached := `{"method":"Target.attachedToTarget","params":{"sessionId":"S1","targetInfo":{"targetId":"W2","type":"webview","title":"","url":"https://play.games.dmm.com/","attached":true,"canAccessOpener":false},"waitingForDebugger":false}}`
	tr.msgs <- []byte(attached)
	tr.msgs <- []byte(attached)

	waitFor(t, func() bool { _, ok := tr.find(protocol.FetchEnable, "S1"); return ok }, "Fetch.enable not sent on session")
	time.Sleep(20 * time.Millisecond)

	var methods []string
	for _, s := range tr.snapshot() {
		if s.session == "S1" {
			methods = append(methods, s.method)
		}
	}
	want := []string{protocol.NetworkEnable, protocol.NetworkSetCacheDisabled, protocol.NetworkClearBrowserCache, protocol.FetchEnable}
	if strings.Join(methods, ",") != strings.Join(want, ",") {
		t.Fatalf("session commands %v, want %v", methods, want)
	}
	fe, _ := tr.find(protocol.FetchEnable, "S1")
	pat := gjson.Get(fe.params, "patterns.0")
	if pat.Get("urlPattern").String() != "*://*/kcsapi/*" || pat.Get("requestStage").String() != "Response" {
		t.Errorf("unexpected patterns %s", fe.params)
	}
	waitFor(t, func() bool { return m.Sessions().Len() == 1 }, "session not registered")

	tr.msgs <- []byte(`{"method":"Target.detachedFromTarget","params":{"sessionId":"S1"}}`)
	waitFor(t, func() bool { return m.Sessions().Len() == 0 }, "session not removed")
}

func TestInterceptedCaptureThroughManager(t *testing.T) {
	tr := newFakeTransport()
	api := &recordSink{}
	cancel, _ := startServe(t, newTestManager(api), tr)
	defer cancel()

	tr.msgs <- []byte(`{"method":"Fetch.requestPaused","sessionId":"S1","params":{"requestId":"interception-1","request":{"url":"http://h/kcsapi/api_port/port","method":"POST","headers":{},"postData":"api_token=x","initialPriority":"High","referrerPolicy":"origin"},"frameId":"F","resourceType":"XHR","responseStatusCode":200}}`)
	waitFor(t, func() bool { _, ok := tr.find(protocol.FetchGetResponseBody, "S1"); return ok }, "Fetch.getResponseBody not sent")

	cmd, _ := tr.find(protocol.FetchGetResponseBody, "S1")
	tr.msgs <- []byte(fmt.Sprintf(`{"id":%d,"sessionId":"S1","result":{"body":"svdata={}","base64Encoded":false}}`, cmd.id))

	waitFor(t, func() bool { return api.len() == 1 }, "payload not forwarded")
	waitFor(t, func() bool { _, ok := tr.find(protocol.FetchContinueResponse, "S1"); return ok }, "request not resumed")
	resume, _ := tr.find(protocol.FetchContinueResponse, "S1")
	if gjson.Get(resume.params, "requestId").String() != "interception-1" {
		t.Errorf("resumed wrong request %s", resume.params)
	}
	if p := api.got[0]; p.URI != "/kcsapi/api_port/port" || p.PostData != "api_token=x" || p.ResponseBody != "svdata={}" {
		t.Errorf("unexpected payload %+v", p)
	}
}

// 字段类型不符导致事件无法解析时，暂停的请求仍然被放行一次
func TestUndecodablePausedRequestReleased(t *testing.T) {
	tr := newFakeTransport()
	api := &recordSink{}
	cancel, _ := startServe(t, newTestManager(api), tr)
	defer cancel()

	tr.msgs <- []byte(`{"method":"Fetch.requestPaused","sessionId":"S1","params":{"requestId":"interception-7","request":{"url":"http://h/kcsapi/api_port/port","method":"POST","headers":{}},"frameId":"F","resourceType":"XHR","responseStatusCode":"200"}}`)
	waitFor(t, func() bool { _, ok := tr.find(protocol.FetchContinueRequest, "S1"); return ok }, "paused request never released")

	time.Sleep(20 * time.Millisecond)
	var resumes int
	for _, s := range tr.snapshot() {
		switch s.method {
		case protocol.FetchContinueRequest, protocol.FetchContinueResponse:
			resumes++
			if gjson.Get(s.params, "requestId").String() != "interception-7" {
				t.Errorf("released wrong request %s", s.params)
			}
		case protocol.FetchGetResponseBody:
			t.Errorf("undecodable event must not be captured")
		}
	}
	if resumes != 1 {
		t.Fatalf("expected exactly one resume, got %d", resumes)
	}
}

func TestServeReturnsWhenConnectionCloses(t *testing.T) {
	tr := newFakeTransport()
	_, done := startServe(t, newTestManager(&recordSink{}), tr)
	tr.msgs <- []byte(`not json`)
	close(tr.msgs)
	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

// 真实 WebSocket 连接：命令带自增 id 与 sessionId，服务端断开后 Run 返回
func TestRunOverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan string, 16)
	handled := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handled)
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for i := 0; i < 5; i++ {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(data)
		}
	}))
	defer srv.Close()

	m := newTestManager(&recordSink{})
	err := m.Run(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	// 处理函数退出后不再写 frames
	select {
	case <-handled:
	case <-time.After(3 * time.Second):
		t.Fatal("debug handler did not return")
	}
	close(frames)
	var ids []int64
	for f := range frames {
		ids = append(ids, gjson.Get(f, "id").Int())
		if gjson.Get(f, "sessionId").Exists() {
			t.Errorf("root command must not carry sessionId: %s", f)
		}
	}
	if len(ids) != 5 {
		t.Fatalf("expected 5 handshake frames, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not increasing: %v", ids)
		}
	}
}

func TestRunDialFailure(t *testing.T) {
	m := newTestManager(&recordSink{})
	err := m.Run(context.Background(), "ws://127.0.0.1:1/devtools/page/x")
	if !errors.Is(err, ErrDial) {
		t.Fatalf("expected ErrDial, got %v", err)
	}
}
