package cdp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// 入站缓冲已满且无人消费时，Close 仍能结束读协程
func TestCloseWithFullInboundBuffer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for i := 0; i < inboundBuffer+16; i++ {
			if err := c.WriteMessage(websocket.TextMessage, []byte(`{"method":"Network.loadingFinished","params":{}}`)); err != nil {
				return
			}
		}
		// 保持连接直到客户端关闭
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return len(conn.Messages()) == inboundBuffer }, "inbound buffer never filled")

	closed := make(chan struct{})
	go func() {
		_ = conn.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked on a full inbound buffer")
	}

	// 读协程退出后消息通道关闭
	for range conn.Messages() {
	}
	if conn.Err() == nil {
		t.Error("expected a close reason")
	}
}

func TestSendAssignsIncreasingIDs(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var last int64
	for i := 0; i < 3; i++ {
		id, err := conn.Send("Network.enable", nil, "S1")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than %d", id, last)
		}
		last = id
	}
}
