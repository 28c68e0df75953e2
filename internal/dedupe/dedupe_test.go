package dedupe

import (
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func apiKey(body string) Key {
	return Key{Tag: "api", Method: "POST", URI: "/kcsapi/api_port/port", PostData: "api_token=1", Body: body}
}

func TestSeenWithinWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	d := New(2000*time.Millisecond, 64, WithClock(clk.now))

	if d.Seen(apiKey(`{"ok":true}`)) {
		t.Fatal("first occurrence must pass")
	}
	clk.advance(500 * time.Millisecond)
	if !d.Seen(apiKey(`{"ok":true}`)) {
		t.Fatal("repeat within window must be suppressed")
	}
	if d.Seen(apiKey(`{"ok":false}`)) {
		t.Fatal("different body must pass")
	}
}

func TestSeenAfterExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	d := New(2000*time.Millisecond, 64, WithClock(clk.now))

	d.Seen(apiKey("x"))
	clk.advance(1000 * time.Millisecond)
	if !d.Seen(apiKey("x")) {
		t.Fatal("second occurrence should be a duplicate")
	}
	clk.advance(1001 * time.Millisecond)
	if d.Seen(apiKey("x")) {
		t.Fatal("third occurrence after expiry must be forwarded")
	}
	if d.Len() != 1 {
		t.Errorf("expected a single live entry, got %d", d.Len())
	}
}

func TestBoundaryIsStillLive(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	d := New(2000*time.Millisecond, 64, WithClock(clk.now))
	d.Seen(apiKey("x"))
	clk.advance(2000 * time.Millisecond)
	if !d.Seen(apiKey("x")) {
		t.Fatal("entry exactly at the window edge is not older than the window")
	}
}

func TestBodyPrefixOnly(t *testing.T) {
	d := New(0, 64)
	prefix := strings.Repeat("a", 64)
	if d.Seen(apiKey(prefix + "tail-1")) {
		t.Fatal("first must pass")
	}
	if !d.Seen(apiKey(prefix + "tail-2")) {
		t.Fatal("bodies sharing the first 64 bytes collide")
	}
}

func TestTagSeparatesCategories(t *testing.T) {
	d := New(0, 0)
	k := apiKey("x")
	d.Seen(k)
	k.Tag = "asset"
	if d.Seen(k) {
		t.Fatal("different tag must not collide")
	}
}
