package leviton

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// Fake push server
// =============================================================================

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type socketScript func(t *testing.T, conn *websocket.Conn, r *http.Request)

func newSocketServer(t *testing.T, script socketScript) (string, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		defer conn.Close()
		conns.Add(1)
		script(t, conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &conns
}

func testSession(t *testing.T) Session {
	t.Helper()
	s, err := ParseSession([]byte(`{"id":"tok-1","userId":"user-1","ttl":5184000}`))
	if err != nil {
		t.Fatalf("ParseSession() error = %v", err)
	}
	return s
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]json.RawMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Errorf("server ReadJSON() error = %v", err)
		return nil
	}
	return msg
}

func newTestRealtime(url string, session Session, onUpdate func(StateUpdate)) *Realtime {
	return NewRealtime(
		func() (Session, bool) { return session, true },
		onUpdate,
		RealtimeOptions{
			URL:            url,
			Heartbeat:      time.Second,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     40 * time.Millisecond,
		},
	)
}

// =============================================================================
// Protocol
// =============================================================================

func TestRealtime_Handshake(t *testing.T) {
	session := testSession(t)
	subscriptions := make(chan map[string]json.RawMessage, 4)
	authenticated := make(chan map[string]json.RawMessage, 1)
	headers := make(chan http.Header, 1)

	url, _ := newSocketServer(t, func(t *testing.T, conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()

		first := readJSON(t, conn)
		var token map[string]any
		if err := json.Unmarshal(first["token"], &token); err != nil || token["id"] != "tok-1" {
			t.Errorf("first frame token = %s, want full login response", first["token"])
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"challenge"}`))
		authenticated <- readJSON(t, conn)

		_ = conn.WriteMessage(websocket.TextMessage, []byte("{\"type\":\"status\",\"status\":\"ready\",\"connectionId\":\"c-1\"}\x00"))
		subscriptions <- readJSON(t, conn)
		subscriptions <- readJSON(t, conn)

		// Hold the connection until the client leaves.
		_, _, _ = conn.ReadMessage()
	})

	rt := newTestRealtime(url, session, nil)
	if err := rt.Start(context.Background(), []string{"1001", "not-a-number", "1002"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rt.Stop()

	h := <-headers
	if h.Get("Authorization") != "tok-1" {
		t.Errorf("Authorization header = %q, want tok-1", h.Get("Authorization"))
	}
	if h.Get("Origin") != Origin {
		t.Errorf("Origin header = %q, want %q", h.Get("Origin"), Origin)
	}

	auth := <-authenticated
	if string(auth["type"]) != `"authenticate"` {
		t.Errorf("authenticate type = %s", auth["type"])
	}
	if !strings.Contains(string(auth["token"]), `"userId":"user-1"`) {
		t.Errorf("authenticate token = %s, want full login response", auth["token"])
	}

	var got []int
	for range 2 {
		select {
		case msg := <-subscriptions:
			if string(msg["type"]) != `"subscribe"` {
				t.Errorf("type = %s, want subscribe", msg["type"])
			}
			var sub subscription
			if err := json.Unmarshal(msg["subscription"], &sub); err != nil {
				t.Fatalf("subscription decode error = %v", err)
			}
			if sub.ModelName != "IotSwitch" {
				t.Errorf("modelName = %q", sub.ModelName)
			}
			got = append(got, sub.ModelID)
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for subscriptions")
		}
	}
	if len(got) != 2 || got[0] != 1001 || got[1] != 1002 {
		t.Errorf("subscribed ids = %v, want [1001 1002]", got)
	}
}

func TestRealtime_Notifications(t *testing.T) {
	session := testSession(t)
	updates := make(chan StateUpdate, 8)

	url, _ := newSocketServer(t, func(t *testing.T, conn *websocket.Conn, _ *http.Request) {
		readJSON(t, conn)
		frames := []string{
			"",
			"\x00\x00",
			"not json",
			`{"type":"notification","notification":{"data":{"power":"ON"}}}`,
			`{"type":"notification","notification":{"modelId":0,"data":{"power":"ON"}}}`,
			`{"type":"notification","notification":{"modelId":1001,"data":{}}}`,
			`{"type":"mystery"}`,
			`{"type":"notification","notification":{"modelName":"IotSwitch","modelId":1001,"data":{"power":"ON","brightness":"50","lastUpdated":"x"}}}`,
			`{"type":"notification","notification":{"modelId":"2002","data":{"occupancy":1,"motion":false}}}`,
		}
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		_, _, _ = conn.ReadMessage()
	})

	rt := newTestRealtime(url, session, func(u StateUpdate) { updates <- u })
	if err := rt.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rt.Stop()

	next := func() StateUpdate {
		select {
		case u := <-updates:
			return u
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for update")
			return StateUpdate{}
		}
	}

	u := next()
	if u.ID != "1001" || u.Power == nil || *u.Power != "ON" || u.Brightness == nil || *u.Brightness != 50 {
		t.Errorf("first update = %+v", u)
	}
	if u.Motion != nil || u.FanSpeed != nil {
		t.Errorf("first update has unexpected fields: %+v", u)
	}

	// Untracked devices are still emitted.
	u = next()
	if u.ID != "2002" || u.Occupancy == nil || !*u.Occupancy || u.Motion == nil || *u.Motion {
		t.Errorf("second update = %+v", u)
	}

	select {
	case extra := <-updates:
		t.Errorf("unexpected extra update %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	if stats := rt.Stats(); stats.Updates != 2 {
		t.Errorf("Stats().Updates = %d, want 2", stats.Updates)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestRealtime_ReconnectsAfterDrop(t *testing.T) {
	session := testSession(t)

	url, conns := newSocketServer(t, func(t *testing.T, conn *websocket.Conn, _ *http.Request) {
		readJSON(t, conn)
		// Return without a close frame: abnormal closure.
	})

	rt := newTestRealtime(url, session, nil)
	if err := rt.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rt.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for conns.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if conns.Load() < 3 {
		t.Fatalf("connections = %d, want at least 3", conns.Load())
	}
	if rt.Stats().LastError == "" {
		t.Error("Stats().LastError is empty after drops")
	}
}

func TestRealtime_HeartbeatClosesSilentSocket(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var dials []time.Time

	// The server never reads, so pings are never answered with pongs.
	url, conns := newSocketServer(t, func(_ *testing.T, _ *websocket.Conn, _ *http.Request) {
		mu.Lock()
		dials = append(dials, time.Now())
		mu.Unlock()
		<-release
	})
	t.Cleanup(func() { close(release) })

	rt := NewRealtime(
		func() (Session, bool) { return testSession(t), true },
		nil,
		RealtimeOptions{URL: url, Heartbeat: 50 * time.Millisecond, InitialBackoff: 10 * time.Millisecond},
	)
	if err := rt.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rt.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for conns.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conns.Load() < 2 {
		t.Fatalf("connections = %d, want a reconnect after the missed pong", conns.Load())
	}

	mu.Lock()
	lived := dials[1].Sub(dials[0])
	mu.Unlock()
	if lived < 100*time.Millisecond {
		t.Errorf("first connection lived %v, want at least two heartbeats", lived)
	}
	if !strings.Contains(rt.Stats().LastError, "timeout") {
		t.Errorf("Stats().LastError = %q, want read timeout", rt.Stats().LastError)
	}
}

func TestRealtime_PongsKeepSocketOpen(t *testing.T) {
	// Reading lets gorilla answer every ping with a pong.
	url, conns := newSocketServer(t, func(_ *testing.T, conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rt := NewRealtime(
		func() (Session, bool) { return testSession(t), true },
		nil,
		RealtimeOptions{URL: url, Heartbeat: 50 * time.Millisecond, InitialBackoff: 10 * time.Millisecond},
	)
	if err := rt.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rt.Stop()

	time.Sleep(500 * time.Millisecond)
	if n := conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}
	if !rt.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestRealtime_BackoffSchedule(t *testing.T) {
	const (
		initial = 50 * time.Millisecond
		maximum = 200 * time.Millisecond
	)

	var mu sync.Mutex
	var dials []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials = append(dials, time.Now())
		n := len(dials)
		mu.Unlock()

		// Dial 5 ends cleanly; every other dial fails the handshake.
		if n != 5 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		defer conn.Close()
		readJSON(t, conn)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	rt := NewRealtime(
		func() (Session, bool) { return testSession(t), true },
		nil,
		RealtimeOptions{
			URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
			Heartbeat:      time.Second,
			InitialBackoff: initial,
			MaxBackoff:     maximum,
		},
	)
	if err := rt.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(dials)
		mu.Unlock()
		if n >= 8 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	rt.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(dials) < 8 {
		t.Fatalf("dials = %d, want 8", len(dials))
	}

	tests := []struct {
		name     string
		gap      int // interval between dial gap+1 and dial gap+2
		min, max time.Duration
	}{
		{"first retry", 0, initial, 0},
		{"doubles", 1, 2 * initial, 0},
		{"doubles to cap", 2, maximum, 0},
		{"capped", 3, maximum, 2*maximum - 50*time.Millisecond},
		{"after clean close", 4, initial, 0},
		{"reset after clean close", 5, initial, maximum - 50*time.Millisecond},
		{"doubles again", 6, 2 * initial, 0},
	}
	for _, tt := range tests {
		got := dials[tt.gap+1].Sub(dials[tt.gap])
		if got < tt.min {
			t.Errorf("%s: interval %v, want at least %v", tt.name, got, tt.min)
		}
		if tt.max > 0 && got >= tt.max {
			t.Errorf("%s: interval %v, want below %v", tt.name, got, tt.max)
		}
	}
}

func TestRealtime_StartTwice(t *testing.T) {
	url, _ := newSocketServer(t, func(t *testing.T, conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.ReadMessage()
		_, _, _ = conn.ReadMessage()
	})
	rt := newTestRealtime(url, testSession(t), nil)

	if err := rt.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rt.Stop()
	if err := rt.Start(context.Background(), nil); !errors.Is(err, ErrRealtimeRunning) {
		t.Errorf("second Start() error = %v, want ErrRealtimeRunning", err)
	}
}

func TestRealtime_StopOnContextCancel(t *testing.T) {
	url, _ := newSocketServer(t, func(t *testing.T, conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.ReadMessage()
		_, _, _ = conn.ReadMessage()
	})
	rt := newTestRealtime(url, testSession(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := rt.Start(ctx, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !rt.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !rt.IsConnected() {
		t.Fatal("IsConnected() = false, want true")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		rt.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() did not return after cancel")
	}
	if rt.IsConnected() {
		t.Error("IsConnected() = true after stop")
	}
}

func TestRealtime_NoSession(t *testing.T) {
	rt := NewRealtime(func() (Session, bool) { return Session{}, false }, nil, RealtimeOptions{
		URL:            "ws://127.0.0.1:1/",
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
	if err := rt.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rt.Stats().LastError == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	rt.Stop()

	if !strings.Contains(rt.Stats().LastError, "not authenticated") {
		t.Errorf("LastError = %q, want not authenticated", rt.Stats().LastError)
	}
}

func TestSubscriptionID(t *testing.T) {
	if n, err := SubscriptionID("1001"); err != nil || n != 1001 {
		t.Errorf("SubscriptionID(1001) = %d, %v", n, err)
	}
	if _, err := SubscriptionID("abc"); !errors.Is(err, ErrInvalidDeviceID) {
		t.Errorf("SubscriptionID(abc) error = %v, want ErrInvalidDeviceID", err)
	}
}

func TestRealtime_SetDevicesSubscribesLive(t *testing.T) {
	received := make(chan int, 4)

	url, _ := newSocketServer(t, func(t *testing.T, conn *websocket.Conn, _ *http.Request) {
		readJSON(t, conn)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","status":"ready"}`))
		for {
			var msg struct {
				Subscription subscription `json:"subscription"`
			}
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg.Subscription.ModelID
		}
	})

	rt := newTestRealtime(url, testSession(t), nil)
	if err := rt.Start(context.Background(), []string{"1001"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rt.Stop()

	select {
	case id := <-received:
		if id != 1001 {
			t.Fatalf("first subscription = %d, want 1001", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for initial subscription")
	}

	rt.SetDevices([]string{"1001", "1003"})

	select {
	case id := <-received:
		if id != 1003 {
			t.Errorf("live subscription = %d, want 1003", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for live subscription")
	}

	select {
	case id := <-received:
		t.Errorf("unexpected resubscription to %d", id)
	case <-time.After(50 * time.Millisecond):
	}
}
