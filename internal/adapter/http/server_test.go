package adapthttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	adapthttp "conquest/internal/adapter/http"
	"conquest/internal/adapter/memory"
	"conquest/internal/app"
	"conquest/internal/server"
)

func newTestServer(t *testing.T) (*httptest.Server, *server.Server) {
	t.Helper()
	db := memory.New()
	if _, err := db.EnsureWorld(context.Background(), 8, 8); err != nil {
		t.Fatalf("EnsureWorld: %v", err)
	}
	world := app.NewWorldService(app.DefaultRules(), nil)
	game := server.New(server.Config{}, db, app.NewAuthService(world, time.Hour, nil), world, nil)

	ts := httptest.NewServer(adapthttp.New(game).Handler())
	t.Cleanup(func() {
		game.Shutdown(context.Background())
		ts.Close()
	})
	return ts, game
}

func getHealth(t *testing.T, ts *httptest.Server) map[string]any {
	t.Helper()
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected no-store, got %q", cc)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	body := getHealth(t, ts)
	if body["ok"] != true || body["connections"] != float64(0) || body["users"] != float64(0) {
		t.Errorf("unexpected health body: %v", body)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("expected text frame, got %d", mt)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func TestWebSocketSession(t *testing.T) {
	ts, game := newTestServer(t)
	conn := dialWS(t, ts)

	if hello := readFrame(t, conn); hello["type"] != "hello" {
		t.Fatalf("unexpected hello: %v", hello)
	}
	if n := game.Connections(); n != 1 {
		t.Errorf("expected 1 connection, got %d", n)
	}

	steps := []struct {
		line string
		want string
	}{
		{`{"type":"auth.register","payload":{"username":"alice","password":"supersecret1"}}`, "ok"},
		{`{"type":"auth.login","payload":{"username":"alice","password":"supersecret1"}}`, "ok"},
		{`{"type":"action.claim","payload":{"x":1,"y":0},"request_id":"c1"}`, "ok"},
		{`{"type":"action.claim","payload":{"x":5,"y":5}}`, "error"},
		{`not json`, "error"},
	}
	for _, step := range steps {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(step.line)); err != nil {
			t.Fatalf("write: %v", err)
		}
		msg := readFrame(t, conn)
		if msg["type"] != step.want {
			t.Errorf("%s: expected %s, got %v", step.line, step.want, msg)
		}
	}

	if body := getHealth(t, ts); body["users"] != float64(1) || body["connections"] != float64(1) {
		t.Errorf("expected 1 user on 1 connection, got %v", body)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"world.state"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	state := readFrame(t, conn)["data"].(map[string]any)
	if res := state["resources"].(map[string]any); res["power"] != float64(95) {
		t.Errorf("expected power 95, got %v", res)
	}
}
