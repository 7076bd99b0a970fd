package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meuwsic/core/ledger"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(conn, "admin@example.com", &Message{Type: MsgTypeStats, Data: ledger.Stats{Total: 7}})
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func TestHubPushesInitialStatsThenAttempts(t *testing.T) {
	hub, conn := startHub(t)

	first := readMessage(t, conn)
	if first["type"] != string(MsgTypeStats) {
		t.Fatalf("first message = %v", first)
	}
	if data := first["data"].(map[string]interface{}); data["totalUploads"] != float64(7) {
		t.Errorf("stats payload = %v", data)
	}

	l := ledger.New(5)
	l.Subscribe(hub.OnAttempt)
	l.Record(ledger.Attempt{Filename: "a.mp3", Status: ledger.StatusFailed, ErrorType: "timeout"})

	msg := readMessage(t, conn)
	if msg["type"] != string(MsgTypeAttempt) {
		t.Fatalf("message = %v", msg)
	}
	data := msg["data"].(map[string]interface{})
	if data["filename"] != "a.mp3" || data["errorType"] != "timeout" || data["status"] != "failed" {
		t.Errorf("attempt payload = %v", data)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, conn := startHub(t)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub()
	// Run 未启动，队列满后丢弃
	for i := 0; i < 1000; i++ {
		hub.Publish(MsgTypeAttempt, i)
	}
}
