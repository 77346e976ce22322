package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"sebastian/internal/notifier"
	logx "sebastian/pkg/logx"
)

func TestDeliverSendsToEveryTarget(t *testing.T) {
	var (
		mu    sync.Mutex
		chats []string
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		chats = append(chats, chatIDFrom(r.Header.Get("Content-Type"), body))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`)
	}))
	defer srv.Close()

	d, err := New(Config{
		Token:   "123:abc",
		APIURL:  srv.URL,
		Targets: []Target{{ChatID: 11}, {ChatID: 22, ThreadID: 5}},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Name() != "telegram" {
		t.Fatalf("Name = %q", d.Name())
	}

	msg := notifier.Message{AlarmID: "a1", Title: "Standup", Text: "⏰ Standup (09:00)", At: time.Now()}
	if err := d.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 {
		t.Fatalf("requests = %d, want 2", len(paths))
	}
	for _, p := range paths {
		if !strings.HasSuffix(p, "/sendMessage") {
			t.Fatalf("path = %q", p)
		}
	}
	if chats[0] != "11" || chats[1] != "22" {
		t.Fatalf("chats = %v", chats)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{Targets: []Target{{ChatID: 1}}}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:abc"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for no targets")
	}
}

func chatIDFrom(contentType string, body []byte) string {
	if strings.HasPrefix(contentType, "application/json") {
		var m map[string]any
		if json.Unmarshal(body, &m) == nil {
			if v, ok := m["chat_id"].(string); ok {
				return v
			}
		}
		return ""
	}
	v, _ := url.ParseQuery(string(body))
	return v.Get("chat_id")
}
