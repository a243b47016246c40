package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookPostsEvent(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode event: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := Webhook{Name: "test", URL: server.URL}
	event := Event{Type: "backup", Status: "success", Uploaded: 2, StartedAt: time.Now()}
	if err := hook.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.Type != "backup" || received.Uploaded != 2 {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestWebhookNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	hook := Webhook{Name: "test", URL: server.URL}
	if err := hook.Notify(context.Background(), Event{Type: "backup"}); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}
