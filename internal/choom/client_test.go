package choom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func directoryJSON() string {
	return `[{"id":"c1","name":"Lissa","voice":"tara"},{"id":"c2","name":"Genesis","llmModel":"qwen3:32b"}]`
}

func TestChooms_CachesWithinTTL(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, directoryJSON())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	for i := 0; i < 3; i++ {
		if _, err := c.Chooms(context.Background()); err != nil {
			t.Fatalf("Chooms: %v", err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestChooms_StaleRetainOnRefreshFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, directoryJSON())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Chooms(context.Background()); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}

	fail.Store(true)
	c.mu.Lock()
	c.fetchedAt = time.Now().Add(-2 * directoryTTL)
	c.mu.Unlock()

	chooms, err := c.Chooms(context.Background())
	if err != nil {
		t.Fatalf("stale fetch: %v", err)
	}
	if len(chooms) != 2 || chooms[0].Name != "Lissa" {
		t.Errorf("stale directory = %+v", chooms)
	}
}

func TestByName_CaseInsensitive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, directoryJSON())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	ch, err := c.ByName(context.Background(), "genesis")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if ch.ID != "c2" {
		t.Errorf("id = %s", ch.ID)
	}
	if _, err := c.ByName(context.Background(), "nobody"); err == nil {
		t.Error("unknown name should error")
	}
}

func companionServer(t *testing.T, events []string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var chatsCreated atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chooms", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, directoryJSON())
	})
	mux.HandleFunc("/api/chats", func(w http.ResponseWriter, r *http.Request) {
		n := chatsCreated.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("chat-%d", n)})
	})
	mux.HandleFunc("/api/chats/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	})
	return httptest.NewServer(mux), &chatsCreated
}

func TestSendMessage_AccumulatesStream(t *testing.T) {
	srv, _ := companionServer(t, []string{
		`{"type":"content","content":"Here "}`,
		`{"type":"content","content":"you go:"}`,
		`{"type":"tool_call","name":"generate_image","arguments":{"prompt":"a sunrise"}}`,
		`{"type":"tool_result","name":"generate_image","content":"ok"}`,
		`{"type":"image_generated","url":"data:image/png;base64,aGk=","id":"img-1","prompt":"a sunrise"}`,
		`{"type":"done"}`,
	})
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	turn, err := c.SendMessage(context.Background(), "Lissa", "draw me a sunrise", nil, false)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if turn.Content != "Here you go:" {
		t.Errorf("content = %q", turn.Content)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].Name != "generate_image" {
		t.Errorf("tool calls = %+v", turn.ToolCalls)
	}
	if len(turn.Images) != 1 || turn.Images[0].ID != "img-1" {
		t.Errorf("images = %+v", turn.Images)
	}
	if turn.ChatID == "" {
		t.Error("chat id not set")
	}
}

func TestSendMessage_StreamError(t *testing.T) {
	srv, _ := companionServer(t, []string{
		`{"type":"content","content":"partial"}`,
		`{"type":"error","error":"model overloaded"}`,
	})
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	turn, err := c.SendMessage(context.Background(), "Lissa", "hi", nil, false)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err = %v", err)
	}
	if turn == nil || turn.Content != "partial" {
		t.Errorf("partial content should survive: %+v", turn)
	}
}

func TestSendMessage_ReusesChat(t *testing.T) {
	srv, chatsCreated := companionServer(t, []string{`{"type":"done"}`})
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	ctx := context.Background()
	if _, err := c.SendMessage(ctx, "Lissa", "one", nil, false); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := c.SendMessage(ctx, "Lissa", "two", nil, false); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if got := chatsCreated.Load(); got != 1 {
		t.Errorf("chats created = %d, want 1", got)
	}

	// A fresh chat always opens a new one and does not disturb the
	// sticky conversation chat.
	if _, err := c.SendMessage(ctx, "Lissa", "briefing", nil, true); err != nil {
		t.Fatalf("fresh turn: %v", err)
	}
	if got := chatsCreated.Load(); got != 2 {
		t.Errorf("chats created = %d, want 2", got)
	}
	if _, err := c.SendMessage(ctx, "Lissa", "three", nil, false); err != nil {
		t.Fatalf("post-briefing turn: %v", err)
	}
	if got := chatsCreated.Load(); got != 2 {
		t.Errorf("chats created = %d, want 2 after reuse", got)
	}
}

func TestNotificationsRoundTrip(t *testing.T) {
	var deletedIDs []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `[{"id":"n1","choomId":"c1","message":"done rendering","includeAudio":true}]`)
		case http.MethodDelete:
			var body struct {
				IDs []string `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			deletedIDs = body.IDs
			w.WriteHeader(http.StatusNoContent)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	notes, err := c.Notifications(context.Background())
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(notes) != 1 || !notes[0].IncludeAudio {
		t.Errorf("notes = %+v", notes)
	}

	if err := c.DeleteNotifications(context.Background(), []string{"n1"}); err != nil {
		t.Fatalf("DeleteNotifications: %v", err)
	}
	if len(deletedIDs) != 1 || deletedIDs[0] != "n1" {
		t.Errorf("deleted = %v", deletedIDs)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"services":{"llm":{"status":"connected"},"tts":{"status":"error"}}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	statuses, err := c.Health(context.Background(), map[string]string{"tts": "http://tts"})
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if statuses["llm"] != "connected" || statuses["tts"] != "error" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestUserActivityWindow(t *testing.T) {
	c := NewClient("http://unused", nil)
	if c.IsUserActive("Lissa") {
		t.Error("active before any message")
	}
	c.RecordUserActivity("Lissa")
	if !c.IsUserActive("lissa") {
		t.Error("case-insensitive activity lookup failed")
	}

	c.mu.Lock()
	c.activity["lissa"] = time.Now().Add(-userActiveWindow - time.Second)
	c.mu.Unlock()
	if c.IsUserActive("Lissa") {
		t.Error("activity should expire after the window")
	}
}

func TestBuildSettings_Layering(t *testing.T) {
	stored := map[string]map[string]any{
		"weather": {"location": "Oulu"},
		"search":  {"enabled": false},
	}
	ch := &Choom{
		Name:        "Lissa",
		LLMModel:    "qwen3:32b",
		ImageConfig: map[string]any{"enabled": true, "model": "flux"},
	}

	got := BuildSettings(stored, ch)
	if w := got["weather"].(map[string]any); w["location"] != "Oulu" {
		t.Errorf("weather = %v", w)
	}
	if s := got["search"].(map[string]any); s["enabled"] != false {
		t.Errorf("search = %v", s)
	}
	if got["llm_model"] != "qwen3:32b" {
		t.Errorf("llm_model = %v", got["llm_model"])
	}
	ig := got["image_generation"].(map[string]any)
	if ig["enabled"] != true || ig["model"] != "flux" {
		t.Errorf("image_generation = %v", ig)
	}
	if got["vision"].(map[string]any)["enabled"] != false {
		t.Error("vision default lost")
	}
}
