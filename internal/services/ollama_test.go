package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/comfortillo/chat-relay/internal/models"
	"github.com/ollama/ollama/api"
)

func TestOllamaChat(t *testing.T) {
	reqs := make(chan api.ChatRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		var req api.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		reqs <- req

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, c := range []string{"He", "", "llo", "!"} {
			fmt.Fprintf(w, `{"model":"llama3","message":{"role":"assistant","content":%q},"done":false}`+"\n", c)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, `{"model":"llama3","message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	defer srv.Close()

	maxTokens := 64
	o, err := NewOllama(srv.URL, "llama3", "be brief", LLMParameters{MaxTokens: &maxTokens}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	text, chunks, err := collect(t, o.Chat(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "hello"},
	}))
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if text != "Hello!" || len(chunks) != 3 {
		t.Errorf("Chat() = %q in %d chunks, want %q in 3", text, len(chunks), "Hello!")
	}

	got := <-reqs
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "be brief" {
		t.Errorf("request messages = %+v", got.Messages)
	}
	if got.Options["num_predict"] != float64(64) {
		t.Errorf("request options = %v", got.Options)
	}
}

func TestOllamaChatStopsEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		for _, c := range []string{"a", "b", "c"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", c)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL, "llama3", "", LLMParameters{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for text, err := range o.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "x"}}) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, text)
		break
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("got %v, want [a]", got)
	}
}

func TestOllamaChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"nope\" not found"}`)
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL, "nope", "", LLMParameters{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = collect(t, o.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "x"}}))
	if err == nil {
		t.Fatal("Chat() error = nil, want the server error")
	}
}
