package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/comfortillo/chat-relay/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

func TestOpenAIChat(t *testing.T) {
	reqs := make(chan goopenai.ChatCompletionRequest, 1)
	srv := sseServer(t, http.StatusOK, []string{
		`data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}` + "\n\n",
		`data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"He"}}]}` + "\n\n",
		`data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"llo"}}]}` + "\n\n",
		`data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"!"},"finish_reason":"stop"}]}` + "\n\n",
		"data: [DONE]\n\n",
	}, func(r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		var req goopenai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		reqs <- req
	})

	temp := float32(0.2)
	o := NewOpenAI("key", srv.URL+"/v1", "", "", LLMParameters{Temperature: &temp}, testLogger())
	if o.Model() != DefaultOpenAIModel {
		t.Errorf("Model() = %q, want %q", o.Model(), DefaultOpenAIModel)
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
	if got.Model != DefaultOpenAIModel || !got.Stream || got.Temperature != temp {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("request messages = %+v", got.Messages)
	}
}

func TestOpenAIChatRejected(t *testing.T) {
	srv := sseServer(t, http.StatusUnauthorized, nil, nil)

	o := NewOpenAI("key", srv.URL+"/v1", "gpt-4o", "", LLMParameters{}, testLogger())
	text, _, err := collect(t, o.Chat(context.Background(), []models.Message{}))
	if err == nil {
		t.Fatal("Chat() error = nil, want the upstream rejection")
	}
	if text != "" {
		t.Errorf("Chat() text = %q, want none", text)
	}
}

func TestOpenAIMessages(t *testing.T) {
	msgs := openAIMessages("be brief", []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	})

	want := []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: "be brief"},
		{Role: goopenai.ChatMessageRoleUser, Content: "hi"},
		{Role: goopenai.ChatMessageRoleAssistant, Content: "hello"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("openAIMessages() = %+v", msgs)
	}
	for i := range want {
		if msgs[i].Role != want[i].Role || msgs[i].Content != want[i].Content {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}
