package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/comfortillo/chat-relay/internal/models"
)

func TestAnthropicChat(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "answer in Turkish"},
		{Role: models.RoleUser, Content: "hello"},
	}

	t.Run("Relays text deltas until message stop", func(t *testing.T) {
		reqs := make(chan anthropicChatRequest, 1)
		srv := sseServer(t, http.StatusOK, []string{
			"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\"}\n\n",
			"event: ping\ndata: {\"type\":\"ping\"}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Mer\"}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"haba\"}}\n\n",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
		}, func(r *http.Request) {
			if r.URL.Path != "/messages" {
				t.Errorf("path = %s, want /messages", r.URL.Path)
			}
			if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") != anthropicAPIVersion {
				t.Errorf("headers = %v", r.Header)
			}
			var req anthropicChatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			reqs <- req
		})

		a := NewAnthropic("key", srv.URL, "claude", "be kind", 512, LLMParameters{}, testLogger())
		text, chunks, err := collect(t, a.Chat(context.Background(), msgs))
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if text != "Merhaba" || len(chunks) != 2 {
			t.Errorf("Chat() = %q in %d chunks, want %q in 2", text, len(chunks), "Merhaba")
		}

		got := <-reqs
		if got.System != "be kind\n\nanswer in Turkish" {
			t.Errorf("request system = %q", got.System)
		}
		if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
			t.Errorf("request messages = %+v, want the user turn only", got.Messages)
		}
		if got.MaxTokens != 512 || !got.Stream {
			t.Errorf("request = %+v", got)
		}
	})

	t.Run("Error event", func(t *testing.T) {
		srv := sseServer(t, http.StatusOK, []string{
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Mer\"}}\n\n",
			"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
		}, nil)

		a := NewAnthropic("key", srv.URL, "claude", "", 512, LLMParameters{}, testLogger())
		text, _, err := collect(t, a.Chat(context.Background(), msgs))

		var ue *UpstreamError
		if !errors.As(err, &ue) {
			t.Fatalf("Chat() error = %v, want UpstreamError", err)
		}
		if ue.Type != "overloaded_error" || ue.Message != "Overloaded" {
			t.Errorf("UpstreamError = %+v", ue)
		}
		if text != "Mer" {
			t.Errorf("Chat() text = %q, want %q", text, "Mer")
		}
	})

	t.Run("Undecodable delta", func(t *testing.T) {
		srv := sseServer(t, http.StatusOK, []string{
			"event: content_block_delta\ndata: nope\n\n",
		}, nil)

		a := NewAnthropic("key", srv.URL, "claude", "", 512, LLMParameters{}, testLogger())
		_, _, err := collect(t, a.Chat(context.Background(), msgs))
		if !IsFrameError(err) {
			t.Errorf("Chat() error = %v, want FrameError", err)
		}
	})

	t.Run("Non-200 status", func(t *testing.T) {
		srv := sseServer(t, http.StatusTooManyRequests, nil, nil)

		a := NewAnthropic("key", srv.URL, "claude", "", 512, LLMParameters{}, testLogger())
		_, _, err := collect(t, a.Chat(context.Background(), msgs))

		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
			t.Errorf("Chat() error = %v, want StatusError 429", err)
		}
	})
}
