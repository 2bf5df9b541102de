package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Message is a single turn of a conversation as the browser sends it. Messages are ordered oldest
// first and carry no identity; they live only for the duration of one relay request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message written by the person using the chat.
	RoleUser Role = "user"
	// RoleAssistant represents a previous reply from the model.
	RoleAssistant Role = "assistant"
	// RoleSystem represents an instruction message, usually placed first.
	RoleSystem Role = "system"
)

// ChatRequest is the body accepted by the chat relay endpoint. Only the messages field is
// interpreted, any other field is ignored.
type ChatRequest struct {
	Messages []Message `json:"messages"`
}

// ErrMissingMessages is returned by DecodeChatRequest when the body has no messages array.
var ErrMissingMessages = errors.New("messages is required")

// DecodeChatRequest reads a ChatRequest from r. The body must be a single JSON object whose
// messages field is an array. An empty array is accepted, since rejecting it is left to the
// upstream provider.
func DecodeChatRequest(r io.Reader) (ChatRequest, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return ChatRequest{}, fmt.Errorf("failed to read request body: %w", err)
	}

	var raw struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ChatRequest{}, fmt.Errorf("invalid request body: %w", err)
	}

	trimmed := bytes.TrimSpace(raw.Messages)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ChatRequest{}, ErrMissingMessages
	}

	var req ChatRequest
	if err := json.Unmarshal(trimmed, &req.Messages); err != nil {
		return ChatRequest{}, fmt.Errorf("invalid messages: %w", err)
	}
	if req.Messages == nil {
		req.Messages = []Message{}
	}

	return req, nil
}

// SplitSystem separates leading system messages from the rest of the conversation. Providers
// that take the system prompt out of band use it; the contents of consecutive system messages
// are joined with a blank line.
func SplitSystem(messages []Message) (string, []Message) {
	var system []byte
	i := 0
	for ; i < len(messages) && messages[i].Role == RoleSystem; i++ {
		if len(system) > 0 {
			system = append(system, "\n\n"...)
		}
		system = append(system, messages[i].Content...)
	}
	return string(system), messages[i:]
}
