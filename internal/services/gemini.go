package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/comfortillo/chat-relay/internal/models"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini streams chat completions from Google's Gemini models.
type Gemini struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *genai.Client

	logger *slog.Logger
}

// NewGemini creates a Gemini client for the given API key and model.
func NewGemini(ctx context.Context, apiKey, model, systemPrompt string, params LLMParameters,
	logger *slog.Logger,
) (Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return Gemini{}, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return Gemini{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       client,
		logger:       logger.With(slog.String("module", "gemini")),
	}, nil
}

// Name returns the provider name.
func (g Gemini) Name() string { return "gemini" }

// Model returns the configured model identifier.
func (g Gemini) Model() string { return g.model }

// Close releases the underlying client.
func (g Gemini) Close() error {
	return g.client.Close()
}

// geminiHistory converts the conversation into Gemini contents. Leading system messages become the
// system instruction and the last message is returned separately, since it is the one sent.
func geminiHistory(systemPrompt string, messages []models.Message) (*genai.Content, []*genai.Content, genai.Text, error) {
	system, rest := models.SplitSystem(messages)
	system = withSystemPrompt(systemPrompt, system)
	if len(rest) == 0 {
		return nil, nil, "", errors.New("gemini: messages must contain at least one non-system message")
	}

	var instruction *genai.Content
	if system != "" {
		instruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	history := make([]*genai.Content, 0, len(rest)-1)
	for _, msg := range rest[:len(rest)-1] {
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	return instruction, history, genai.Text(rest[len(rest)-1].Content), nil
}

// Chat streams the reply to the last message, sending the preceding messages as chat history.
func (g Gemini) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		instruction, history, last, err := geminiHistory(g.systemPrompt, messages)
		if err != nil {
			yield("", err)
			return
		}

		model := g.client.GenerativeModel(g.model)
		model.SystemInstruction = instruction
		if g.params.Temperature != nil {
			model.SetTemperature(*g.params.Temperature)
		}
		if g.params.TopP != nil {
			model.SetTopP(*g.params.TopP)
		}
		if g.params.MaxTokens != nil {
			model.SetMaxOutputTokens(int32(*g.params.MaxTokens))
		}

		cs := model.StartChat()
		cs.History = history

		it := cs.SendMessageStream(ctx, last)
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				text, ok := part.(genai.Text)
				if !ok || text == "" {
					g.logger.Debug("Skipping part", slog.String("part", fmt.Sprintf("%T", part)))
					continue
				}
				if !yield(string(text), nil) {
					return
				}
			}
		}
	}
}
