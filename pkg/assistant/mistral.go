package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"chatkeeper/pkg/config"
)

// Mistral is the primary text provider. The Mistral API is OpenAI-compatible,
// so the standard client pointed at the Mistral base URL covers it.
type Mistral struct {
	client osdk.Client
	model  string
}

// NewMistral validates config and builds the provider.
func NewMistral(cfg config.MistralConfig) (*Mistral, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("assistants.mistral.api_key is required")
	}

	return &Mistral{
		client: osdk.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(cfg.BaseURL),
		),
		model: cfg.Model,
	}, nil
}

func (m *Mistral) Name() string { return "mistral" }

func (m *Mistral) Complete(ctx context.Context, prompt string) (string, error) {
	completion, err := m.client.Chat.Completions.New(ctx, osdk.ChatCompletionNewParams{
		Model: osdk.ChatModel(m.model),
		Messages: []osdk.ChatCompletionMessageParamUnion{
			osdk.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}

	return completion.Choices[0].Message.Content, nil
}
