package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAI talks to an OpenAI-compatible chat endpoint with the official SDK.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
}

// NewOpenAI creates the client. The SDK's own retries are disabled.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	)
	return &OpenAI{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

func (o *OpenAI) params(p Prompt) openai.ChatCompletionNewParams {
	msgs := p.Messages()
	out := make([]openai.ChatCompletionMessageParamUnion, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out[i] = openai.SystemMessage(m.Content)
		case RoleAssistant:
			out[i] = openai.AssistantMessage(m.Content)
		default:
			out[i] = openai.UserMessage(m.Content)
		}
	}
	return openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(o.model),
		Messages:    out,
		Temperature: openai.Float(o.temperature),
	}
}

func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	completion, err := o.client.Chat.Completions.New(ctx, o.params(p))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func (o *OpenAI) CompleteStream(ctx context.Context, p Prompt, fn func(string) error) error {
	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(p))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("chat completion stream: %w", err)
	}
	return nil
}
