package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChain talks to an OpenAI-compatible chat endpoint (Groq by default)
// through langchaingo.
type LangChain struct {
	model       llms.Model
	temperature float64
	timeout     time.Duration
}

// NewLangChain creates the client. No request is made until the first call.
func NewLangChain(cfg Config) (*LangChain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating langchain client: %w", err)
	}
	return &LangChain{model: model, temperature: cfg.Temperature, timeout: cfg.Timeout}, nil
}

func messageContents(p Prompt) []llms.MessageContent {
	msgs := p.Messages()
	out := make([]llms.MessageContent, len(msgs))
	for i, m := range msgs {
		role := schema.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = schema.ChatMessageTypeSystem
		case RoleAssistant:
			role = schema.ChatMessageTypeAI
		}
		out[i] = llms.TextParts(role, m.Content)
	}
	return out
}

func (l *LangChain) Complete(ctx context.Context, p Prompt) (string, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.model.GenerateContent(ctx, messageContents(p), llms.WithTemperature(l.temperature))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (l *LangChain) CompleteStream(ctx context.Context, p Prompt, fn func(string) error) error {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	_, err := l.model.GenerateContent(ctx, messageContents(p),
		llms.WithTemperature(l.temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return fn(string(chunk))
		}),
	)
	if err != nil {
		return fmt.Errorf("chat completion stream: %w", err)
	}
	return nil
}
