// Package llm adapts chat-completion APIs to the summarizer port.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"triage_server/core/port/out"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel = "gemini-2.5-flash"

	// OpenAI-compatible surface of the Gemini API.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

const summarySystemPrompt = `You are an assistant that helps manage email. Summarize the email below.
Requirements:
- Extremely short (at most 2 sentences).
- Focus on the action required or the key information.
- Professional tone.`

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Summarizer implements out.Summarizer with a chat completion call.
type Summarizer struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewSummarizer(cfg Config) *Summarizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 256
	}
	return &Summarizer{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Email content:\n" + text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", errors.New("chat completion returned an empty summary")
	}
	return summary, nil
}

var _ out.Summarizer = (*Summarizer)(nil)
