package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/tenant-chat/internal/config"
)

// Client is the chat-completion call the Replier makes. *openai.Client
// satisfies it.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

const defaultSystemPrompt = "You are the customer-service assistant of %s. Help customers browse the menu, place orders, check order status and answer questions about the food. Be concise."

// Turn is one prior exchange line given to the model as context.
type Turn struct {
	FromUser bool
	Content  string
}

// Reply is a generated agent answer.
type Reply struct {
	Content    string
	TokenCount int
}

// Replier produces agent replies for a tenant conversation.
type Replier struct {
	client       Client
	model        string
	systemPrompt string
}

// NewReplier creates a Replier. An empty systemPrompt uses a generic
// customer-service prompt naming the tenant.
func NewReplier(client Client, model, systemPrompt string) *Replier {
	return &Replier{client: client, model: model, systemPrompt: systemPrompt}
}

// Reply asks the model for the next agent message given the history.
func (r *Replier) Reply(ctx context.Context, tenantName string, history []Turn) (Reply, error) {
	prompt := r.systemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf(defaultSystemPrompt, tenantName)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	for _, t := range history {
		role := openai.ChatMessageRoleAssistant
		if t.FromUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("chat completion returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Reply{}, errors.New("chat completion returned empty content")
	}
	return Reply{Content: content, TokenCount: resp.Usage.TotalTokens}, nil
}
