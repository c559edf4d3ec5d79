package agent

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dootlabs/doot/pkg/session"
)

// OpenAIExecutor runs turns against an OpenAI-compatible chat completion
// endpoint. It is stateless and safe for concurrent calls with distinct
// histories.
type OpenAIExecutor struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIExecutor creates an executor. apiBase is optional and selects an
// OpenAI-compatible gateway; model defaults to gpt-4o.
func NewOpenAIExecutor(apiKey, apiBase, model string, maxTokens int, temperature float32) *OpenAIExecutor {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIExecutor{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Execute runs one turn: the history plus a system prompt go to the model,
// and the reply is appended to a copy of the history. With an empty
// promptOverride the system prompt is picked by routing the latest user
// message.
func (e *OpenAIExecutor) Execute(ctx context.Context, history []session.Message, promptOverride string) ([]session.Message, string, error) {
	system := promptOverride
	if system == "" {
		system = SystemPrompt(Route(lastUserContent(history)), time.Now())
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == session.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    msgs,
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	if err != nil {
		return nil, "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, "", fmt.Errorf("chat completion: no choices in response")
	}

	reply := resp.Choices[0].Message.Content
	updated := make([]session.Message, len(history), len(history)+1)
	copy(updated, history)
	updated = append(updated, session.Message{
		Role:      session.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now(),
	})
	return updated, reply, nil
}

func lastUserContent(history []session.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
