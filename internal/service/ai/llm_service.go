package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/chat-gateway/internal/config"
	"github.com/zhouzirui/chat-gateway/internal/model/chat"
)

// Service generates replies through the configured Ark chat model. It is the
// gateway's single upstream collaborator: one synchronous call per request,
// no retries, no streaming.
type Service struct {
	chatModel    model.ChatModel
	systemPrompt string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the prompt chain against the configured chat model.
func NewService(ctx context.Context, cfg config.AIConfig, systemPrompt string) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel:    chatModel,
		systemPrompt: systemPrompt,
		chain:        runnable,
	}, nil
}

// Generate produces a reply for the prior turns plus the new user message.
// history must be in chronological order and must not yet include the new
// user message; the prompt template appends it as the final turn.
func (s *Service) Generate(ctx context.Context, history []chat.Turn, userMessage string) (string, error) {
	input := map[string]any{
		"system":  s.systemPrompt,
		"history": historyMessages(history),
		"query":   userMessage,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	log.Printf("[ai] generated response, length=%d", len(response.Content))
	return response.Content, nil
}

// historyMessages converts stored turns to prompt messages, skipping any
// role the template does not know.
func historyMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}

	return history
}
