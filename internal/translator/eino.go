package translator

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"doc-translator/internal/logger"
)

// chatGenerator is the part of an eino chat model the provider uses.
type chatGenerator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// EinoProvider translates with an eino chat model.
type EinoProvider struct {
	chat    chatGenerator
	model   string
	timeout time.Duration
}

// NewEinoProvider creates an eino OpenAI chat model for translation.
func NewEinoProvider(ctx context.Context, apiKey, modelName, baseURL string, timeout time.Duration) (*EinoProvider, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	chatModelConfig := &openai.ChatModelConfig{
		Model:  modelName,
		APIKey: apiKey,
	}
	if baseURL != "" {
		chatModelConfig.BaseURL = baseURL
	}
	if timeout > 0 {
		chatModelConfig.Timeout = timeout
	}

	chatModel, err := openai.NewChatModel(ctx, chatModelConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &EinoProvider{chat: chatModel, model: modelName, timeout: timeout}, nil
}

// newEinoProviderWithModel wraps an existing generator.
func newEinoProviderWithModel(chat chatGenerator, modelName string) *EinoProvider {
	return &EinoProvider{chat: chat, model: modelName}
}

func (p *EinoProvider) Name() string { return ProviderEino }

// Translate implements Provider.
func (p *EinoProvider) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, *float64, error) {
	resp, err := p.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(buildSystemPrompt(srcLang, tgtLang)),
		schema.UserMessage(text),
	})
	if err != nil {
		logger.Warn("eino translation failed", logger.String("model", p.model), logger.Err(err))
		return "", nil, classifyError(p.Name(), err)
	}
	if resp == nil || resp.Content == "" {
		return "", nil, NewTransientError(p.Name(), "model returned an empty message", nil)
	}
	return cleanTranslationResult(resp.Content), nil, nil
}
