package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/logger"
)

const systemPrompt = "You are a disciplined equity portfolio assistant. Use only the data given in the prompt."

// generator is the slice of eino's chat model this package calls
type generator interface {
	Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ChatModel adapts an OpenAI-compatible endpoint (OpenAI, DeepSeek, Qwen) to LanguageModel
type ChatModel struct {
	model   generator
	name    string
	timeout time.Duration
	logger  *logger.Logger
}

// NewChatModel connects to cfg's endpoint. modelName overrides cfg.Model when set.
// It returns nil with no error when no API key is configured.
func NewChatModel(ctx context.Context, cfg config.LLMConfig, modelName string, log *logger.Logger) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	if modelName == "" {
		modelName = cfg.Model
	}

	maxTokens := 1024
	temperature := float32(0.1)
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       modelName,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model %s: %w", modelName, err)
	}
	return newChatModel(cm, modelName, log), nil
}

func newChatModel(g generator, name string, log *logger.Logger) *ChatModel {
	return &ChatModel{
		model:   g,
		name:    name,
		timeout: 60 * time.Second,
		logger:  log.WithField("model", name),
	}
}

// Name returns the model identifier
func (c *ChatModel) Name() string { return c.name }

// Complete sends the prompt with the schema instruction and extracts the JSON reply
func (c *ChatModel) Complete(ctx context.Context, prompt string, sch Schema) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	msg, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt + "\n\n" + sch.Instruction()),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", sch.Name, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("generate %s: empty reply", sch.Name)
	}

	raw, err := ExtractJSON(msg.Content)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"schema": sch.Name,
			"reply":  truncate(msg.Content, 200),
		}).Warn("Model reply is not JSON")
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"schema":     sch.Name,
		"latency_ms": time.Since(started).Milliseconds(),
	}).Debug("Model completion")
	return raw, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
