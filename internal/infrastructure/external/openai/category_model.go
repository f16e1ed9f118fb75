package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// ErrUnknownCategory is returned when the model answers outside the closed category set
var ErrUnknownCategory = errors.New("model returned unknown category")

// ChatClient is the subset of the OpenAI client used here
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CategoryModel implements port.CategoryModel with a chat completion
type CategoryModel struct {
	client  ChatClient
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewCategoryModel creates a category model backed by the OpenAI API.
// A zero timeout leaves the HTTP client without a deadline.
func NewCategoryModel(apiKey, model string, timeout time.Duration, prompts *PromptConfig, logger *zap.Logger) *CategoryModel {
	cfg := openai.DefaultConfig(apiKey)
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return NewCategoryModelWithClient(openai.NewClientWithConfig(cfg), model, prompts, logger)
}

// NewCategoryModelWithClient creates a category model over an existing client
func NewCategoryModelWithClient(client ChatClient, model string, prompts *PromptConfig, logger *zap.Logger) *CategoryModel {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &CategoryModel{
		client:  client,
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
}

type categoryAnswer struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// PredictCategory asks the model for a category and its confidence
func (m *CategoryModel) PredictCategory(ctx context.Context, description, merchant string, amount float64) (entity.Category, float64, error) {
	spec := m.prompts.Categorize

	categories := entity.Categories()
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}

	prompt, err := renderTemplate(spec.UserTemplate, map[string]interface{}{
		"Categories":  names,
		"Merchant":    merchant,
		"Description": description,
		"Amount":      amount,
	})
	if err != nil {
		return "", 0, err
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: spec.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	var answer categoryAnswer
	if err := json.Unmarshal([]byte(extractJSON(content)), &answer); err != nil {
		m.logger.Warn("Failed to parse category response",
			zap.String("content", content),
			zap.Error(err))
		return "", 0, fmt.Errorf("failed to parse response: %w", err)
	}

	category := entity.Category(strings.ToLower(strings.TrimSpace(answer.Category)))
	if !category.IsValid() {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownCategory, answer.Category)
	}

	confidence := answer.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	m.logger.Debug("Category predicted",
		zap.String("category", string(category)),
		zap.Float64("confidence", confidence))
	return category, confidence, nil
}

// extractJSON trims prose or code fences around the outermost JSON object
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return content
	}
	return content[start : end+1]
}

// Verify interface compliance
var _ port.CategoryModel = (*CategoryModel)(nil)
