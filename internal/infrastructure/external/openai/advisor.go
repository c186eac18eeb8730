package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/garyjia/vat-compliance/internal/application/port"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Advisor implements port.AdvisoryClient using the OpenAI chat API
type Advisor struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// AdvisorConfig holds OpenAI connection settings
type AdvisorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewAdvisor creates a new OpenAI advisor. A nil prompts uses DefaultPrompts.
func NewAdvisor(cfg AdvisorConfig, prompts *PromptConfig, logger *zap.Logger) *Advisor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advisor{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		prompts: prompts,
		logger:  logger,
	}
}

// Advise sends one batched review request. Quota rejections are reported as
// port.ErrAdvisoryRateLimited so the caller can back off.
func (a *Advisor) Advise(ctx context.Context, req *port.AdvisoryRequest) (*port.AdvisoryResponse, error) {
	itemsJSON, err := json.MarshalIndent(req.Items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal advisory items: %w", err)
	}

	prompt, err := renderTemplate(a.prompts.Advisory.UserTemplate, struct {
		Count     int
		ItemsJSON string
	}{len(req.Items), string(itemsJSON)})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Requesting advisory review",
		zap.String("model", a.model),
		zap.Int("items", len(req.Items)))

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: a.prompts.Advisory.Temperature,
		MaxTokens:   a.prompts.Advisory.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: a.prompts.Advisory.System,
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
		if isRateLimited(err) {
			a.logger.Warn("OpenAI quota exceeded", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", port.ErrAdvisoryRateLimited, err)
		}
		a.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content

	result, err := decodeStrict(content)
	if err != nil {
		// Fallback: the model may wrap JSON in a markdown code block
		if jsonStr := extractJSON(content); jsonStr != "" {
			if result, err2 := decodeStrict(jsonStr); err2 == nil {
				a.logger.Info("Extracted JSON from response")
				return result, nil
			}
		}

		a.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	a.logger.Info("Advisory review completed", zap.Int("items", len(result.Items)))
	return result, nil
}

// decodeStrict rejects unknown fields and trailing data
func decodeStrict(content string) (*port.AdvisoryResponse, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.DisallowUnknownFields()

	var out struct {
		Items *[]port.AdvisoryVerdict `json:"items"`
	}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON object")
	}
	if out.Items == nil {
		return nil, errors.New(`missing "items" array`)
	}
	return &port.AdvisoryResponse{Items: *out.Items}, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// extractJSON extracts the first JSON object from a string
func extractJSON(content string) string {
	start := findJSONStart(content)
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONStart finds the start of JSON content in a string
func findJSONStart(content string) int {
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			return i
		}
	}
	return -1
}

// findJSONEnd finds the end of JSON content starting at a given position
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}

		if char == '\\' {
			escapeNext = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if char == '{' {
			braceCount++
		} else if char == '}' {
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}

var _ port.AdvisoryClient = (*Advisor)(nil)
