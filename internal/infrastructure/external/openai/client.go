package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client implements port.LLMClient using OpenAI chat completions
type Client struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewClient creates a new OpenAI decision client. A nil prompts falls
// back to the built-in prompt set.
func NewClient(apiKey, model string, prompts *PromptConfig, logger *zap.Logger) *Client {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Client{
		client:  openai.NewClient(apiKey),
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
}

// Complete issues a raw completion call
func (c *Client) Complete(ctx context.Context, prompt string, opts agent.CompletionOptions) (*agent.LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, c.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, agent.NewLLMError(agent.LLMErrValidation, "no response from OpenAI", nil)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, agent.NewLLMError(agent.LLMErrContentFilter, "completion blocked by content filter", nil)
	}

	return &agent.LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
	}, nil
}

// ClassifyIntent classifies a single input without deciding actions
func (c *Client) ClassifyIntent(ctx context.Context, input *agent.Input) (*agent.IntentClassification, error) {
	c.logger.Debug("Classifying intent",
		zap.String("source", string(input.Source)),
		zap.String("input_type", input.Type))

	section := c.prompts.IntentClassification
	prompt, err := renderTemplate(section.UserTemplate, map[string]interface{}{
		"Source":  string(input.Source),
		"Type":    input.Type,
		"Content": input.RawContent,
	})
	if err != nil {
		return nil, agent.NewLLMError(agent.LLMErrValidation, "failed to render classification prompt", err)
	}

	content, err := c.chat(ctx, section, prompt)
	if err != nil {
		return nil, err
	}

	var result agent.IntentClassification
	if err := c.parseJSON(content, &result); err != nil {
		return nil, err
	}

	c.logger.Info("Intent classified",
		zap.String("intent", result.Intent),
		zap.Float64("confidence", result.Confidence))

	return &result, nil
}

// MakeDecision produces a full decision for the given context
func (c *Client) MakeDecision(ctx context.Context, dc *agent.DecisionContext) (*agent.DecisionResult, error) {
	c.logger.Debug("Requesting decision",
		zap.String("source", string(dc.Input.Source)),
		zap.String("input_type", dc.Input.Type))

	prompt, err := c.buildDecisionPrompt(dc)
	if err != nil {
		return nil, agent.NewLLMError(agent.LLMErrValidation, "failed to render decision prompt", err)
	}

	content, err := c.chat(ctx, c.prompts.Decision, prompt)
	if err != nil {
		return nil, err
	}

	var result agent.DecisionResult
	if err := c.parseJSON(content, &result); err != nil {
		return nil, err
	}
	result.ClampConfidence()

	// Drop anything outside the caller-permitted action set rather than
	// failing the whole decision.
	if len(dc.AvailableActions) > 0 {
		permitted := result.Actions[:0]
		for _, a := range result.Actions {
			if dc.Permits(a.Type) {
				permitted = append(permitted, a)
			} else {
				c.logger.Warn("Dropping unpermitted action from decision",
					zap.String("action_type", string(a.Type)))
			}
		}
		result.Actions = permitted
	}

	c.logger.Info("Decision completed",
		zap.String("intent", result.Intent),
		zap.Float64("confidence", result.Confidence),
		zap.Int("actions", len(result.Actions)))

	return &result, nil
}

// buildDecisionPrompt renders the decision prompt from the context
func (c *Client) buildDecisionPrompt(dc *agent.DecisionContext) (string, error) {
	inputJSON, _ := json.MarshalIndent(dc.Input, "", "  ")
	orgJSON, _ := json.MarshalIndent(dc.Org, "", "  ")

	historyJSON := ""
	if dc.History != nil {
		b, _ := json.MarshalIndent(dc.History, "", "  ")
		historyJSON = string(b)
	}

	actionsList := "any"
	if len(dc.AvailableActions) > 0 {
		names := make([]string, len(dc.AvailableActions))
		for i, a := range dc.AvailableActions {
			names[i] = string(a)
		}
		actionsList = strings.Join(names, ", ")
	}

	return renderTemplate(c.prompts.Decision.UserTemplate, map[string]interface{}{
		"InputJSON":   string(inputJSON),
		"OrgJSON":     string(orgJSON),
		"HistoryJSON": historyJSON,
		"ActionsList": actionsList,
	})
}

// chat issues a system+user chat completion in JSON mode
func (c *Client) chat(ctx context.Context, section PromptSection, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: section.Temperature,
		MaxTokens:   section.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: section.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", c.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", agent.NewLLMError(agent.LLMErrValidation, "no response from OpenAI", nil)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", agent.NewLLMError(agent.LLMErrContentFilter, "completion blocked by content filter", nil)
	}
	return choice.Message.Content, nil
}

// parseJSON unmarshals the response, falling back to extracting JSON
// from markdown code blocks
func (c *Client) parseJSON(content string, out interface{}) error {
	if err := json.Unmarshal([]byte(content), out); err != nil {
		if jsonStr := extractJSON(content); jsonStr != "" {
			if err := json.Unmarshal([]byte(jsonStr), out); err == nil {
				c.logger.Info("Extracted JSON from response")
				return nil
			}
		}
		c.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", content))
		return agent.NewLLMError(agent.LLMErrValidation, "failed to parse response", err)
	}
	return nil
}

// mapError translates transport failures into the LLMError taxonomy
func (c *Client) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return agent.NewLLMError(agent.LLMErrTimeout, "OpenAI request timed out", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return agent.NewLLMError(agent.LLMErrAuth, "OpenAI authentication failed", err)
		case apiErr.HTTPStatusCode == 429:
			return agent.NewLLMError(agent.LLMErrRateLimit, "OpenAI rate limit exceeded", err)
		case apiErr.HTTPStatusCode >= 500:
			return agent.NewLLMError(agent.LLMErrOverload, "OpenAI service overloaded", err)
		}
	}

	return agent.NewLLMError(agent.LLMErrValidation, fmt.Sprintf("OpenAI API call failed: %v", err), err)
}

// extractJSON extracts JSON from markdown code blocks
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONEnd finds the end of JSON content starting at a given position
func findJSONEnd(content string, start int) int {
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
