// Package suggest asks a chat-completion model for activity ideas suited to
// a relationship's new stage. Callers treat every failure as "no ideas".
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"companion-workers/internal/common/config"
	httpclient "companion-workers/internal/common/http"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel   = openai.GPT4oMini
	maxSuggestions = 3
)

const systemPrompt = `You help a youth and an older adult who are building an intergenerational companionship.
Reply with JSON of the form {"activities": ["..."]} containing short, concrete, low-cost activity ideas.`

type Client struct {
	api    *openai.Client
	model  string
	logger logger.Logger
}

// NewClient builds a client from the genai settings. baseURL may point at
// any OpenAI-compatible endpoint.
func NewClient(apiKey, baseURL, model string, timeout time.Duration, log logger.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.HTTPClient = httpclient.NewClient(timeout)
	if model == "" {
		model = defaultModel
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model, logger: logger.ForComponent(log, "suggest")}
}

// FromConfig returns nil when generative suggestions are disabled.
func FromConfig(cfg config.APIsConfig, log logger.Logger) *Client {
	if !cfg.GenAI.Enabled || cfg.GenAI.APIKey == "" {
		return nil
	}
	return NewClient(cfg.GenAI.APIKey, cfg.GenAI.BaseURL, cfg.GenAI.Model, time.Duration(cfg.GenAI.Timeout)*time.Millisecond, log)
}

func prompt(stage models.Stage, m models.StageMetrics) string {
	return fmt.Sprintf(
		"The pair just entered the %q stage. So far they have met %d times, been active on %d days, "+
			"had %d video calls and exchanged %d messages. Suggest up to %d activities for this stage.",
		stage.DisplayName(), m.Meetings, m.ActiveDays, m.VideoCalls, m.MessageCount, maxSuggestions)
}

// SuggestActivities returns at most three ideas for stage.
func (c *Client) SuggestActivities(ctx context.Context, stage models.Stage, metrics models.StageMetrics) ([]string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt(stage, metrics)},
		},
		Temperature:    0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	ideas := parse(resp.Choices[0].Message.Content)
	c.logger.Debug("activities suggested", map[string]interface{}{"stage": string(stage), "count": len(ideas)})
	return ideas, nil
}

// parse accepts the requested JSON shape and falls back to one idea per line.
func parse(content string) []string {
	var out []string
	var body struct {
		Activities []string `json:"activities"`
	}
	if err := json.Unmarshal([]byte(content), &body); err == nil {
		out = body.Activities
	} else {
		for _, line := range strings.Split(content, "\n") {
			out = append(out, strings.TrimLeft(line, "-*0123456789. \t"))
		}
	}

	ideas := make([]string, 0, maxSuggestions)
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			ideas = append(ideas, s)
		}
		if len(ideas) == maxSuggestions {
			break
		}
	}
	return ideas
}
