package generator

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-haiku-4-5"

// Anthropic generates content with the Anthropic Messages API.
type Anthropic struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewAnthropic returns an Anthropic generator. Extra request options (base
// URL, HTTP client) are passed through to the SDK.
func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	if model == "" {
		model = DefaultAnthropicModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client:    sdk.NewClient(opts...),
		model:     model,
		maxTokens: 1024,
	}
}

func (a *Anthropic) Generate(ctx context.Context, req Request) (Content, error) {
	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(a.model),
		MaxTokens:   a.maxTokens,
		System:      []sdk.TextBlockParam{{Text: systemPrompt(req)}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(userPrompt(req)))},
		Temperature: sdk.Float(0.7),
	})
	if err != nil {
		return Content{}, fmt.Errorf("anthropic: create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	c, err := finish(parseReply(sb.String()), req.Limit())
	if err != nil {
		return Content{}, fmt.Errorf("anthropic: %w", err)
	}
	return c, nil
}
