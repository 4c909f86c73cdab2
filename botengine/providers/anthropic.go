package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
)

const anthropicDefaultMaxTokens = 2048

// AnthropicProvider es el adaptador de chat sobre la API de Anthropic.
type AnthropicProvider struct {
	client sdk.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: sdk.NewClient(option.WithAPIKey(apiKey))}
}

// Chat implementa domain.ChatProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}

	for _, t := range req.Tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: t.Parameters}, t.Name)
		if t.Description != "" && u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, u)
	}

	for _, t := range req.History {
		switch {
		case len(t.ToolCalls) > 0:
			var blocks []sdk.ContentBlockParamUnion
			if t.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(t.Text))
			}
			for _, tc := range t.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Args, tc.Name))
			}
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
		case len(t.ToolResponses) > 0:
			// Todos los resultados de un turno van en un solo mensaje user
			var blocks []sdk.ContentBlockParamUnion
			for _, tr := range t.ToolResponses {
				data, _ := json.Marshal(tr.Data)
				blocks = append(blocks, sdk.NewToolResultBlock(tr.ID, string(data), false))
			}
			params.Messages = append(params.Messages, sdk.NewUserMessage(blocks...))
		case t.Role == domain.RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(t.Text)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(t.Text)))
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	if msg == nil {
		return domain.ChatResponse{}, fmt.Errorf("no response from anthropic")
	}

	var resp domain.ChatResponse
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			var args map[string]any
			_ = json.Unmarshal(block.Input, &args)
			resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}

	resp.Usage = domain.UsageStats{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	resp.Usage.CostUSD = costOf(anthropicPrices, model, DefaultAnthropicModel,
		resp.Usage.InputTokens, resp.Usage.OutputTokens)

	logrus.WithFields(logrus.Fields{
		"model":          model,
		"input_tokens":   resp.Usage.InputTokens,
		"output_tokens":  resp.Usage.OutputTokens,
		"cost_usd":       fmt.Sprintf("$%.6f", resp.Usage.CostUSD),
		"has_tool_calls": len(resp.ToolCalls) > 0,
	}).Debug("[ANTHROPIC] Chat completed")

	return resp, nil
}
