package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sna-ai/sna/internal/config"
)

// Request is one LLM generation request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Response carries generated text plus usage accounting from one provider
// call.
type Response struct {
	Content          string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
}

// Provider is one LLM backend in the fallback chain.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// NewProviders builds the provider chain from configuration, in chain
// order. The claude provider speaks the Anthropic API; everything else is
// OpenAI-compatible.
func NewProviders(cfgs []config.ProviderConfig) []Provider {
	providers := make([]Provider, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Name == "claude" {
			providers = append(providers, newClaudeProvider(cfg))
			continue
		}
		providers = append(providers, newOpenAIProvider(cfg))
	}
	return providers
}

// tokenCost converts a token count pair into dollars using per-1K rates.
func tokenCost(promptTokens, completionTokens int, rateIn, rateOut float64) float64 {
	return float64(promptTokens)*rateIn/1000 + float64(completionTokens)*rateOut/1000
}

// openAIProvider covers OpenRouter, MiniMax, and self-hosted OpenAI-compatible
// endpoints.
type openAIProvider struct {
	client  *openai.Client
	name    string
	model   string
	rateIn  float64
	rateOut float64
}

func newOpenAIProvider(cfg config.ProviderConfig) *openAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &openAIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		name:    cfg.Name,
		model:   cfg.Model,
		rateIn:  cfg.RateInPer1K,
		rateOut: cfg.RateOutPer1K,
	}
}

func (p *openAIProvider) Name() string { return p.name }

func (p *openAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%s api call failed: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned from model %s", p.model)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("empty response from model %s (finish_reason: %s)", p.model, resp.Choices[0].FinishReason)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Response{
		Content:          content,
		Provider:         p.name,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostUSD:          tokenCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, p.rateIn, p.rateOut),
	}, nil
}

// claudeProvider speaks the native Anthropic messages API.
type claudeProvider struct {
	client  anthropic.Client
	name    string
	model   string
	rateIn  float64
	rateOut float64
}

func newClaudeProvider(cfg config.ProviderConfig) *claudeProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &claudeProvider{
		client:  anthropic.NewClient(opts...),
		name:    cfg.Name,
		model:   cfg.Model,
		rateIn:  cfg.RateInPer1K,
		rateOut: cfg.RateOutPer1K,
	}
}

func (p *claudeProvider) Name() string { return p.name }

func (p *claudeProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s api call failed: %w", p.name, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, fmt.Errorf("empty response from model %s", p.model)
	}

	promptTokens := int(msg.Usage.InputTokens)
	completionTokens := int(msg.Usage.OutputTokens)
	return &Response{
		Content:          content,
		Provider:         p.name,
		Model:            string(msg.Model),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostUSD:          tokenCost(promptTokens, completionTokens, p.rateIn, p.rateOut),
	}, nil
}
