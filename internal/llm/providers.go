package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/dyike/AurumGo/config"
)

const (
	ProviderClaude   = "claude"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderDeepSeek = "deepseek"
)

// Providers lists every supported provider name.
var Providers = []string{ProviderClaude, ProviderOpenAI, ProviderGemini, ProviderDeepSeek}

var ErrMissingAPIKey = errors.New("llm: missing api key")

func IsProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

// NewProvider builds a client for the named provider from cfg. Claude and
// Gemini are reached through their OpenAI-compatible endpoints.
func NewProvider(ctx context.Context, name string, cfg *config.Config, opts ...Option) (*Client, error) {
	maxTokens := cfg.MaxTokens

	switch name {
	case ProviderClaude, ProviderOpenAI, ProviderGemini:
		apiKey, modelName, baseURL := openAICompatible(name, cfg)
		if apiKey == "" {
			return nil, fmt.Errorf("%s: %w", name, ErrMissingAPIKey)
		}
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:    apiKey,
			BaseURL:   baseURL,
			Model:     modelName,
			MaxTokens: &maxTokens,
			Timeout:   cfg.LLMTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("create %s chat model: %w", name, err)
		}
		return NewClient(name, modelName, cm, opts...), nil

	case ProviderDeepSeek:
		if cfg.DeepSeekAPIKey == "" {
			return nil, fmt.Errorf("%s: %w", name, ErrMissingAPIKey)
		}
		cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekAPIKey,
			Model:     cfg.DeepSeekModel,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create deepseek chat model: %w", err)
		}
		return NewClient(name, cfg.DeepSeekModel, cm, opts...), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", name)
}

func openAICompatible(name string, cfg *config.Config) (apiKey, modelName, baseURL string) {
	switch name {
	case ProviderClaude:
		return cfg.ClaudeAPIKey, cfg.ClaudeModel, cfg.ClaudeBaseURL
	case ProviderGemini:
		return cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL
	default:
		return cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL
	}
}
