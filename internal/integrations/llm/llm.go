// Package llm adapts the supported model providers to a single Model
// interface used by the flow runner.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"labinsight/internal/config"
	"labinsight/internal/httpx"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-2.0-flash"
	defaultMaxTokens      = 4096
)

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Request is a single system+user exchange. JSONOutput asks the provider for
// a JSON response where it supports doing so.
type Request struct {
	System     string
	User       string
	MaxTokens  int64
	JSONOutput bool
}

type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Model is one configured provider+model pair. Generate makes exactly one
// outbound call.
type Model interface {
	Provider() string
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// New builds the configured provider wrapped in the breaker and rate-limit
// guard. onBreakerChange may be nil.
func New(cfg config.Config, logger *logrus.Logger, onBreakerChange func(name, from, to string)) (*Guard, error) {
	var (
		model Model
		err   error
	)
	switch strings.ToLower(cfg.LLMProvider) {
	case ProviderOpenAI:
		model = NewOpenAI(cfg.OpenAIAPIKey, orDefault(cfg.LLMModel, defaultOpenAIModel), httpx.ExternalHTTPClient(), logger)
	case ProviderGemini:
		model, err = NewGemini(context.Background(), cfg.GeminiAPIKey, orDefault(cfg.LLMModel, defaultGeminiModel), httpx.ExternalHTTPClient(), logger)
	case ProviderAnthropic, "":
		model = NewAnthropic(cfg.AnthropicAPIKey, orDefault(cfg.LLMModel, defaultAnthropicModel), httpx.ExternalHTTPClient(), logger)
	default:
		return nil, fmt.Errorf("unsupported llm_provider %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, err
	}
	return NewGuard(model, GuardSettings{
		RatePerSecond: cfg.LLMRateLimitPerSec,
		OnStateChange: onBreakerChange,
	}, logger), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func maxTokensOrDefault(n int64) int64 {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
