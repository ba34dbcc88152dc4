package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

type Gemini struct {
	client *genai.Client
	model  string
	logger *logrus.Logger
}

// NewGemini creates a Gemini API client. baseURL overrides the API endpoint
// and is empty outside tests.
func NewGemini(ctx context.Context, apiKey, model string, httpClient *http.Client, logger *logrus.Logger, baseURL ...string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini_api_key is required for llm_provider=gemini")
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if len(baseURL) > 0 && baseURL[0] != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL[0]}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

func (g *Gemini) Provider() string { return ProviderGemini }
func (g *Gemini) Name() string     { return g.model }

func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		MaxOutputTokens:   int32(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.JSONOutput {
		genCfg.ResponseMIMEType = "application/json"
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.User), genCfg)
	if err != nil {
		g.logger.WithError(err).Warn("llm gemini error")
		return Response{}, fmt.Errorf("Gemini API error: %w", err)
	}

	usage := Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.CacheReadInputTokens = int64(result.UsageMetadata.CachedContentTokenCount)
	}
	text := result.Text()
	g.logger.WithFields(logrus.Fields{
		"size":       len(text),
		"tokens_in":  usage.InputTokens,
		"tokens_out": usage.OutputTokens,
	}).Debug("llm gemini response")
	return Response{Text: text, Model: g.model, Usage: usage}, nil
}
