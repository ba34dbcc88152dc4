package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
)

type Anthropic struct {
	client anthropic.Client
	model  string
	logger *logrus.Logger
}

func NewAnthropic(apiKey, model string, httpClient *http.Client, logger *logrus.Logger, opts ...option.RequestOption) *Anthropic {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

func (a *Anthropic) Provider() string { return ProviderAnthropic }
func (a *Anthropic) Name() string     { return a.model }

func (a *Anthropic) Generate(ctx context.Context, req Request) (Response, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		a.logger.WithError(err).Warn("llm anthropic error")
		return Response{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			a.logger.WithFields(logrus.Fields{
				"size":       len(block.Text),
				"tokens_in":  usage.InputTokens,
				"tokens_out": usage.OutputTokens,
			}).Debug("llm anthropic response")
			return Response{Text: block.Text, Model: string(message.Model), Usage: usage}, nil
		}
	}
	return Response{Model: string(message.Model), Usage: usage}, nil
}
