package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

const openAIChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int64                 `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type OpenAI struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewOpenAI(apiKey, model string, httpClient *http.Client, logger *logrus.Logger) *OpenAI {
	return &OpenAI{
		apiKey:     apiKey,
		model:      model,
		endpoint:   openAIChatCompletionsURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (o *OpenAI) Provider() string { return ProviderOpenAI }
func (o *OpenAI) Name() string     { return o.model }

func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	reqBody := openAIRequest{
		Model: o.model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.JSONOutput {
		reqBody.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		o.logger.WithError(err).Warn("llm openai error")
		return Response{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return Response{}, fmt.Errorf("parsing OpenAI response (status %d): %w", resp.StatusCode, err)
	}
	if openAIResp.Error != nil {
		o.logger.WithField("status", resp.StatusCode).Warn("llm openai api error")
		return Response{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, fmt.Errorf("OpenAI API error: status %d", resp.StatusCode)
	}
	if len(openAIResp.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices in OpenAI response")
	}

	usage := Usage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}
	model := openAIResp.Model
	if model == "" {
		model = o.model
	}
	text := openAIResp.Choices[0].Message.Content
	o.logger.WithFields(logrus.Fields{
		"size":       len(text),
		"tokens_in":  usage.InputTokens,
		"tokens_out": usage.OutputTokens,
	}).Debug("llm openai response")
	return Response{Text: text, Model: model, Usage: usage}, nil
}
