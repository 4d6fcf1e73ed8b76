package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/tracing"
)

var ErrNotConfigured = errors.New("language model api key not configured")

type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []dto.ChatMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message dto.ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type aiService struct {
	cfg    *config.OpenAIConfig
	client *http.Client
}

func NewAIService(cfg *config.OpenAIConfig) interfaces.AIService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &aiService{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Complete sends one chat completion request and returns the first choice.
func (s *aiService) Complete(ctx context.Context, request dto.CompletionRequest) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "aiService.Complete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("model", s.cfg.Model, "messages", len(request.Messages))

	if s.cfg.ApiKey == "" {
		tracing.TraceErr(span, ErrNotConfigured)
		return "", ErrNotConfigured
	}

	messages := make([]dto.ChatMessage, 0, len(request.Messages)+1)
	if request.SystemPrompt != "" {
		messages = append(messages, dto.ChatMessage{Role: "system", Content: request.SystemPrompt})
	}
	messages = append(messages, request.Messages...)

	payload, err := json.Marshal(chatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to marshal payload")
	}

	url := strings.TrimRight(s.cfg.Url, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.ApiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "Unable to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(body))
		tracing.TraceErr(span, err)
		return "", err
	}

	var response chatCompletionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		tracing.TraceErr(span, err)
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if response.Error != nil {
		err := errors.New(response.Error.Message)
		tracing.TraceErr(span, err)
		return "", err
	}
	if len(response.Choices) == 0 {
		err := errors.New("completion returned no choices")
		tracing.TraceErr(span, err)
		return "", err
	}

	text := strings.TrimSpace(response.Choices[0].Message.Content)
	span.LogKV("response.length", len(text))
	return text, nil
}
