package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"cassandra/internal/provider"
	"cassandra/pkg/logger"
)

var _ provider.Provider = (*OpenAIProvider)(nil)

const redacted = "[REDACTED]"

// OpenAIProvider implements the Provider interface for OpenAI-compatible
// chat completion APIs. Every call is a single attempt.
type OpenAIProvider struct {
	name         string
	apiKey       string
	endpoint     string
	model        string
	maxTokens    int
	serviceTier  string
	timeout      time.Duration
	httpClient   *http.Client // non-streaming requests, overall timeout
	streamClient *http.Client // streaming requests, no body read timeout
}

// New creates a new OpenAI-compatible provider.
func New(cfg Config) *OpenAIProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}

	// Strip trailing /v1 to avoid /v1/v1/chat/completions
	normalized := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	normalized = strings.TrimSuffix(normalized, "/v1")

	return &OpenAIProvider{
		name:        cfg.Name,
		apiKey:      cfg.APIKey,
		endpoint:    normalized,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		serviceTier: cfg.ServiceTier,
		timeout:     cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		// http.Client.Timeout covers body reads and would cut long SSE
		// responses, so only connection setup and headers are bounded here.
		streamClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   cfg.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the default model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request and returns the response.
func (p *OpenAIProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	chatReq := p.buildRequest(req, false)

	logger.Debug().Str("provider", p.name).Str("model", chatReq.Model).
		Int("message_count", len(chatReq.Messages)).
		Msg("Chat request")

	resp, err := p.do(ctx, p.httpClient, chatReq, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.transportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.handleErrorResponse(resp.StatusCode, body)
	}

	if len(body) == 0 {
		return nil, provider.NewProviderError(provider.ErrCodeInvalidResponse, "empty response body", p.name, true)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		logger.Warn().Err(err).Str("provider", p.name).Msg("Failed to parse chat response")
		return nil, provider.NewProviderError(provider.ErrCodeInvalidResponse, "malformed response: "+err.Error(), p.name, false)
	}

	if chatResp.Error != nil {
		return nil, provider.NewProviderError(provider.ErrCodeUnknown,
			p.redact(fmt.Sprintf("[%s] %s", chatResp.Error.Type, chatResp.Error.Message)), p.name, false)
	}
	if len(chatResp.Choices) == 0 {
		return nil, provider.NewProviderError(provider.ErrCodeInvalidResponse, "response has no choices", p.name, false)
	}

	return p.convertResponse(&chatResp), nil
}

// Stream sends a streaming chat completion request. The returned channel
// yields content events and ends with exactly one done or error event.
func (p *OpenAIProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	chatReq := p.buildRequest(req, true)

	logger.Debug().Str("provider", p.name).Str("model", chatReq.Model).
		Int("message_count", len(chatReq.Messages)).
		Msg("Stream request")

	resp, err := p.do(ctx, p.streamClient, chatReq, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, p.handleErrorResponse(resp.StatusCode, body)
	}

	return ProcessStream(ctx, resp.Body, p.name), nil
}

// buildRequest converts a provider.ChatRequest to the wire format.
func (p *OpenAIProvider) buildRequest(req provider.ChatRequest, stream bool) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}

	chatReq := &chatRequest{
		Model:    model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   stream,
	}
	if stream {
		chatReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		chatReq.MaxCompletionTokens = maxTokens
	}

	if req.Temperature >= 0 {
		temp := req.Temperature
		chatReq.Temperature = &temp
	}

	chatReq.ServiceTier = req.ServiceTier
	if chatReq.ServiceTier == "" {
		chatReq.ServiceTier = p.serviceTier
	}

	for _, msg := range req.Messages {
		content := msg.Content
		chatReq.Messages = append(chatReq.Messages, chatMessage{
			Role:    msg.Role,
			Content: &content,
		})
	}

	return chatReq
}

// do sends a POST to /v1/chat/completions on the given client.
func (p *OpenAIProvider) do(ctx context.Context, client *http.Client, body *chatRequest, stream bool) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, p.transportError(err)
	}
	return resp, nil
}

// transportError classifies a client.Do or body read failure.
func (p *OpenAIProvider) transportError(err error) error {
	if provider.IsTimeout(err) {
		return &provider.ProviderError{
			Code:      provider.ErrCodeTimeout,
			Message:   fmt.Sprintf("request timed out after %s", p.timeout),
			Provider:  p.name,
			Retryable: true,
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &provider.ProviderError{
		Code:      provider.ErrCodeNetworkError,
		Message:   p.redact(err.Error()),
		Provider:  p.name,
		Retryable: true,
	}
}

// handleErrorResponse converts an HTTP error response to a ProviderError.
func (p *OpenAIProvider) handleErrorResponse(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var errResp chatResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		message = errResp.Error.Message
	}
	message = p.redact(message)
	if message == "" {
		message = http.StatusText(statusCode)
	}

	logger.Warn().Str("provider", p.name).Int("status", statusCode).Str("body", message).Msg("Error response")

	pe := &provider.ProviderError{Message: message, Provider: p.name, Status: statusCode}
	lowerMsg := strings.ToLower(message)

	switch {
	case strings.Contains(lowerMsg, "context length") ||
		strings.Contains(lowerMsg, "maximum context") ||
		strings.Contains(lowerMsg, "too many tokens"):
		pe.Code = provider.ErrCodeContextWindowExceeded
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		pe.Code = provider.ErrCodeAuthFailed
	case statusCode == http.StatusTooManyRequests:
		pe.Code = provider.ErrCodeRateLimited
		if errResp.Error != nil && errResp.Error.Code == "insufficient_quota" {
			pe.Code = provider.ErrCodeQuotaExceeded
		}
		pe.Retryable = true
	case statusCode == http.StatusNotFound:
		pe.Code = provider.ErrCodeModelNotFound
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		pe.Code = provider.ErrCodeInvalidRequest
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		pe.Code = provider.ErrCodeTimeout
		pe.Retryable = true
	case statusCode >= 500:
		pe.Code = provider.ErrCodeServiceUnavailable
		pe.Retryable = true
	default:
		pe.Code = provider.ErrCodeUnknown
	}
	return pe
}

// convertResponse converts the wire response to a provider response.
func (p *OpenAIProvider) convertResponse(resp *chatResponse) *provider.ChatResponse {
	result := &provider.ChatResponse{
		FinishReason: provider.FinishReasonStop,
		Usage:        resp.Usage.toProvider(),
	}

	choice := resp.Choices[0]
	if choice.Message.Content != nil {
		result.Content = *choice.Message.Content
	}
	if choice.FinishReason == provider.FinishReasonLength {
		result.FinishReason = provider.FinishReasonLength
	}
	return result
}

// redact keeps the API key out of error messages and logs.
func (p *OpenAIProvider) redact(s string) string {
	if len(p.apiKey) < 4 {
		return s
	}
	return strings.ReplaceAll(s, p.apiKey, redacted)
}
