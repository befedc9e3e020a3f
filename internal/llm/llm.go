package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the provider base URL used when none is configured.
const DefaultEndpoint = "https://api.deepseek.com"

// Provider is the interface for generative text providers.
type Provider interface {
	Generate(ctx context.Context, system, user string, maxTokens int) (string, error)
	IsConfigured() bool
}

// DeepSeekProvider talks to a DeepSeek (OpenAI-compatible) chat completions
// endpoint.
type DeepSeekProvider struct {
	Model    string
	APIKey   string
	Endpoint string
	client   *http.Client
}

// NewDeepSeekProvider creates a new DeepSeek provider. An empty endpoint
// falls back to DefaultEndpoint.
func NewDeepSeekProvider(model, apiKey, endpoint string) *DeepSeekProvider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &DeepSeekProvider{
		Model:    model,
		APIKey:   apiKey,
		Endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (d *DeepSeekProvider) IsConfigured() bool {
	return d.APIKey != ""
}

// Generate sends a system+user message pair and returns the completion text.
func (d *DeepSeekProvider) Generate(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if d.APIKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	body := map[string]any{
		"model": d.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"max_tokens":  maxTokens,
		"temperature": 0.1,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.Endpoint+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}

	return result.Choices[0].Message.Content, nil
}

// APIError is a non-200 response from the completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion API returned %d: %s", e.StatusCode, e.Body)
}

// Failure reasons for classified provider errors.
const (
	ReasonAuthFailure         = "auth_failure"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonOther               = "other"
)

// ClassifyError maps a provider error to a logged reason: authentication,
// quota/balance, or generic.
func ClassifyError(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return ReasonAuthFailure
		case http.StatusPaymentRequired:
			return ReasonInsufficientBalance
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication"), strings.Contains(msg, "unauthorized"):
		return ReasonAuthFailure
	case strings.Contains(msg, "insufficient balance"), strings.Contains(msg, "余额不足"):
		return ReasonInsufficientBalance
	}
	return ReasonOther
}
