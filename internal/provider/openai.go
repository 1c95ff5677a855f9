// Package provider implements HTTP adapters for the AI model providers the
// consensus engine queries. Every adapter classifies its failures into
// domain.ProviderError kinds and returns raw model text untouched; the
// answer extractor deals with formatting.
package provider

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

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// OpenAIClient calls an OpenAI-compatible chat completions API. It works
// against OpenAI itself and any compatible gateway (Azure, local inference
// servers) by pointing baseURL at the deployment.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ domain.AIProvider = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
//
// baseURL defaults to "https://api.openai.com" when empty.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the model identifier used in votes and logs.
func (c *OpenAIClient) Name() string {
	return c.model
}

// chatRequest is the chat completions request envelope.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the chat completions response envelope.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate produces raw model output for the prompt.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, cfg domain.GenerationConfig) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxOutputTokens,
		TopP:        cfg.TopP,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", c.err(domain.ProviderErrBadResponse, "marshal request: "+err.Error())
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", c.err(domain.ProviderErrTransport, "create request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.err(domain.ProviderErrTransport, "read response: "+err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyStatus(resp.StatusCode, body)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", c.err(domain.ProviderErrBadResponse, "decode response: "+err.Error())
	}
	if len(out.Choices) == 0 {
		return "", c.err(domain.ProviderErrBadResponse, "no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

// classifyStatus maps an HTTP error status to a provider error kind.
func (c *OpenAIClient) classifyStatus(status int, body []byte) error {
	var out chatResponse
	_ = json.Unmarshal(body, &out)
	msg := fmt.Sprintf("HTTP %d", status)
	if out.Error != nil && out.Error.Message != "" {
		msg = out.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return c.err(domain.ProviderErrRateLimited, msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return c.err(domain.ProviderErrTimeout, msg)
	default:
		return c.err(domain.ProviderErrTransport, msg)
	}
}

// classifyTransport maps a round-trip failure to a provider error kind.
func (c *OpenAIClient) classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return c.err(domain.ProviderErrTimeout, err.Error())
	}
	return c.err(domain.ProviderErrTransport, err.Error())
}

func (c *OpenAIClient) err(kind domain.ProviderErrorKind, msg string) error {
	return &domain.ProviderError{Provider: c.model, Kind: kind, Message: msg}
}
