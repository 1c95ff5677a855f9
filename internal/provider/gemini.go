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

// GeminiClient calls the Google Generative Language API.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ domain.AIProvider = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini client.
//
// baseURL defaults to "https://generativelanguage.googleapis.com" when empty.
func NewGeminiClient(baseURL, apiKey, model string) *GeminiClient {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the model identifier used in votes and logs.
func (c *GeminiClient) Name() string {
	return c.model
}

// generateRequest is the generateContent request envelope.
type generateRequest struct {
	Contents         []geminiContent   `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
}

// generateResponse is the generateContent response envelope.
type generateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate produces raw model output for the prompt.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, cfg domain.GenerationConfig) (string, error) {
	reqBody := generateRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", c.err(domain.ProviderErrBadResponse, "marshal request: "+err.Error())
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", c.err(domain.ProviderErrTransport, "create request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", c.err(domain.ProviderErrTimeout, err.Error())
		}
		return "", c.err(domain.ProviderErrTransport, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.err(domain.ProviderErrTransport, "read response: "+err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyStatus(resp.StatusCode, body)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", c.err(domain.ProviderErrBadResponse, "decode response: "+err.Error())
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", c.err(domain.ProviderErrBadResponse, "no candidates in response")
	}

	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// classifyStatus maps an HTTP error status to a provider error kind.
func (c *GeminiClient) classifyStatus(status int, body []byte) error {
	var out generateResponse
	_ = json.Unmarshal(body, &out)
	msg := fmt.Sprintf("HTTP %d", status)
	if out.Error != nil && out.Error.Message != "" {
		msg = out.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return c.err(domain.ProviderErrRateLimited, msg)
	case status == http.StatusGatewayTimeout || (out.Error != nil && out.Error.Status == "DEADLINE_EXCEEDED"):
		return c.err(domain.ProviderErrTimeout, msg)
	default:
		return c.err(domain.ProviderErrTransport, msg)
	}
}

func (c *GeminiClient) err(kind domain.ProviderErrorKind, msg string) error {
	return &domain.ProviderError{Provider: c.model, Kind: kind, Message: msg}
}
