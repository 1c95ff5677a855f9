// Package relay implements the HTTP adapter for the gasless transaction
// relay network. It maps the relay API's failure modes onto classified
// domain errors so the pipeline can react without inspecting message text.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// Client submits sponsored calls to the relay network's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.RelayNetwork = (*Client)(nil)

// NewClient creates a new relay client.
//
// baseURL is the relay API endpoint, e.g. "https://relay.example.com".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// sponsoredCallRequest is the relay API's submission envelope.
type sponsoredCallRequest struct {
	ChainID int64  `json:"chainId"`
	Target  string `json:"target"`
	Data    string `json:"data"`
}

// sponsoredCallResponse is the relay API's accept envelope.
type sponsoredCallResponse struct {
	TaskID string `json:"taskId"`
}

// apiError is the relay API's error envelope.
type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Relay submits calldata for sponsored execution on the target chain. The
// relay pays gas; the returned task ID can be used to track execution.
func (c *Client) Relay(ctx context.Context, targetChain int64, targetAddress string, callData []byte) (domain.RelayTask, error) {
	if targetAddress == "" || len(callData) == 0 {
		return domain.RelayTask{}, &domain.RelayError{
			Kind:    domain.RelayErrInvalidRequest,
			Message: "target address and calldata required",
		}
	}

	reqBody := sponsoredCallRequest{
		ChainID: targetChain,
		Target:  targetAddress,
		Data:    "0x" + fmt.Sprintf("%x", callData),
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return domain.RelayTask{}, &domain.RelayError{
			Kind:    domain.RelayErrInvalidRequest,
			Message: "marshal request: " + err.Error(),
		}
	}

	url := c.baseURL + "/relays/v2/sponsored-call"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return domain.RelayTask{}, &domain.RelayError{
			Kind:    domain.RelayErrInvalidRequest,
			Message: "create request: " + err.Error(),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RelayTask{}, &domain.RelayError{
			Kind:    domain.RelayErrTransport,
			Message: err.Error(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RelayTask{}, &domain.RelayError{
			Kind:    domain.RelayErrTransport,
			Message: "read response: " + err.Error(),
		}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.RelayTask{}, classifyHTTPError(resp.StatusCode, body)
	}

	var accepted sponsoredCallResponse
	if err := json.Unmarshal(body, &accepted); err != nil {
		return domain.RelayTask{}, &domain.RelayError{
			Kind:    domain.RelayErrTransport,
			Message: "decode response: " + err.Error(),
		}
	}
	if accepted.TaskID == "" {
		return domain.RelayTask{}, &domain.RelayError{
			Kind:    domain.RelayErrTransport,
			Message: "relay accepted without a task id",
		}
	}
	return domain.RelayTask{TaskID: accepted.TaskID}, nil
}

// TaskState is the relay-side execution state of a submitted task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskExecuted  TaskState = "executed"
	TaskCancelled TaskState = "cancelled"
)

// TaskStatus reports the relay-side status of a task.
type TaskStatus struct {
	TaskID string    `json:"taskId"`
	State  TaskState `json:"state"`
	TxHash string    `json:"transactionHash,omitempty"`
}

// GetTaskStatus fetches the execution status of a previously relayed task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	url := c.baseURL + "/tasks/status/" + taskID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("relay: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TaskStatus{}, &domain.RelayError{Kind: domain.RelayErrTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskStatus{}, &domain.RelayError{Kind: domain.RelayErrTransport, Message: "read response: " + err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return TaskStatus{}, classifyHTTPError(resp.StatusCode, body)
	}

	var status TaskStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return TaskStatus{}, &domain.RelayError{Kind: domain.RelayErrTransport, Message: "decode response: " + err.Error()}
	}
	return status, nil
}

// classifyHTTPError maps a relay API error response to a RelayError kind.
// Chain support is signalled either by the documented error code or, for
// older API versions, by message text.
func classifyHTTPError(status int, body []byte) *domain.RelayError {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d: %s", status, string(body))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.RelayError{Kind: domain.RelayErrAuthFailed, Message: msg}
	case apiErr.Code == "UNSUPPORTED_CHAIN" || strings.Contains(strings.ToLower(msg), "unsupported chain"):
		return &domain.RelayError{Kind: domain.RelayErrChainUnsupported, Message: msg}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &domain.RelayError{Kind: domain.RelayErrInvalidRequest, Message: msg}
	default:
		return &domain.RelayError{Kind: domain.RelayErrTransport, Message: msg}
	}
}
