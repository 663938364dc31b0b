package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RejectionError is a non-2xx response. Reason is the server's explanation,
// taken from the body's "message", else "error", else the raw body.
type RejectionError struct {
	Status int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("API returned status code: %d, reason: %s", e.Status, e.Reason)
}

// RejectionReason returns the server's reason verbatim.
func (e *RejectionError) RejectionReason() string {
	return e.Reason
}

func newRejectionError(status int, body []byte) *RejectionError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	reason := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			reason = payload.Message
		case payload.Error != "":
			reason = payload.Error
		}
	}
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &RejectionError{Status: status, Reason: reason}
}

type BaseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// SetHTTPClient replaces the underlying client, e.g. with an httptest one.
func (c *BaseClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return nil, newRejectionError(resp.StatusCode, responseBody)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return responseBody, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, body)
}

// PostJSON encodes v as the request body.
func (c *BaseClient) PostJSON(ctx context.Context, endpoint string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.Post(ctx, endpoint, bytes.NewReader(body))
}
