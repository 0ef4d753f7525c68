package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookClient posts provider payloads to the ingest service the way the
// messaging provider does.
type WebhookClient struct {
	baseURL    string
	credential string
	client     *http.Client
}

// WebhookResponse is the success body of POST /webhook.
type WebhookResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"job_id,omitempty"`
	Processed *int   `json:"processed,omitempty"`
	Updated   *int   `json:"updated,omitempty"`
	Ignored   string `json:"ignored,omitempty"`
}

func NewWebhookClient(baseURL, credential string) *WebhookClient {
	return &WebhookClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts body to /webhook, or /webhook/{eventHint} when a hint is given.
func (c *WebhookClient) Send(ctx context.Context, body []byte, eventHint string) (*WebhookResponse, error) {
	path := "/webhook"
	if eventHint != "" {
		path += "/" + url.PathEscape(eventHint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out WebhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
