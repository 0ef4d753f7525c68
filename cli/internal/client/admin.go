package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the server has no such job or entry.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the ingest service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	JobID      string `json:"job_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Job is a queued webhook delivery.
type Job struct {
	JobID      string          `json:"job_id"`
	EventKind  string          `json:"event_kind"`
	ReceivedAt time.Time       `json:"received_at"`
	InstanceID string          `json:"instance_id"`
	TenantID   string          `json:"tenant_id"`
	RequestID  string          `json:"request_id,omitempty"`
	PathHint   string          `json:"path_hint,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// DeadLetter is a job that failed processing.
type DeadLetter struct {
	Job
	Error    Failure   `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Replays  int       `json:"replays,omitempty"`
}

type ReplayResult struct {
	JobID     string `json:"job_id"`
	EventKind string `json:"event_kind"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Ignored   bool   `json:"ignored"`
}

type QueueStats struct {
	Pending     int64 `json:"pending"`
	Jobs        int64 `json:"jobs"`
	DeadLetters int64 `json:"dead_letters"`
}

type ServiceStats struct {
	Received     uint64    `json:"received"`
	Ignored      uint64    `json:"ignored"`
	Succeeded    uint64    `json:"succeeded"`
	DeadLettered uint64    `json:"dead_lettered"`
	Replayed     uint64    `json:"replayed"`
	LastDelivery time.Time `json:"last_delivery"`
}

type Stats struct {
	Queue   QueueStats                   `json:"queue"`
	Service ServiceStats                 `json:"service"`
	Sinks   map[string]map[string]uint64 `json:"sinks,omitempty"`
}

// AdminClient talks to the /admin API with the operator token.
type AdminClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *AdminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}

func (c *AdminClient) Pending(ctx context.Context, limit int) ([]Job, error) {
	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/queue/pending"+limitQuery(limit), &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *AdminClient) Job(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/admin/queue/jobs/"+url.PathEscape(id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *AdminClient) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	var resp struct {
		Entries []DeadLetter `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/deadletters"+limitQuery(limit), &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *AdminClient) DeadLetter(ctx context.Context, id string) (*DeadLetter, error) {
	var entry DeadLetter
	if err := c.do(ctx, http.MethodGet, "/admin/deadletters/"+url.PathEscape(id), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Replay re-runs a dead-lettered job. A job that fails again comes back as
// an *APIError carrying its job id.
func (c *AdminClient) Replay(ctx context.Context, id string) (*ReplayResult, error) {
	var resp struct {
		Result ReplayResult `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/deadletters/"+url.PathEscape(id)+"/replay", &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

func (c *AdminClient) Purge(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/deadletters/"+url.PathEscape(id), nil)
}

func (c *AdminClient) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/admin/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
