package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohook/convohook/ingest/internal/authn"
	"github.com/convohook/convohook/ingest/internal/directory"
	"github.com/convohook/convohook/ingest/internal/models"
	"github.com/convohook/convohook/ingest/internal/processor"
	"github.com/convohook/convohook/ingest/internal/queue"
	"github.com/convohook/convohook/ingest/internal/ratelimit"
	"github.com/convohook/convohook/ingest/internal/repository"
	"github.com/convohook/convohook/ingest/internal/service"
)

const (
	activeKey   = "key-active"
	inactiveKey = "key-inactive"
)

// brokenStore fails inserts for the listed provider message ids until healed.
type brokenStore struct {
	*repository.MemoryStore
	mu      sync.Mutex
	failIDs map[string]bool
}

func (s *brokenStore) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	fail := s.failIDs[msg.ProviderMessageID]
	s.mu.Unlock()
	if fail {
		return false, errors.New("connection refused")
	}
	return s.MemoryStore.InsertMessage(ctx, msg)
}

func (s *brokenStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIDs = nil
}

type testEnv struct {
	mr      *miniredis.Miniredis
	client  *redis.Client
	queue   *queue.Queue
	store   *brokenStore
	service *service.IngestService
	webhook *WebhookHandler
	admin   *AdminHandler
}

type envOption func(*envConfig)

type envConfig struct {
	limiter     func(client *redis.Client) ratelimit.RateLimiter
	maxBodySize int64
	failIDs     []string
}

func withRateLimit(limit int) envOption {
	return func(c *envConfig) {
		c.limiter = func(client *redis.Client) ratelimit.RateLimiter {
			l, _ := ratelimit.NewRedisRateLimiter(client, "test:ratelimit", limit, time.Minute)
			return l
		}
	}
}

func withMaxBody(n int64) envOption {
	return func(c *envConfig) { c.maxBodySize = n }
}

func withFailingInserts(ids ...string) envOption {
	return func(c *envConfig) { c.failIDs = ids }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := &envConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &brokenStore{MemoryStore: repository.NewMemoryStore(), failIDs: map[string]bool{}}
	for _, id := range cfg.failIDs {
		store.failIDs[id] = true
	}

	dir := directory.NewStaticDirectory([]models.Instance{
		{ID: "inst-1", TenantID: "tenant-1", Name: "sales", Credential: activeKey, Active: true},
		{ID: "inst-2", TenantID: "tenant-1", Name: "old", Credential: inactiveKey, Active: false},
	})

	var limiter ratelimit.RateLimiter
	if cfg.limiter != nil {
		limiter = cfg.limiter(client)
	}

	q := queue.New(client, "test")
	svc := service.NewIngestService(q, processor.New(store))
	return &testEnv{
		mr:      mr,
		client:  client,
		queue:   q,
		store:   store,
		service: svc,
		webhook: NewWebhookHandler(authn.New(dir, "evolution"), svc, limiter, cfg.maxBodySize, nil),
		admin:   NewAdminHandler(q, svc, "admin-secret", nil),
	}
}

func (e *testEnv) post(t *testing.T, target, body, hint string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if hint != "" {
		req.SetPathValue("eventHint", hint)
	}
	rr := httptest.NewRecorder()
	e.webhook.HandleWebhook(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

var authed = map[string]string{"X-Api-Key": activeKey}

const upsertBody = `{"event":"messages.upsert","data":{"key":{"id":"m1","remoteJid":"5511999999999@s.whatsapp.net","fromMe":false},"message":{"conversation":"hello"},"messageTimestamp":1717000000}}`

func TestWebhook_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()

	env.webhook.HandleWebhook(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestWebhook_AuthFailuresWriteNothing(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		target string
		want   int
	}{
		{name: "no credential", target: "/webhook", want: http.StatusUnauthorized},
		{name: "unknown credential", header: map[string]string{"X-Api-Key": "nope"}, target: "/webhook", want: http.StatusForbidden},
		{name: "inactive instance", header: map[string]string{"Authorization": "Bearer " + inactiveKey}, target: "/webhook", want: http.StatusForbidden},
		{name: "unknown query credential", target: "/webhook?apikey=nope", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.post(t, tt.target, upsertBody, "", tt.header)

			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, false, decode(t, rr)["success"])
			assert.Empty(t, env.mr.Keys(), "no job envelope is created")
			assert.Equal(t, 0, env.store.Len())
		})
	}
}

func TestWebhook_CredentialLocations(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		target string
	}{
		{name: "provider header", header: map[string]string{"X-Evolution-Api-Key": activeKey}, target: "/webhook"},
		{name: "apikey header", header: map[string]string{"apikey": activeKey}, target: "/webhook"},
		{name: "bearer", header: map[string]string{"Authorization": "Bearer " + activeKey}, target: "/webhook"},
		{name: "query", target: "/webhook?apiKey=" + activeKey},
		{name: "header wins over query", header: map[string]string{"X-Api-Key": activeKey}, target: "/webhook?apikey=bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.post(t, tt.target, upsertBody, "", tt.header)
			assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		})
	}
}

func TestWebhook_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"event":`},
		{name: "array body", body: `[{"event":"messages.upsert"}]`},
		{name: "empty body", body: ``},
		{name: "no event", body: `{"data":{"id":"m1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.post(t, "/webhook", tt.body, "", authed)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "bad_payload", decode(t, rr)["code"])
			assert.Empty(t, env.mr.Keys())
		})
	}
}

func TestWebhook_PersistsAndAcks(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(t, "/webhook", upsertBody, "", authed)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["processed"])
	assert.NotEmpty(t, body["job_id"])

	msg, err := env.store.GetMessage(context.Background(), "inst-1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content.Text)
	assert.Equal(t, "tenant-1", msg.TenantID)

	st, err := env.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &queue.Stats{}, st)
}

func TestWebhook_StatusUpdateWithPathHint(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.post(t, "/webhook", upsertBody, "", authed).Code)

	rr := env.post(t, "/webhook/messages-update", `{"data":{"keyId":"m1","status":"READ"}}`, "messages-update", authed)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, float64(1), body["updated"])
	assert.NotContains(t, body, "processed")

	msg, err := env.store.GetMessage(context.Background(), "inst-1", "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, msg.Status)
}

func TestWebhook_UnsupportedEventIsIgnored(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(t, "/webhook", `{"event":"connection.update","data":{"state":"open"}}`, "", authed)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "CONNECTION_UPDATE", body["ignored"])

	st, err := env.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Pending)
}

func TestWebhook_ProcessingFailureDeadLetters(t *testing.T) {
	env := newTestEnv(t, withFailingInserts("m1"))

	rr := env.post(t, "/webhook", upsertBody, "", authed)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "processing_failed", body["code"])
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	entry, err := env.queue.DeadLetterEntry(context.Background(), jobID)
	require.NoError(t, err)
	assert.Contains(t, entry.Error.Message, "connection refused")

	st, err := env.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Pending)
	assert.Equal(t, int64(1), st.DeadLetters)
}

func TestWebhook_RateLimited(t *testing.T) {
	env := newTestEnv(t, withRateLimit(2))

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, env.post(t, "/webhook", upsertBody, "", authed).Code)
	}
	rr := env.post(t, "/webhook", upsertBody, "", authed)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "rate_limited", decode(t, rr)["code"])
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, withMaxBody(16))

	rr := env.post(t, "/webhook", upsertBody, "", authed)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, env.mr.Keys())
}

func TestWebhook_QueueUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.mr.SetError("LOADING Redis is loading the dataset in memory")

	rr := env.post(t, "/webhook", upsertBody, "", authed)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "queue_unavailable", decode(t, rr)["code"])
	assert.Equal(t, 0, env.store.Len())
}
