package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohook/convohook/ingest/internal/models"
)

// fakeCluster answers the handful of OpenSearch endpoints the indexer uses.
type fakeCluster struct {
	mu        sync.Mutex
	templates []string
	bulkLines []string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/":
		_, _ = io.WriteString(w, `{"version":{"number":"2.11.0","distribution":"opensearch"}}`)

	case strings.HasPrefix(r.URL.Path, "/_index_template/"):
		f.mu.Lock()
		f.templates = append(f.templates, strings.TrimPrefix(r.URL.Path, "/_index_template/"))
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"acknowledged":true}`)

	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		var items []string
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			f.mu.Lock()
			f.bulkLines = append(f.bulkLines, line)
			f.mu.Unlock()

			var meta map[string]map[string]any
			if json.Unmarshal([]byte(line), &meta) == nil {
				for action := range meta {
					if action == "index" || action == "update" {
						items = append(items, fmt.Sprintf(`{%q:{"status":200}}`, action))
					}
				}
			}
		}
		fmt.Fprintf(w, `{"took":1,"errors":false,"items":[%s]}`, strings.Join(items, ","))

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{}`)
	}
}

func newTestIndexer(t *testing.T) (*Indexer, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.FlushInterval = time.Hour

	ix, err := NewIndexer(cfg, nil)
	require.NoError(t, err)
	return ix, cluster
}

func TestIndexer_Initialize(t *testing.T) {
	ix, cluster := newTestIndexer(t)
	defer ix.Close(context.Background())

	require.NoError(t, ix.Initialize(context.Background()))
	assert.Equal(t, []string{"convohook-messages-template"}, cluster.templates)
}

func TestIndexer_IndexesCreatedAndStatus(t *testing.T) {
	ix, cluster := newTestIndexer(t)
	ctx := context.Background()

	ix.MessageCreated(ctx, &models.Message{
		ProviderMessageID: "m1",
		InstanceID:        "inst-1",
		TenantID:          "tenant-1",
		Direction:         models.DirectionInbound,
		Content:           models.Content{Type: models.ContentText, Text: "olá"},
		Status:            models.StatusDelivered,
		Timestamp:         time.Now().UTC(),
	})
	ix.StatusChanged(ctx, &models.StatusChange{
		ProviderMessageID: "m1",
		InstanceID:        "inst-1",
		Status:            models.StatusRead,
		ChangedAt:         time.Now().UTC(),
	})

	require.NoError(t, ix.Close(ctx))

	body := strings.Join(cluster.bulkLines, "\n")
	assert.Contains(t, body, `"_id":"inst-1:m1"`)
	assert.Contains(t, body, `"text":"olá"`)
	assert.Contains(t, body, `"doc":{"status":"read"`)
	assert.Equal(t, uint64(2), ix.Stats()["indexed"])
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "a:b", DocumentID("a", "b"))
}
