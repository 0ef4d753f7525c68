// Package search mirrors persisted messages into an OpenSearch index so the
// conversation board can offer full-text search. Indexing is best effort:
// the message store remains the record of truth.
package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/convohook/convohook/common/logging"
	"github.com/convohook/convohook/ingest/internal/models"
)

// Config holds OpenSearch connection and index configuration
type Config struct {
	URL             string
	Username        string
	Password        string
	TLSSkipVerify   bool
	Index           string
	ShardCount      int
	ReplicaCount    int
	RefreshInterval string
	FlushInterval   time.Duration
}

// DefaultConfig returns sensible defaults for OpenSearch configuration
func DefaultConfig() Config {
	return Config{
		URL:             "https://localhost:9200",
		Username:        "admin",
		Password:        "admin",
		TLSSkipVerify:   true,
		Index:           "convohook-messages",
		ShardCount:      1,
		ReplicaCount:    0,
		RefreshInterval: "5s",
		FlushInterval:   time.Second,
	}
}

// Indexer writes message documents through a shared bulk indexer.
type Indexer struct {
	osClient *opensearch.Client
	bulk     opensearchutil.BulkIndexer
	config   Config
	logger   *logging.Logger

	indexed atomic.Uint64
	failed  atomic.Uint64
}

// NewIndexer creates the client and starts the bulk indexer workers.
// Initialize should be called before the first message is indexed.
func NewIndexer(cfg Config, logger *logging.Logger) (*Indexer, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	ix := &Indexer{
		osClient: client,
		config:   cfg,
		logger:   logger,
	}

	bulk, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:        client,
		Index:         cfg.Index,
		NumWorkers:    1,
		FlushInterval: cfg.FlushInterval,
		OnError: func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "search bulk request failed", logging.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}
	ix.bulk = bulk

	return ix, nil
}

// Initialize verifies the connection and installs the index template.
func (ix *Indexer) Initialize(ctx context.Context) error {
	info, err := ix.osClient.Info(ix.osClient.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if err := ix.createIndexTemplate(ctx); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}

	ix.logger.InfoContext(ctx, "search index ready", "index", ix.config.Index)
	return nil
}

// Document is the indexed form of a message.
type Document struct {
	InstanceID        string    `json:"instance_id"`
	TenantID          string    `json:"tenant_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	Direction         string    `json:"direction"`
	RemoteJID         string    `json:"remote_jid"`
	PushName          string    `json:"push_name,omitempty"`
	ContentType       string    `json:"content_type"`
	Text              string    `json:"text,omitempty"`
	MediaURL          string    `json:"media_url,omitempty"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DocumentID is unique per instance, so redelivery overwrites rather than
// duplicates.
func DocumentID(instanceID, providerMessageID string) string {
	return instanceID + ":" + providerMessageID
}

func NewDocument(msg *models.Message) Document {
	return Document{
		InstanceID:        msg.InstanceID,
		TenantID:          msg.TenantID,
		ProviderMessageID: msg.ProviderMessageID,
		Direction:         string(msg.Direction),
		RemoteJID:         msg.RemoteJID,
		PushName:          msg.PushName,
		ContentType:       string(msg.Content.Type),
		Text:              msg.Content.Text,
		MediaURL:          msg.Content.MediaURL,
		Status:            string(msg.Status),
		Timestamp:         msg.Timestamp,
		UpdatedAt:         time.Now().UTC(),
	}
}

// MessageCreated queues the message document for indexing.
func (ix *Indexer) MessageCreated(ctx context.Context, msg *models.Message) {
	data, err := json.Marshal(NewDocument(msg))
	if err != nil {
		ix.failed.Add(1)
		ix.logger.ErrorContext(ctx, "failed to marshal search document", logging.MessageID(msg.ProviderMessageID), logging.Error(err))
		return
	}
	ix.add(ctx, "index", DocumentID(msg.InstanceID, msg.ProviderMessageID), data)
}

// StatusChanged queues a partial update of the document status.
func (ix *Indexer) StatusChanged(ctx context.Context, change *models.StatusChange) {
	data, err := json.Marshal(map[string]any{
		"doc": map[string]any{
			"status":     change.Status,
			"updated_at": change.ChangedAt,
		},
	})
	if err != nil {
		ix.failed.Add(1)
		return
	}
	ix.add(ctx, "update", DocumentID(change.InstanceID, change.ProviderMessageID), data)
}

func (ix *Indexer) add(ctx context.Context, action, id string, data []byte) {
	err := ix.bulk.Add(ctx, opensearchutil.BulkIndexerItem{
		Action:     action,
		DocumentID: id,
		Body:       bytes.NewReader(data),
		OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
			ix.indexed.Add(1)
		},
		OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
			ix.failed.Add(1)
			if err == nil {
				err = fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)
			}
			ix.logger.WarnContext(ctx, "search indexing failed", "document_id", item.DocumentID, logging.Error(err))
		},
	})
	if err != nil {
		ix.failed.Add(1)
		ix.logger.WarnContext(ctx, "failed to queue search document", "document_id", id, logging.Error(err))
	}
}

// Stats reports local indexing counters.
func (ix *Indexer) Stats() map[string]uint64 {
	return map[string]uint64{
		"indexed": ix.indexed.Load(),
		"failed":  ix.failed.Load(),
	}
}

// Close flushes pending documents.
func (ix *Indexer) Close(ctx context.Context) error {
	return ix.bulk.Close(ctx)
}

func (ix *Indexer) createIndexTemplate(ctx context.Context) error {
	template := map[string]interface{}{
		"index_patterns": []string{ix.config.Index + "*"},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   ix.config.ShardCount,
				"number_of_replicas": ix.config.ReplicaCount,
				"refresh_interval":   ix.config.RefreshInterval,
			},
			"mappings": messageMappings(),
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := ix.osClient.Indices.PutIndexTemplate(
		ix.config.Index+"-template",
		bytes.NewReader(body),
		ix.osClient.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

func messageMappings() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	return map[string]interface{}{
		"dynamic": false,
		"properties": map[string]interface{}{
			"instance_id":         keyword,
			"tenant_id":           keyword,
			"provider_message_id": keyword,
			"direction":           keyword,
			"remote_jid":          keyword,
			"content_type":        keyword,
			"status":              keyword,
			"push_name":           map[string]interface{}{"type": "text"},
			"text":                map[string]interface{}{"type": "text"},
			"media_url":           map[string]interface{}{"type": "keyword", "index": false},
			"timestamp":           map[string]interface{}{"type": "date"},
			"updated_at":          map[string]interface{}{"type": "date"},
		},
	}
}
