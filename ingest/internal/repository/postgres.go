package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convohook/convohook/common/database"
	"github.com/convohook/convohook/ingest/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO messages
		(instance_id, provider_message_id, tenant_id, direction, remote_jid, push_name,
		 content_type, content_text, media_url, mime_type, file_name,
		 sent_at, status, status_rank, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		ON CONFLICT (instance_id, provider_message_id) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query,
		msg.InstanceID,
		msg.ProviderMessageID,
		msg.TenantID,
		string(msg.Direction),
		msg.RemoteJID,
		msg.PushName,
		string(msg.Content.Type),
		msg.Content.Text,
		msg.Content.MediaURL,
		msg.Content.MimeType,
		msg.Content.FileName,
		msg.Timestamp,
		string(msg.Status),
		msg.Status.Rank(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, instanceID, providerMessageID string) (*models.Message, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT instance_id, provider_message_id, tenant_id, direction, remote_jid, push_name,
		       content_type, content_text, media_url, mime_type, file_name,
		       sent_at, status, created_at, updated_at
		FROM messages
		WHERE instance_id = $1 AND provider_message_id = $2
	`

	var (
		msg         models.Message
		direction   string
		contentType string
		status      string
	)
	err := s.pool.QueryRow(ctx, query, instanceID, providerMessageID).Scan(
		&msg.InstanceID,
		&msg.ProviderMessageID,
		&msg.TenantID,
		&direction,
		&msg.RemoteJID,
		&msg.PushName,
		&contentType,
		&msg.Content.Text,
		&msg.Content.MediaURL,
		&msg.Content.MimeType,
		&msg.Content.FileName,
		&msg.Timestamp,
		&status,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg.Direction = models.Direction(direction)
	msg.Content.Type = models.ContentType(contentType)
	msg.Status = models.Status(status)
	return &msg, nil
}

// UpdateStatus applies the transition in a single conditional UPDATE so
// concurrent deliveries for the same message cannot move it backward.
func (s *PostgresStore) UpdateStatus(ctx context.Context, instanceID, providerMessageID string, status models.Status) (bool, error) {
	if !status.Valid() {
		return false, nil
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	query := `
		UPDATE messages
		SET status = $3, status_rank = $4, updated_at = NOW()
		WHERE instance_id = $1 AND provider_message_id = $2
		  AND status_rank < $4 AND status <> 'failed'
	`

	tag, err := s.pool.Exec(ctx, query, instanceID, providerMessageID, string(status), status.Rank())
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE instance_id = $1 AND provider_message_id = $2)`,
		instanceID, providerMessageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	if !exists {
		return false, ErrMessageNotFound
	}
	return false, nil
}
