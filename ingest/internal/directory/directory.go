// Package directory resolves webhook credentials to tenant instances.
//
// The instances table is owned by tenant onboarding; this package only
// reads it.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/convohook/convohook/common/database"
	"github.com/convohook/convohook/ingest/internal/models"
)

// ErrNotFound is returned when no instance owns the credential.
var ErrNotFound = errors.New("instance not found")

// SQLDirectory looks instances up through database/sql. main opens the
// handle with the pgx stdlib driver.
type SQLDirectory struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLDirectory wraps an open database handle. A non-positive timeout
// uses database.DefaultQueryTimeout.
func NewSQLDirectory(db *sql.DB, timeout time.Duration) *SQLDirectory {
	return &SQLDirectory{db: db, timeout: timeout}
}

const lookupByCredentialQuery = `
	SELECT id, tenant_id, name, credential, active, settings
	FROM instances
	WHERE credential = $1
	LIMIT 1`

// LookupByCredential returns the instance whose credential equals the
// argument exactly.
func (d *SQLDirectory) LookupByCredential(ctx context.Context, credential string) (*models.Instance, error) {
	ctx, cancel := database.WithTimeout(ctx, d.timeout)
	defer cancel()

	var inst models.Instance
	var settings []byte
	err := d.db.QueryRowContext(ctx, lookupByCredentialQuery, credential).Scan(
		&inst.ID,
		&inst.TenantID,
		&inst.Name,
		&inst.Credential,
		&inst.Active,
		&settings,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query instance: %w", err)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &inst.Settings); err != nil {
			return nil, fmt.Errorf("decode instance settings: %w", err)
		}
	}

	return &inst, nil
}

// Ping checks the database connection.
func (d *SQLDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// StaticDirectory serves a fixed set of instances from configuration. It is
// meant for local development and tests.
type StaticDirectory struct {
	byCredential map[string]models.Instance
}

// NewStaticDirectory indexes instances by credential. Instances without a
// credential are skipped.
func NewStaticDirectory(instances []models.Instance) *StaticDirectory {
	d := &StaticDirectory{byCredential: make(map[string]models.Instance, len(instances))}
	for _, inst := range instances {
		if inst.Credential == "" {
			continue
		}
		d.byCredential[inst.Credential] = inst
	}
	return d
}

func (d *StaticDirectory) LookupByCredential(ctx context.Context, credential string) (*models.Instance, error) {
	inst, ok := d.byCredential[credential]
	if !ok {
		return nil, ErrNotFound
	}
	return &inst, nil
}
