package authn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohook/convohook/ingest/internal/directory"
	"github.com/convohook/convohook/ingest/internal/models"
)

type mockLookup struct {
	instances map[string]*models.Instance
	err       error
	calls     int
}

func (m *mockLookup) LookupByCredential(ctx context.Context, credential string) (*models.Instance, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	inst, ok := m.instances[credential]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return inst, nil
}

func newLookup() *mockLookup {
	return &mockLookup{instances: map[string]*models.Instance{
		"secret-A": {ID: "inst-a", TenantID: "tenant-1", Credential: "secret-A", Active: true},
		"secret-B": {ID: "inst-b", TenantID: "tenant-2", Credential: "secret-B", Active: false},
	}}
}

func TestExtractCredential_Order(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers map[string]string
		want    string
	}{
		{
			name:    "x-api-key wins over everything",
			target:  "/webhook?apikey=query",
			headers: map[string]string{"x-api-key": "primary", "x-evolution-api-key": "vendor", "apikey": "generic", "Authorization": "Bearer tok"},
			want:    "primary",
		},
		{
			name:    "vendor header second",
			target:  "/webhook",
			headers: map[string]string{"x-evolution-api-key": "vendor", "apikey": "generic"},
			want:    "vendor",
		},
		{
			name:    "generic apikey header third",
			target:  "/webhook",
			headers: map[string]string{"apikey": "generic", "Authorization": "Bearer tok"},
			want:    "generic",
		},
		{
			name:    "bearer fourth",
			target:  "/webhook?apikey=query",
			headers: map[string]string{"Authorization": "Bearer tok"},
			want:    "tok",
		},
		{
			name:   "query apikey",
			target: "/webhook?apikey=query",
			want:   "query",
		},
		{
			name:   "query apiKey",
			target: "/webhook?apiKey=camel",
			want:   "camel",
		},
		{
			name:    "blank header skipped, not treated as present",
			target:  "/webhook?apikey=query",
			headers: map[string]string{"x-api-key": "   "},
			want:    "query",
		},
		{
			name:    "non-bearer authorization ignored",
			target:  "/webhook",
			headers: map[string]string{"Authorization": "Basic abc"},
			want:    "",
		},
		{
			name:    "whitespace trimmed",
			target:  "/webhook",
			headers: map[string]string{"apikey": "  spaced  "},
			want:    "spaced",
		},
		{
			name:   "nothing",
			target: "/webhook",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractCredential(req, "X-evolution-Api-Key"))
		})
	}
}

func TestAuthenticate_HeaderBeatsQuery(t *testing.T) {
	lookup := newLookup()
	a := New(lookup, "evolution")

	req := httptest.NewRequest(http.MethodPost, "/webhook?apikey=secret-B", nil)
	req.Header.Set("x-api-key", "secret-A")

	inst, err := a.Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "inst-a", inst.ID)
}

func TestAuthenticate_NoCredentialSkipsLookup(t *testing.T) {
	lookup := newLookup()
	a := New(lookup, "evolution")

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	_, err := a.Authenticate(context.Background(), req)

	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrUnknownCredential)
	assert.Equal(t, 0, lookup.calls)
}

func TestAuthenticate_UnknownCredential(t *testing.T) {
	a := New(newLookup(), "evolution")

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("apikey", "secret-")

	_, err := a.Authenticate(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnknownCredential)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticate_Inactive(t *testing.T) {
	a := New(newLookup(), "evolution")

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("Authorization", "Bearer secret-B")

	_, err := a.Authenticate(context.Background(), req)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthenticate_LookupFailure(t *testing.T) {
	lookup := newLookup()
	lookup.err = errors.New("connection refused")
	a := New(lookup, "evolution")

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("x-api-key", "secret-A")

	_, err := a.Authenticate(context.Background(), req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrForbidden)
}

func TestAuthenticate_ProviderHeaderDisabled(t *testing.T) {
	a := New(newLookup(), "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("x-evolution-api-key", "secret-A")

	_, err := a.Authenticate(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
