// Package authn gates webhook deliveries: it pulls the instance credential
// out of the request and resolves it against the instance directory.
package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/convohook/convohook/ingest/internal/directory"
	"github.com/convohook/convohook/ingest/internal/models"
)

var (
	// ErrUnauthenticated means no usable credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnknownCredential is an authentication failure for a credential
	// that matches no instance.
	ErrUnknownCredential = fmt.Errorf("%w: credential does not match any instance", ErrUnauthenticated)

	// ErrForbidden means the credential matched an inactive instance.
	ErrForbidden = errors.New("instance is not active")
)

// InstanceLookup resolves a credential to its instance. Implementations
// return directory.ErrNotFound when nothing matches.
type InstanceLookup interface {
	LookupByCredential(ctx context.Context, credential string) (*models.Instance, error)
}

// Authenticator extracts and validates instance credentials.
type Authenticator struct {
	lookup         InstanceLookup
	providerHeader string
}

// New creates an Authenticator. provider names the vendor-specific header
// x-<provider>-api-key; an empty provider disables that location.
func New(lookup InstanceLookup, provider string) *Authenticator {
	a := &Authenticator{lookup: lookup}
	if p := strings.TrimSpace(provider); p != "" {
		a.providerHeader = "X-" + p + "-Api-Key"
	}
	return a
}

// Authenticate returns the active instance owning the request credential.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*models.Instance, error) {
	credential := ExtractCredential(r, a.providerHeader)
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	inst, err := a.lookup.LookupByCredential(ctx, credential)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrUnknownCredential
		}
		return nil, fmt.Errorf("lookup instance: %w", err)
	}
	if inst == nil || inst.Credential != credential {
		return nil, ErrUnknownCredential
	}
	if !inst.Active {
		return nil, ErrForbidden
	}

	return inst, nil
}

// ExtractCredential returns the first non-empty credential found, checking
// in order: x-api-key, the provider header, apikey, Authorization Bearer,
// then the apikey and apiKey query parameters.
func ExtractCredential(r *http.Request, providerHeader string) string {
	candidates := []func() string{
		func() string { return r.Header.Get("X-Api-Key") },
		func() string {
			if providerHeader == "" {
				return ""
			}
			return r.Header.Get(providerHeader)
		},
		func() string { return r.Header.Get("Apikey") },
		func() string { return bearerToken(r.Header.Get("Authorization")) },
		func() string { return r.URL.Query().Get("apikey") },
		func() string { return r.URL.Query().Get("apiKey") },
	}

	for _, candidate := range candidates {
		if v := strings.TrimSpace(candidate()); v != "" {
			return v
		}
	}
	return ""
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
