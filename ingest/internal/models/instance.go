package models

// Instance is one tenant-scoped connection to the messaging provider. The
// pipeline only reads instances; onboarding creates them elsewhere.
type Instance struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Name       string         `json:"name"`
	Credential string         `json:"-"`
	Active     bool           `json:"active"`
	Settings   map[string]any `json:"settings,omitempty"`
}
