// Package authtoken implements the narrow bearer-credential contract the
// authenticated surface of the API needs: validating an already-issued
// tenant API key against a stored hash. It does not issue identity, run an
// OIDC flow, or manage sessions — those are external collaborators per the
// specification's non-goals; this package only answers "is this key valid,
// and for which tenant and role."
package authtoken

import (
	"time"

	"github.com/google/uuid"
)

// KeyPrefix identifies an autoscale tenant API key, mirrored in the display
// prefix so operators can recognize a key without seeing the raw secret.
const KeyPrefix = "asc_"

// Key is a tenant API key as stored (never includes the raw secret).
type Key struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	KeyHash     string
	KeyDisplay  string // first 10 chars of the raw key, for display only
	Description string
	Role        string
	LastUsed    *time.Time
	CreatedAt   time.Time
}

// Result is the resolved identity data returned by a successful Authenticate call.
type Result struct {
	KeyID     uuid.UUID
	TenantID  uuid.UUID
	KeyPrefix string
	Role      string
}

// CreateRequest is the JSON body for POST /v1.0/{tenant}/api-keys.
type CreateRequest struct {
	Description string `json:"description" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=admin operator"`
}

// Response is the JSON response for a single API key (never the raw secret).
type Response struct {
	ID          uuid.UUID  `json:"id"`
	KeyPrefix   string     `json:"key_prefix"`
	Description string     `json:"description"`
	Role        string     `json:"role"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateResponse includes the raw key, shown exactly once at creation.
type CreateResponse struct {
	Response
	RawKey string `json:"raw_key"`
}

// ToResponse converts a Key to its public DTO.
func (k Key) ToResponse() Response {
	return Response{
		ID:          k.ID,
		KeyPrefix:   k.KeyDisplay,
		Description: k.Description,
		Role:        k.Role,
		LastUsed:    k.LastUsed,
		CreatedAt:   k.CreatedAt,
	}
}
