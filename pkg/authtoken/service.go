package authtoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Service encapsulates tenant API key business logic: generation, lookup,
// and hash-compare authentication, following the hash-and-compare idiom used
// throughout the broader pack's API key and personal-access-token authenticators.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a Service backed by store.
func NewService(store *Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// List returns all API keys for a tenant.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]Response, error) {
	keys, err := s.store.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Response, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.ToResponse())
	}
	return out, nil
}

// Create generates a new API key, stores its hash, and returns the raw key
// exactly once — it is never recoverable after this call returns.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (CreateResponse, error) {
	raw, hash, display := generateKey()

	k, err := s.store.Create(ctx, CreateParams{
		TenantID:    tenantID,
		KeyHash:     hash,
		KeyDisplay:  display,
		Description: req.Description,
		Role:        req.Role,
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating api key: %w", err)
	}

	return CreateResponse{Response: k.ToResponse(), RawKey: raw}, nil
}

// Delete permanently removes an API key.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.store.Delete(ctx, tenantID, id)
}

// Authenticate hashes rawKey and looks it up; it is the sole entry point
// internal/auth.Middleware calls on every authenticated request.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*Result, error) {
	if rawKey == "" {
		return nil, fmt.Errorf("empty api key")
	}

	hash := HashKey(rawKey)
	k, err := s.store.GetByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	go func() {
		if err := s.store.TouchLastUsed(context.Background(), k.ID); err != nil {
			s.logger.Warn("touching api key last_used", "error", err, "key_id", k.ID)
		}
	}()

	return &Result{
		KeyID:     k.ID,
		TenantID:  k.TenantID,
		KeyPrefix: k.KeyDisplay,
		Role:      k.Role,
	}, nil
}

// HashKey computes the SHA-256 hex digest of a raw key for storage/lookup.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateKey() (raw, hash, display string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = KeyPrefix + hex.EncodeToString(b)
	hash = HashKey(raw)
	display = raw[:10]
	return
}
