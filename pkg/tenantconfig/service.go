package tenantconfig

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service encapsulates business logic for tenant quota overrides.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a tenant config Service backed by the global pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{store: NewStore(pool), logger: logger}
}

// Get returns the current override configuration for tenantID.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (*Response, error) {
	r, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("getting tenant quota overrides: %w", err)
	}
	return &Response{Overrides: r.Overrides, UpdatedAt: formatUpdated(r.UpdatedAt)}, nil
}

// Update replaces the override configuration for tenantID.
func (s *Service) Update(ctx context.Context, tenantID uuid.UUID, req UpdateRequest) (*Response, error) {
	r, err := s.store.Upsert(ctx, tenantID, Overrides{
		MaxGroups:            req.MaxGroups,
		MaxPoliciesPerGroup:  req.MaxPoliciesPerGroup,
		MaxWebhooksPerPolicy: req.MaxWebhooksPerPolicy,
		PaginationDefault:    req.PaginationDefault,
	})
	if err != nil {
		return nil, fmt.Errorf("updating tenant quota overrides: %w", err)
	}
	return &Response{Overrides: r.Overrides, UpdatedAt: formatUpdated(r.UpdatedAt)}, nil
}

// Overrides returns the raw override values for tenantID, satisfying
// pkg/store's QuotaProvider so quota enforcement falls back to the
// deployment default when a field has no override on file.
func (s *Service) Overrides(ctx context.Context, tenantID uuid.UUID) (Overrides, error) {
	r, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return Overrides{}, err
	}
	return r.Overrides, nil
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
