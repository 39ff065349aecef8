package authtoken

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otterscale/autoscale/internal/idgen"
)

const keyColumns = `id, tenant_id, key_hash, key_display, description, role, last_used, created_at`

// Store provides database operations for tenant API keys using the global pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateParams holds parameters for creating an API key.
type CreateParams struct {
	TenantID    uuid.UUID
	KeyHash     string
	KeyDisplay  string
	Description string
	Role        string
}

func scanKey(row pgx.Row) (Key, error) {
	var k Key
	err := row.Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.KeyDisplay, &k.Description, &k.Role, &k.LastUsed, &k.CreatedAt)
	return k, err
}

// Create inserts a new API key and returns the created row.
func (s *Store) Create(ctx context.Context, p CreateParams) (Key, error) {
	query := `INSERT INTO api_keys (id, tenant_id, key_hash, key_display, description, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + keyColumns
	row := s.pool.QueryRow(ctx, query, idgen.NewID(), p.TenantID, p.KeyHash, p.KeyDisplay, p.Description, p.Role)
	return scanKey(row)
}

// List returns all API keys for the given tenant, newest first.
func (s *Store) List(ctx context.Context, tenantID uuid.UUID) ([]Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete permanently removes an API key by id, scoped to tenant.
func (s *Store) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetByHash looks up a key by its SHA-256 hash, used on every authenticated request.
func (s *Store) GetByHash(ctx context.Context, hash string) (Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE key_hash = $1`
	return scanKey(s.pool.QueryRow(ctx, query, hash))
}

// TouchLastUsed updates the last_used timestamp for a key; callers fire this
// asynchronously since it is not on the hot path of request validation.
func (s *Store) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used = now() WHERE id = $1`, id)
	return err
}
