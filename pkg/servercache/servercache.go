// Package servercache implements the Server Cache: a per-group snapshot of
// the last observed server list plus a timestamp, tolerant of stale reads.
// No cross-group coherence is promised — this is a convenience snapshot for
// convergence, not the source of truth (the group's own active/pending maps
// in pkg/group are that).
package servercache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Server is one observed fleet member. IsActive mirrors the source's
// transient "_is_as_active" dict key: it is carried as a first-class field
// rather than an opaque map entry, and is the one thing UpdateServers does
// not persist in Extra — everything else in Extra round-trips untouched.
type Server struct {
	ID       string         `json:"id"`
	IsActive bool           `json:"-"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type storedServer struct {
	ID       string         `json:"id"`
	IsActive bool           `json:"isActive"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Store is the Postgres-backed Server Cache.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetServers returns the cached server list for groupID, optionally
// filtered to only the servers flagged IsActive, along with the cache's
// last_update. An empty cache returns a nil slice and a nil last_update,
// never an error.
func (s *Store) GetServers(ctx context.Context, groupID uuid.UUID, onlyActive bool) ([]Server, *time.Time, error) {
	var lastUpdate time.Time
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT last_update, servers FROM server_cache WHERE group_id = $1`, groupID).
		Scan(&lastUpdate, &raw)
	if err == pgx.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading server cache: %w", err)
	}

	var stored []storedServer
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling server cache: %w", err)
	}

	servers := make([]Server, 0, len(stored))
	for _, sv := range stored {
		if onlyActive && !sv.IsActive {
			continue
		}
		servers = append(servers, Server{ID: sv.ID, IsActive: sv.IsActive, Extra: sv.Extra})
	}
	return servers, &lastUpdate, nil
}

// UpdateServers replaces the cached server list for groupID with servers,
// stamping last_update = now. Each server's IsActive flag is stored
// alongside Extra, not inside it — the stripping the source performs on the
// "_is_as_active" dict key is structural here, not a runtime mutation.
func (s *Store) UpdateServers(ctx context.Context, groupID uuid.UUID, now time.Time, servers []Server) error {
	stored := make([]storedServer, 0, len(servers))
	for _, sv := range servers {
		stored = append(stored, storedServer{ID: sv.ID, IsActive: sv.IsActive, Extra: sv.Extra})
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshalling server cache: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO server_cache (group_id, last_update, servers)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id) DO UPDATE SET last_update = $2, servers = $3`,
		groupID, now, raw,
	)
	if err != nil {
		return fmt.Errorf("updating server cache: %w", err)
	}
	return nil
}

// DeleteServers removes groupID's cache entry entirely, e.g. during group
// deletion. now is accepted for symmetry with UpdateServers but unused: a
// delete has no meaningful "as of" timestamp to persist.
func (s *Store) DeleteServers(ctx context.Context, groupID uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM server_cache WHERE group_id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("deleting server cache: %w", err)
	}
	return nil
}
