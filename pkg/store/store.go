package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otterscale/autoscale/internal/clock"
	"github.com/otterscale/autoscale/internal/idgen"
	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
	"github.com/otterscale/autoscale/pkg/group"
	"github.com/otterscale/autoscale/pkg/lock"
	"github.com/otterscale/autoscale/pkg/tenantconfig"
)

// QuotaLimits are the deployment-wide defaults, overridable per tenant.
type QuotaLimits struct {
	MaxGroups            int
	MaxPoliciesPerGroup  int
	MaxWebhooksPerPolicy int
	Pagination           int
}

// QuotaProvider resolves per-tenant overrides of the deployment defaults;
// a nil field on the returned value means "use the deployment default".
// Satisfied by *tenantconfig.Service.
type QuotaProvider interface {
	Overrides(ctx context.Context, tenantID uuid.UUID) (tenantconfig.Overrides, error)
}

// Store is the Group Store: per-tenant CRUD over groups/policies/webhooks,
// quota enforcement, and (via ModifyState) the Mutation Engine.
type Store struct {
	pool     *pgxpool.Pool
	locker   lock.Locker
	clk      clock.Clock
	defaults QuotaLimits
	quotas   QuotaProvider

	buildTimeout      time.Duration
	capabilityVersion int
}

// NewStore builds a Store. quotas may be nil, in which case every tenant
// uses the deployment defaults with no overrides. capabilityVersion is
// stamped onto every webhook minted by this Store; bumping it on a later
// deployment does not retroactively change already-issued capabilities.
func NewStore(pool *pgxpool.Pool, locker lock.Locker, clk clock.Clock, defaults QuotaLimits, quotas QuotaProvider, buildTimeout time.Duration, capabilityVersion int) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{pool: pool, locker: locker, clk: clk, defaults: defaults, quotas: quotas, buildTimeout: buildTimeout, capabilityVersion: capabilityVersion}
}

func (s *Store) limitsFor(ctx context.Context, tenantID uuid.UUID) (QuotaLimits, error) {
	limits := s.defaults
	if s.quotas == nil {
		return limits, nil
	}
	o, err := s.quotas.Overrides(ctx, tenantID)
	if err != nil {
		return QuotaLimits{}, fmt.Errorf("resolving tenant quotas: %w", err)
	}
	if o.MaxGroups != nil {
		limits.MaxGroups = *o.MaxGroups
	}
	if o.MaxPoliciesPerGroup != nil {
		limits.MaxPoliciesPerGroup = *o.MaxPoliciesPerGroup
	}
	if o.MaxWebhooksPerPolicy != nil {
		limits.MaxWebhooksPerPolicy = *o.MaxWebhooksPerPolicy
	}
	if o.PaginationDefault != nil {
		limits.Pagination = *o.PaginationDefault
	}
	return limits, nil
}

// CreateGroup inserts a new scaling group (and, if supplied, its initial
// policies) and returns the assembled manifest. Enforces MaxGroups.
func (s *Store) CreateGroup(ctx context.Context, tenantID uuid.UUID, groupName string, cfg GroupConfig, launch LaunchConfig, policies []PolicyInput) (Manifest, error) {
	limits, err := s.limitsFor(ctx, tenantID)
	if err != nil {
		return Manifest{}, err
	}

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scaling_groups WHERE tenant_id = $1 AND status != 'DELETING'`, tenantID).Scan(&count); err != nil {
		return Manifest{}, fmt.Errorf("counting scaling groups: %w", err)
	}
	if count >= limits.MaxGroups {
		return Manifest{}, autoscaleerrors.ScalingGroupOverLimit{Tenant: tenantID.String(), Max: limits.MaxGroups}
	}

	groupID := idgen.NewID()
	now := s.clk.Now()
	st := group.New(tenantID.String(), groupID.String(), groupName, cfg.MinEntities, s.clk)

	launchBytes, err := json.Marshal(launch)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshalling launch config: %w", err)
	}
	metaBytes, err := json.Marshal(cfg.Metadata)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshalling group metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO scaling_groups
		(id, tenant_id, group_name, min_entities, max_entities, cooldown, metadata, launch_config, desired, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		groupID, tenantID, groupName, cfg.MinEntities, cfg.MaxEntities, int(cfg.Cooldown.Seconds()),
		metaBytes, launchBytes, st.Desired, string(st.Status), now,
	)
	if err != nil {
		return Manifest{}, fmt.Errorf("inserting scaling group: %w", err)
	}

	var createdPolicies []Policy
	if len(policies) > 0 {
		createdPolicies, err = s.createPoliciesTx(ctx, tx, tenantID, groupID, policies, limits)
		if err != nil {
			return Manifest{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Manifest{}, fmt.Errorf("committing transaction: %w", err)
	}

	return Manifest{
		GroupID:      groupID,
		TenantID:     tenantID,
		GroupName:    groupName,
		Config:       cfg,
		LaunchConfig: launch,
		Policies:     createdPolicies,
		State:        st,
		CreatedAt:    now,
	}, nil
}

// groupRow is the flat scaling_groups row, scanned once and reshaped into
// whichever caller-facing type is needed.
type groupRow struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	GroupName     string
	MinEntities   int
	MaxEntities   int
	CooldownSecs  int
	Metadata      []byte
	LaunchConfig  []byte
	Desired       int
	Active        []byte
	Pending       []byte
	GroupTouched  *time.Time
	PolicyTouched []byte
	Paused        bool
	Suspended     bool
	Status        string
	ErrorReasons  []byte
	CreatedAt     time.Time
}

const groupColumns = `id, tenant_id, group_name, min_entities, max_entities, cooldown, metadata, launch_config,
	desired, active, pending, group_touched, policy_touched, paused, suspended, status, error_reasons, created_at`

func scanGroupRow(row pgx.Row) (groupRow, error) {
	var g groupRow
	err := row.Scan(
		&g.ID, &g.TenantID, &g.GroupName, &g.MinEntities, &g.MaxEntities, &g.CooldownSecs, &g.Metadata, &g.LaunchConfig,
		&g.Desired, &g.Active, &g.Pending, &g.GroupTouched, &g.PolicyTouched, &g.Paused, &g.Suspended, &g.Status, &g.ErrorReasons, &g.CreatedAt,
	)
	return g, err
}

// toState reconstructs a pkg/group.State from the persisted row.
func (g groupRow) toState(clk clock.Clock) (*group.State, error) {
	st := group.New(g.TenantID.String(), g.ID.String(), g.GroupName, g.Desired, clk)
	st.Status = group.Status(g.Status)

	var active map[string]group.ActiveServer
	if err := json.Unmarshal(g.Active, &active); err != nil {
		return nil, fmt.Errorf("unmarshalling active servers: %w", err)
	}
	if active != nil {
		st.Active = active
	}

	var pending map[string]group.PendingJob
	if err := json.Unmarshal(g.Pending, &pending); err != nil {
		return nil, fmt.Errorf("unmarshalling pending jobs: %w", err)
	}
	if pending != nil {
		st.Pending = pending
	}

	var policyTouched map[string]time.Time
	if err := json.Unmarshal(g.PolicyTouched, &policyTouched); err != nil {
		return nil, fmt.Errorf("unmarshalling policy_touched: %w", err)
	}
	if policyTouched != nil {
		st.PolicyTouched = policyTouched
	}

	if g.GroupTouched != nil {
		st.GroupTouched = *g.GroupTouched
	}
	st.Paused = g.Paused
	st.Suspended = g.Suspended

	var reasons []string
	if err := json.Unmarshal(g.ErrorReasons, &reasons); err != nil {
		return nil, fmt.Errorf("unmarshalling error_reasons: %w", err)
	}
	st.ErrorReasons = reasons

	return st, nil
}

func secondsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

func (g groupRow) config() (GroupConfig, error) {
	var meta map[string]string
	if err := json.Unmarshal(g.Metadata, &meta); err != nil {
		return GroupConfig{}, fmt.Errorf("unmarshalling group metadata: %w", err)
	}
	return GroupConfig{
		MinEntities: g.MinEntities,
		MaxEntities: g.MaxEntities,
		Cooldown:    time.Duration(g.CooldownSecs) * time.Second,
		Metadata:    meta,
	}, nil
}

func (g groupRow) launchConfig() (LaunchConfig, error) {
	var lc LaunchConfig
	if err := json.Unmarshal(g.LaunchConfig, &lc); err != nil {
		return nil, fmt.Errorf("unmarshalling launch config: %w", err)
	}
	return lc, nil
}

// getGroupRow fetches one group row, rejecting DELETING groups unless getDeleting is true.
func (s *Store) getGroupRow(ctx context.Context, tenantID, groupID uuid.UUID, getDeleting bool) (groupRow, error) {
	query := `SELECT ` + groupColumns + ` FROM scaling_groups WHERE id = $1 AND tenant_id = $2`
	g, err := scanGroupRow(s.pool.QueryRow(ctx, query, groupID, tenantID))
	if err == pgx.ErrNoRows {
		return groupRow{}, autoscaleerrors.NoSuchGroup{Tenant: tenantID.String(), Group: groupID.String()}
	}
	if err != nil {
		return groupRow{}, fmt.Errorf("fetching scaling group: %w", err)
	}
	if g.Status == string(group.StatusDeleting) && !getDeleting {
		return groupRow{}, autoscaleerrors.NoSuchGroup{Tenant: tenantID.String(), Group: groupID.String()}
	}
	return g, nil
}

// ViewManifest assembles the manifest for one group, optionally including
// its policies and webhooks.
func (s *Store) ViewManifest(ctx context.Context, tenantID, groupID uuid.UUID, withPolicies, withWebhooks, getDeleting bool) (Manifest, error) {
	g, err := s.getGroupRow(ctx, tenantID, groupID, getDeleting)
	if err != nil {
		return Manifest{}, err
	}

	cfg, err := g.config()
	if err != nil {
		return Manifest{}, err
	}
	launch, err := g.launchConfig()
	if err != nil {
		return Manifest{}, err
	}
	st, err := g.toState(s.clk)
	if err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		GroupID:      g.ID,
		TenantID:     g.TenantID,
		GroupName:    g.GroupName,
		Config:       cfg,
		LaunchConfig: launch,
		State:        st,
		CreatedAt:    g.CreatedAt,
	}

	if withPolicies {
		policies, err := s.allPolicies(ctx, tenantID, groupID)
		if err != nil {
			return Manifest{}, err
		}
		m.Policies = policies

		if withWebhooks {
			webhooks := make(map[uuid.UUID][]Webhook, len(policies))
			for _, p := range policies {
				wh, err := s.allWebhooks(ctx, tenantID, groupID, p.ID)
				if err != nil {
					return Manifest{}, err
				}
				webhooks[p.ID] = wh
			}
			m.Webhooks = webhooks
		}
	}

	return m, nil
}

// ViewConfig returns just a group's config.
func (s *Store) ViewConfig(ctx context.Context, tenantID, groupID uuid.UUID) (GroupConfig, error) {
	g, err := s.getGroupRow(ctx, tenantID, groupID, false)
	if err != nil {
		return GroupConfig{}, err
	}
	return g.config()
}

// ViewLaunchConfig returns just a group's launch configuration.
func (s *Store) ViewLaunchConfig(ctx context.Context, tenantID, groupID uuid.UUID) (LaunchConfig, error) {
	g, err := s.getGroupRow(ctx, tenantID, groupID, false)
	if err != nil {
		return nil, err
	}
	return g.launchConfig()
}

// ViewState returns just a group's runtime state.
func (s *Store) ViewState(ctx context.Context, tenantID, groupID uuid.UUID) (*group.State, error) {
	g, err := s.getGroupRow(ctx, tenantID, groupID, false)
	if err != nil {
		return nil, err
	}
	return g.toState(s.clk)
}

// UpdateConfig replaces a group's configuration in full — the Open Question
// over merge-vs-replace semantics is resolved as full replace (see DESIGN.md):
// every view_config call after UpdateConfig reflects exactly the fields supplied.
func (s *Store) UpdateConfig(ctx context.Context, tenantID, groupID uuid.UUID, cfg GroupConfig) error {
	metaBytes, err := json.Marshal(cfg.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling group metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE scaling_groups
		SET min_entities = $3, max_entities = $4, cooldown = $5, metadata = $6, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status != 'DELETING'`,
		groupID, tenantID, cfg.MinEntities, cfg.MaxEntities, int(cfg.Cooldown.Seconds()), metaBytes,
	)
	if err != nil {
		return fmt.Errorf("updating group config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autoscaleerrors.NoSuchGroup{Tenant: tenantID.String(), Group: groupID.String()}
	}
	return nil
}

// UpdateLaunchConfig merges the supplied keys into the stored launch
// configuration — launch config is an opaque bag, so a shallow merge (as
// opposed to config's full replace) is the natural semantics: a caller
// updating one field does not need to resend the whole payload.
func (s *Store) UpdateLaunchConfig(ctx context.Context, tenantID, groupID uuid.UUID, patch LaunchConfig) (LaunchConfig, error) {
	g, err := s.getGroupRow(ctx, tenantID, groupID, false)
	if err != nil {
		return nil, err
	}
	current, err := g.launchConfig()
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = LaunchConfig{}
	}
	for k, v := range patch {
		current[k] = v
	}

	mergedBytes, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshalling launch config: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE scaling_groups SET launch_config = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status != 'DELETING'`, groupID, tenantID, mergedBytes)
	if err != nil {
		return nil, fmt.Errorf("updating launch config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, autoscaleerrors.NoSuchGroup{Tenant: tenantID.String(), Group: groupID.String()}
	}
	return current, nil
}

// UpdateStatus sets a group's status directly, outside the Mutation Engine —
// DeleteGroup uses it to mark a group DELETING. The Convergence Dispatcher
// changes status through ModifyState instead.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, groupID uuid.UUID, status group.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE scaling_groups SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2`, groupID, tenantID, string(status))
	if err != nil {
		return fmt.Errorf("updating group status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autoscaleerrors.NoSuchGroup{Tenant: tenantID.String(), Group: groupID.String()}
	}
	return nil
}

// UpdateErrorReasons overwrites a group's presented error reasons.
func (s *Store) UpdateErrorReasons(ctx context.Context, tenantID, groupID uuid.UUID, reasons []string) error {
	reasonBytes, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("marshalling error reasons: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE scaling_groups SET error_reasons = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2`, groupID, tenantID, reasonBytes)
	if err != nil {
		return fmt.Errorf("updating error reasons: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autoscaleerrors.NoSuchGroup{Tenant: tenantID.String(), Group: groupID.String()}
	}
	return nil
}

// DeleteGroup marks a group DELETING; it fails GroupNotEmpty unless both
// active and pending are empty. The row stays until PurgeDeleted removes it;
// nothing in this repository calls PurgeDeleted.
func (s *Store) DeleteGroup(ctx context.Context, tenantID, groupID uuid.UUID) error {
	g, err := s.getGroupRow(ctx, tenantID, groupID, false)
	if err != nil {
		return err
	}
	st, err := g.toState(s.clk)
	if err != nil {
		return err
	}
	if !st.Deletable() {
		return autoscaleerrors.GroupNotEmpty{Tenant: tenantID.String(), Group: groupID.String()}
	}
	return s.UpdateStatus(ctx, tenantID, groupID, group.StatusDeleting)
}

// PurgeDeleted physically removes groups that have been DELETING for longer
// than grace — the physical-removal half of delete_group.
func (s *Store) PurgeDeleted(ctx context.Context, grace time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scaling_groups WHERE status = 'DELETING' AND updated_at < $1`, s.clk.Now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("purging deleted groups: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListGroups returns an id-ascending page of groups for tenantID.
func (s *Store) ListGroups(ctx context.Context, tenantID uuid.UUID, marker uuid.UUID, limit int) (Page[Manifest], error) {
	query := `SELECT ` + groupColumns + ` FROM scaling_groups
		WHERE tenant_id = $1 AND status != 'DELETING' AND id > $2
		ORDER BY id ASC LIMIT $3`
	rows, err := s.pool.Query(ctx, query, tenantID, marker, limit)
	if err != nil {
		return Page[Manifest]{}, fmt.Errorf("listing scaling groups: %w", err)
	}
	defer rows.Close()

	var items []Manifest
	for rows.Next() {
		g, err := scanGroupRow(rows)
		if err != nil {
			return Page[Manifest]{}, fmt.Errorf("scanning scaling group row: %w", err)
		}
		cfg, err := g.config()
		if err != nil {
			return Page[Manifest]{}, err
		}
		launch, err := g.launchConfig()
		if err != nil {
			return Page[Manifest]{}, err
		}
		st, err := g.toState(s.clk)
		if err != nil {
			return Page[Manifest]{}, err
		}
		items = append(items, Manifest{
			GroupID: g.ID, TenantID: g.TenantID, GroupName: g.GroupName,
			Config: cfg, LaunchConfig: launch, State: st, CreatedAt: g.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return Page[Manifest]{}, fmt.Errorf("iterating scaling group rows: %w", err)
	}

	page := Page[Manifest]{Items: items, HasMore: len(items) == limit}
	if len(items) > 0 {
		page.LastID = items[len(items)-1].GroupID
	}
	return page, nil
}

// ListConvergeCandidates returns an id-ascending page of groups eligible for
// a convergence pass, across all tenants: not DELETING, not paused, not
// suspended. The Convergence Dispatcher walks this cursor to completion once
// per tick rather than holding the whole fleet in memory at once.
func (s *Store) ListConvergeCandidates(ctx context.Context, marker uuid.UUID, limit int) (Page[Manifest], error) {
	query := `SELECT ` + groupColumns + ` FROM scaling_groups
		WHERE status != 'DELETING' AND paused = false AND suspended = false AND id > $1
		ORDER BY id ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, marker, limit)
	if err != nil {
		return Page[Manifest]{}, fmt.Errorf("listing converge candidates: %w", err)
	}
	defer rows.Close()

	var items []Manifest
	for rows.Next() {
		g, err := scanGroupRow(rows)
		if err != nil {
			return Page[Manifest]{}, fmt.Errorf("scanning scaling group row: %w", err)
		}
		cfg, err := g.config()
		if err != nil {
			return Page[Manifest]{}, err
		}
		launch, err := g.launchConfig()
		if err != nil {
			return Page[Manifest]{}, err
		}
		st, err := g.toState(s.clk)
		if err != nil {
			return Page[Manifest]{}, err
		}
		items = append(items, Manifest{
			GroupID: g.ID, TenantID: g.TenantID, GroupName: g.GroupName,
			Config: cfg, LaunchConfig: launch, State: st, CreatedAt: g.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return Page[Manifest]{}, fmt.Errorf("iterating scaling group rows: %w", err)
	}

	page := Page[Manifest]{Items: items, HasMore: len(items) == limit}
	if len(items) > 0 {
		page.LastID = items[len(items)-1].GroupID
	}
	return page, nil
}
