// Package schedule implements the Schedule Store: B independent buckets of
// future policy-fire events, atomic fetch-and-delete per bucket, and cron
// re-insertion. Durability and cross-process atomicity are provided by
// Postgres (the same store the rest of the control plane already uses),
// using SELECT ... FOR UPDATE SKIP LOCKED so concurrent dequeuers on one
// bucket never observe overlapping sets.
package schedule

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/otterscale/autoscale/internal/clock"
	"github.com/otterscale/autoscale/internal/idgen"
)

// Event is a single scheduled policy fire.
type Event struct {
	ID          uuid.UUID
	Bucket      int
	TriggerTime time.Time
	TenantID    uuid.UUID
	GroupID     uuid.UUID
	PolicyID    uuid.UUID
	Cron        *string
	Version     int
}

// EventInput describes an event to add. Exactly one of TriggerTime or Cron
// must be set: a one-shot "at" event carries TriggerTime, a recurring event
// carries Cron and has its first trigger_time computed from now.
type EventInput struct {
	TenantID    uuid.UUID
	GroupID     uuid.UUID
	PolicyID    uuid.UUID
	TriggerTime time.Time
	Cron        *string
	Bucket      *int // preassigned bucket, e.g. when re-inserting a fired cron event
}

const eventColumns = `id, bucket, trigger_time, tenant_id, group_id, policy_id, cron, version`

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextCronOccurrence returns the first instant strictly after now that
// matches the 5-field cron expression. If a cron event is fetched long
// after its nominal time, only the next occurrence after the current now
// is computed here — missed occurrences are never caught up.
func NextCronOccurrence(expr string, now time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return sched.Next(now), nil
}

// Store is the Postgres-backed Schedule Store.
type Store struct {
	pool    *pgxpool.Pool
	buckets int
	clk     clock.Clock
}

// NewStore builds a Store with B buckets.
func NewStore(pool *pgxpool.Pool, buckets int, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{pool: pool, buckets: buckets, clk: clk}
}

// BucketFor returns the stable bucket assignment for a policy id, used when
// an event has no preassigned bucket.
func (s *Store) BucketFor(policyID uuid.UUID) int {
	h := fnv.New32a()
	_, _ = h.Write(policyID[:])
	return int(h.Sum32() % uint32(s.buckets))
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Bucket, &e.TriggerTime, &e.TenantID, &e.GroupID, &e.PolicyID, &e.Cron, &e.Version)
	return e, err
}

// AddEvents inserts events, assigning bucket = hash(policy_id) mod B for any
// event with no preassigned bucket, and computing trigger_time from the cron
// expression's next occurrence for recurring events.
func (s *Store) AddEvents(ctx context.Context, inputs []EventInput, version int) ([]Event, error) {
	now := s.clk.Now()
	created := make([]Event, 0, len(inputs))
	for _, in := range inputs {
		bucket := s.BucketFor(in.PolicyID)
		if in.Bucket != nil {
			bucket = *in.Bucket
		}

		triggerTime := in.TriggerTime
		if in.Cron != nil {
			next, err := NextCronOccurrence(*in.Cron, now)
			if err != nil {
				return nil, err
			}
			triggerTime = next
		}

		id := idgen.NewID()
		row := s.pool.QueryRow(ctx, `INSERT INTO scheduled_events
			(id, bucket, trigger_time, tenant_id, group_id, policy_id, cron, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+eventColumns,
			id, bucket, triggerTime, in.TenantID, in.GroupID, in.PolicyID, in.Cron, version,
		)
		ev, err := scanEvent(row)
		if err != nil {
			return nil, fmt.Errorf("inserting scheduled event: %w", err)
		}
		created = append(created, ev)
	}
	return created, nil
}

// FetchAndDelete atomically removes up to size events with trigger_time <= now
// from bucket and returns them. SELECT ... FOR UPDATE SKIP LOCKED guarantees
// two concurrent callers on the same bucket never return overlapping sets.
func (s *Store) FetchAndDelete(ctx context.Context, bucket int, now time.Time, size int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM scheduled_events
			WHERE bucket = $1 AND trigger_time <= $2
			ORDER BY trigger_time ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		DELETE FROM scheduled_events WHERE id IN (SELECT id FROM due)
		RETURNING `+eventColumns,
		bucket, now, size,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching due events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scheduled event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetOldestEvent returns the earliest-triggering event in bucket without
// removing it, for monitoring.
func (s *Store) GetOldestEvent(ctx context.Context, bucket int) (*Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM scheduled_events
		WHERE bucket = $1 ORDER BY trigger_time ASC LIMIT 1`, bucket)
	ev, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching oldest event: %w", err)
	}
	return &ev, nil
}

// Reschedule re-inserts a cron event for its next occurrence after now in the
// same bucket; a one-shot ("at") event must not be passed here — callers
// check ev.Cron != nil first.
func (s *Store) Reschedule(ctx context.Context, ev Event, now time.Time) (Event, error) {
	if ev.Cron == nil {
		return Event{}, fmt.Errorf("schedule: event %s has no cron expression to reschedule", ev.ID)
	}
	next, err := NextCronOccurrence(*ev.Cron, now)
	if err != nil {
		return Event{}, err
	}

	id := idgen.NewID()
	row := s.pool.QueryRow(ctx, `INSERT INTO scheduled_events
		(id, bucket, trigger_time, tenant_id, group_id, policy_id, cron, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+eventColumns,
		id, ev.Bucket, next, ev.TenantID, ev.GroupID, ev.PolicyID, ev.Cron, ev.Version,
	)
	return scanEvent(row)
}
