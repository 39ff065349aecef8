// Package store implements the Group Store (per-tenant CRUD, quota
// enforcement, id-cursor pagination) and the Mutation Engine's ModifyState
// contract: every read-modify-write of a group's runtime state happens
// through ModifyState, which serializes access per group via pkg/lock and
// never leaves a partial write visible.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/otterscale/autoscale/pkg/group"
)

// GroupConfig carries the entity bounds and free-form metadata for a
// scaling group. Neither this package nor pkg/groupapi checks that
// maxEntities >= minEntities.
type GroupConfig struct {
	MinEntities int               `json:"minEntities"`
	MaxEntities int               `json:"maxEntities"`
	Cooldown    time.Duration     `json:"cooldown"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// LaunchConfig is an opaque bag of launch parameters handed to the external
// step executor; this layer never interprets its contents.
type LaunchConfig map[string]any

// PolicyType distinguishes how a policy is triggered.
type PolicyType string

const (
	PolicyWebhook  PolicyType = "webhook"
	PolicySchedule PolicyType = "schedule"
)

// PolicyInput is the caller-supplied shape for creating or updating a policy.
type PolicyInput struct {
	Name            string         `json:"name"`
	Type            PolicyType     `json:"type"`
	Change          *int           `json:"change,omitempty"`
	ChangePercent   *float64       `json:"changePercent,omitempty"`
	DesiredCapacity *int           `json:"desiredCapacity,omitempty"`
	Cooldown        time.Duration  `json:"cooldown"`
	Cron            *string        `json:"cron,omitempty"`
	At              *time.Time     `json:"at,omitempty"`
	Args            map[string]any `json:"args,omitempty"`
}

// Policy is a persisted scaling policy.
type Policy struct {
	ID        uuid.UUID `json:"id"`
	GroupID   uuid.UUID `json:"groupId"`
	TenantID  uuid.UUID `json:"tenantId"`
	PolicyInput
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WebhookInput is the caller-supplied shape for creating a webhook.
type WebhookInput struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Capability is the bearer-token handle a webhook exposes for anonymous execution.
type Capability struct {
	Hash    string `json:"hash"`
	Version int    `json:"version"`
}

// Webhook is a persisted webhook attached to a policy.
type Webhook struct {
	ID         uuid.UUID      `json:"id"`
	PolicyID   uuid.UUID      `json:"policyId"`
	GroupID    uuid.UUID      `json:"groupId"`
	TenantID   uuid.UUID      `json:"tenantId"`
	Name       string         `json:"name"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Capability Capability     `json:"capability"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Manifest is the assembled view returned by view_manifest: the group's
// configuration plus, optionally, its policies/webhooks and runtime state.
type Manifest struct {
	GroupID      uuid.UUID              `json:"id"`
	TenantID     uuid.UUID              `json:"tenantId"`
	GroupName    string                 `json:"groupName"`
	Config       GroupConfig            `json:"groupConfiguration"`
	LaunchConfig LaunchConfig           `json:"launchConfiguration"`
	Policies     []Policy               `json:"scalingPolicies,omitempty"`
	Webhooks     map[uuid.UUID][]Webhook `json:"-"`
	State        *group.State           `json:"state,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Page is a generic id-cursor page of results.
type Page[T any] struct {
	Items   []T
	LastID  uuid.UUID
	HasMore bool
}
