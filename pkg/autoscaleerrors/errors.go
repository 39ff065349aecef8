// Package autoscaleerrors defines the autoscale error taxonomy as Go error
// types implementing a common Kind/HTTPStatus contract, dispatched at the
// HTTP boundary via errors.As. This replaces the open-method/singledispatch
// pattern in the original source with a plain type switch: no runtime type
// introspection needed.
package autoscaleerrors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is implemented by every error kind in this package.
type APIError interface {
	error
	Kind() string
	HTTPStatus() int
}

// NoSuchGroup is returned when a tenant/group pair does not resolve to a
// non-deleted scaling group.
type NoSuchGroup struct {
	Tenant string
	Group  string
}

func (e NoSuchGroup) Error() string {
	return fmt.Sprintf("no such scaling group: tenant=%s group=%s", e.Tenant, e.Group)
}
func (e NoSuchGroup) Kind() string    { return "NoSuchGroup" }
func (e NoSuchGroup) HTTPStatus() int { return http.StatusNotFound }

// NoSuchPolicy is returned when a policy id does not resolve within a group.
type NoSuchPolicy struct {
	Tenant, Group, Policy string
}

func (e NoSuchPolicy) Error() string {
	return fmt.Sprintf("no such policy: tenant=%s group=%s policy=%s", e.Tenant, e.Group, e.Policy)
}
func (e NoSuchPolicy) Kind() string    { return "NoSuchPolicy" }
func (e NoSuchPolicy) HTTPStatus() int { return http.StatusNotFound }

// NoSuchWebhook is returned when a webhook id does not resolve within a policy.
type NoSuchWebhook struct {
	Tenant, Group, Policy, Webhook string
}

func (e NoSuchWebhook) Error() string {
	return fmt.Sprintf("no such webhook: tenant=%s group=%s policy=%s webhook=%s", e.Tenant, e.Group, e.Policy, e.Webhook)
}
func (e NoSuchWebhook) Kind() string    { return "NoSuchWebhook" }
func (e NoSuchWebhook) HTTPStatus() int { return http.StatusNotFound }

// UnrecognizedCapability is returned by the Capability Index when a hash does
// not resolve to a live webhook (including deleted webhooks).
type UnrecognizedCapability struct {
	Hash    string
	Version int
}

func (e UnrecognizedCapability) Error() string {
	return fmt.Sprintf("unrecognized capability: version=%d", e.Version)
}
func (e UnrecognizedCapability) Kind() string    { return "UnrecognizedCapability" }
func (e UnrecognizedCapability) HTTPStatus() int { return http.StatusNotFound }

// GroupNotEmpty is returned by delete_group when active+pending is non-empty.
type GroupNotEmpty struct {
	Tenant, Group string
}

func (e GroupNotEmpty) Error() string {
	return fmt.Sprintf("group not empty: tenant=%s group=%s", e.Tenant, e.Group)
}
func (e GroupNotEmpty) Kind() string    { return "GroupNotEmpty" }
func (e GroupNotEmpty) HTTPStatus() int { return http.StatusConflict }

// ScalingGroupOverLimit is returned when create_group would exceed MaxGroups.
type ScalingGroupOverLimit struct {
	Tenant string
	Max    int
}

func (e ScalingGroupOverLimit) Error() string {
	return fmt.Sprintf("tenant %s already has the maximum of %d scaling groups", e.Tenant, e.Max)
}
func (e ScalingGroupOverLimit) Kind() string    { return "ScalingGroupOverLimit" }
func (e ScalingGroupOverLimit) HTTPStatus() int { return http.StatusUnprocessableEntity }

// PoliciesOverLimit is returned when create_policies would exceed MaxPolicies.
type PoliciesOverLimit struct {
	Tenant, Group     string
	Max, Current, New int
}

func (e PoliciesOverLimit) Error() string {
	return fmt.Sprintf("group %s already has %d of max %d policies, refusing to add %d more", e.Group, e.Current, e.Max, e.New)
}
func (e PoliciesOverLimit) Kind() string    { return "PoliciesOverLimit" }
func (e PoliciesOverLimit) HTTPStatus() int { return http.StatusUnprocessableEntity }

// WebhooksOverLimit is returned when create_webhooks would exceed MaxWebhooksPerPolicy.
type WebhooksOverLimit struct {
	Tenant, Group, Policy string
	Max, Current, New     int
}

func (e WebhooksOverLimit) Error() string {
	return fmt.Sprintf("policy %s already has %d of max %d webhooks, refusing to add %d more", e.Policy, e.Current, e.Max, e.New)
}
func (e WebhooksOverLimit) Kind() string    { return "WebhooksOverLimit" }
func (e WebhooksOverLimit) HTTPStatus() int { return http.StatusUnprocessableEntity }

// LockContention is returned internally when the GroupLock cannot be
// acquired within the retry budget; the HTTP boundary surfaces it as 503.
type LockContention struct {
	Group string
}

func (e LockContention) Error() string {
	return fmt.Sprintf("could not acquire lock for group %s: contention", e.Group)
}
func (e LockContention) Kind() string    { return "LockContention" }
func (e LockContention) HTTPStatus() int { return http.StatusServiceUnavailable }

// UpstreamError wraps a failure from an external collaborator (cloud
// compute/LB clients, identity, etc.), mirroring the original source's
// UpstreamError: {system, operation, url, code?, body?, headers?}. Message
// best-effort parses a JSON body of shape {<kind>: {message: "..."}}.
type UpstreamError struct {
	System    string
	Operation string
	URL       string
	Code      int
	Body      []byte
	Headers   map[string]string
	Cause     error
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: system=%s operation=%s url=%s: %s", e.System, e.Operation, e.URL, e.Message())
}
func (e UpstreamError) Kind() string    { return "UpstreamError" }
func (e UpstreamError) HTTPStatus() int { return http.StatusBadGateway }
func (e UpstreamError) Unwrap() error   { return e.Cause }

// couldNotParseBody is the literal fallback string when Body does not parse.
const couldNotParseBody = "Could not parse API error body"

// Message best-effort parses Body as {<kind>: {message: "..."}} and returns
// the inner message, falling back to couldNotParseBody on any parse failure.
func (e UpstreamError) Message() string {
	if len(e.Body) == 0 {
		return couldNotParseBody
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(e.Body, &outer); err != nil || len(outer) == 0 {
		return couldNotParseBody
	}

	for _, raw := range outer {
		var inner struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &inner); err == nil && inner.Message != "" {
			return inner.Message
		}
	}
	return couldNotParseBody
}
