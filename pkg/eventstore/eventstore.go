package eventstore

import (
	"context"
	"encoding/json"
	"time"
)

// Event types consumed by the calculators
const (
	EventActivityPing        = "activity.ping"
	EventContentViewed       = "content.viewed"
	EventContentCompleted    = "content.completed"
	EventEnrollmentCreated   = "enrollment.created"
	EventPaymentSucceeded    = "payment.succeeded"
	EventMembershipCancelled = "membership.cancelled"
)

// RawEvent is an immutable activity record of a tenant
type RawEvent struct {
	TenantID   string
	EntityID   *string
	Type       string
	Payload    json.RawMessage
	OccurredAt time.Time
}

// Entity is an end user of a tenant
type Entity struct {
	TenantID  string
	ID        string
	CreatedAt time.Time
	Metadata  map[string]interface{}
}

// Submission is a feedback form submission
type Submission struct {
	TenantID    string
	ID          string
	EntityID    *string
	SubmittedAt time.Time
}

// Insight is a semantic summary produced by the external insight generator
type Insight struct {
	TenantID        string
	ID              string
	Title           string
	Sentiment       string
	MentionCount    int
	Urgency         string
	SuggestedAction string
	CreatedAt       time.Time
}

// Range is a half-open time window [From, To)
type Range struct {
	From time.Time
	To   time.Time
}

// EventQuery filters events by type within a window. Empty Types matches all.
type EventQuery struct {
	Types []string
	From  time.Time
	To    time.Time
}

// InsightQuery bounds an insight lookup; results are newest first
type InsightQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}

// TenantLister lists tenants eligible for scheduled recomputation
type TenantLister interface {
	ListActiveTenants(ctx context.Context) ([]string, error)
}

// Accessor is the read-only, tenant-scoped view of the event store
type Accessor interface {
	TenantLister
	QueryEvents(ctx context.Context, tenantID string, q EventQuery) ([]RawEvent, error)
	QueryEntities(ctx context.Context, tenantID string) ([]Entity, error)
	QuerySubmissions(ctx context.Context, tenantID string, r Range) ([]Submission, error)
	QueryInsights(ctx context.Context, tenantID string, q InsightQuery) ([]Insight, error)
}
