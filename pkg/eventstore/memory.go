package eventstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is an in-process Accessor used by tests and demo mode.
// Query results are deep copies so callers cannot mutate stored records.
type Memory struct {
	mu          sync.RWMutex
	tenants     map[string]bool
	events      map[string][]RawEvent
	entities    map[string][]Entity
	submissions map[string][]Submission
	insights    map[string][]Insight
}

// NewMemory creates an empty in-memory event store
func NewMemory() *Memory {
	return &Memory{
		tenants:     make(map[string]bool),
		events:      make(map[string][]RawEvent),
		entities:    make(map[string][]Entity),
		submissions: make(map[string][]Submission),
		insights:    make(map[string][]Insight),
	}
}

// SetTenant registers a tenant and its active flag
func (m *Memory) SetTenant(tenantID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenantID] = active
}

// AddEvents appends events; TenantID on each event is overwritten with tenantID
func (m *Memory) AddEvents(tenantID string, events ...RawEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		ev.TenantID = tenantID
		m.events[tenantID] = append(m.events[tenantID], copyEvent(ev))
	}
}

// AddEntities appends entities to a tenant
func (m *Memory) AddEntities(tenantID string, entities ...Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		e.TenantID = tenantID
		m.entities[tenantID] = append(m.entities[tenantID], e)
	}
}

// AddSubmissions appends feedback submissions to a tenant
func (m *Memory) AddSubmissions(tenantID string, submissions ...Submission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range submissions {
		s.TenantID = tenantID
		m.submissions[tenantID] = append(m.submissions[tenantID], s)
	}
}

// AddInsights appends insights to a tenant
func (m *Memory) AddInsights(tenantID string, insights ...Insight) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range insights {
		in.TenantID = tenantID
		m.insights[tenantID] = append(m.insights[tenantID], in)
	}
}

func (m *Memory) ListActiveTenants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tenants []string
	for id, active := range m.tenants {
		if active {
			tenants = append(tenants, id)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (m *Memory) QueryEvents(ctx context.Context, tenantID string, q EventQuery) ([]RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWindow(q.From, q.To); err != nil {
		return nil, err
	}

	types := make(map[string]bool, len(q.Types))
	for _, t := range q.Types {
		types[t] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RawEvent
	for _, ev := range m.events[tenantID] {
		if ev.OccurredAt.Before(q.From) || !ev.OccurredAt.Before(q.To) {
			continue
		}
		if len(types) > 0 && !types[ev.Type] {
			continue
		}
		out = append(out, copyEvent(ev))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (m *Memory) QueryEntities(ctx context.Context, tenantID string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entity, 0, len(m.entities[tenantID]))
	for _, e := range m.entities[tenantID] {
		cp := e
		if e.Metadata != nil {
			cp.Metadata = make(map[string]interface{}, len(e.Metadata))
			for k, v := range e.Metadata {
				cp.Metadata[k] = v
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) QuerySubmissions(ctx context.Context, tenantID string, r Range) ([]Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWindow(r.From, r.To); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Submission
	for _, s := range m.submissions[tenantID] {
		if s.SubmittedAt.Before(r.From) || !s.SubmittedAt.Before(r.To) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) QueryInsights(ctx context.Context, tenantID string, q InsightQuery) ([]Insight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWindow(q.From, q.To); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultInsightLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Insight
	for _, in := range m.insights[tenantID] {
		if in.CreatedAt.Before(q.From) || !in.CreatedAt.Before(q.To) {
			continue
		}
		out = append(out, in)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyEvent(ev RawEvent) RawEvent {
	if ev.EntityID != nil {
		id := *ev.EntityID
		ev.EntityID = &id
	}
	if ev.Payload != nil {
		ev.Payload = append(json.RawMessage(nil), ev.Payload...)
	}
	return ev
}
