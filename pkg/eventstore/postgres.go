package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DefaultInsightLimit caps insight lookups that do not set a limit
const DefaultInsightLimit = 50

// PostgresConfig holds event store connection settings
type PostgresConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// Postgres reads tenant records from the relational event store
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an existing connection pool
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to the event store and verifies the connection
func OpenPostgres(cfg PostgresConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping event store: %w", err)
	}

	return &Postgres{db: db}, nil
}

// DB returns the underlying pool for health checks
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

// ListActiveTenants returns ids of tenants flagged active
func (p *Postgres) ListActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id
		FROM tenants
		WHERE active = TRUE
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// QueryEvents returns a tenant's events in [From, To), oldest first
func (p *Postgres) QueryEvents(ctx context.Context, tenantID string, q EventQuery) ([]RawEvent, error) {
	if err := checkWindow(q.From, q.To); err != nil {
		return nil, err
	}

	query := `
		SELECT entity_id, type, payload, occurred_at
		FROM events
		WHERE tenant_id = $1
		  AND occurred_at >= $2
		  AND occurred_at < $3
		  AND (cardinality($4::text[]) = 0 OR type = ANY($4::text[]))
		ORDER BY occurred_at ASC
	`
	types := q.Types
	if types == nil {
		types = []string{}
	}

	rows, err := p.db.QueryContext(ctx, query, tenantID, q.From, q.To, pq.Array(types))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []RawEvent
	for rows.Next() {
		var (
			entityID sql.NullString
			payload  []byte
		)
		ev := RawEvent{TenantID: tenantID}
		if err := rows.Scan(&entityID, &ev.Type, &payload, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if entityID.Valid {
			id := entityID.String
			ev.EntityID = &id
		}
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// QueryEntities returns all end users of a tenant
func (p *Postgres) QueryEntities(ctx context.Context, tenantID string) ([]Entity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, created_at, metadata
		FROM entities
		WHERE tenant_id = $1
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var metadata []byte
		e := Entity{TenantID: tenantID}
		if err := rows.Scan(&e.ID, &e.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode entity metadata: %w", err)
			}
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

// QuerySubmissions returns a tenant's feedback submissions in [From, To)
func (p *Postgres) QuerySubmissions(ctx context.Context, tenantID string, r Range) ([]Submission, error) {
	if err := checkWindow(r.From, r.To); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entity_id, submitted_at
		FROM submissions
		WHERE tenant_id = $1
		  AND submitted_at >= $2
		  AND submitted_at < $3
		ORDER BY submitted_at ASC
	`, tenantID, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var submissions []Submission
	for rows.Next() {
		var entityID sql.NullString
		s := Submission{TenantID: tenantID}
		if err := rows.Scan(&s.ID, &entityID, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		if entityID.Valid {
			id := entityID.String
			s.EntityID = &id
		}
		submissions = append(submissions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}

	return submissions, nil
}

// QueryInsights returns up to Limit insights in [From, To), newest first
func (p *Postgres) QueryInsights(ctx context.Context, tenantID string, q InsightQuery) ([]Insight, error) {
	if err := checkWindow(q.From, q.To); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultInsightLimit
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, sentiment, mention_count, urgency, suggested_action, created_at
		FROM insights
		WHERE tenant_id = $1
		  AND created_at >= $2
		  AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, tenantID, q.From, q.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	var insights []Insight
	for rows.Next() {
		var (
			title, sentiment, urgency, action sql.NullString
			mentions                          sql.NullInt64
		)
		in := Insight{TenantID: tenantID}
		if err := rows.Scan(&in.ID, &title, &sentiment, &mentions, &urgency, &action, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		in.Title = title.String
		in.Sentiment = sentiment.String
		in.MentionCount = int(mentions.Int64)
		in.Urgency = urgency.String
		in.SuggestedAction = action.String
		insights = append(insights, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating insights: %w", err)
	}

	return insights, nil
}

// ErrUnboundedWindow is returned for queries without a closed time window
var ErrUnboundedWindow = errors.New("query window must have From before To")

func checkWindow(from, to time.Time) error {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return ErrUnboundedWindow
	}
	return nil
}
