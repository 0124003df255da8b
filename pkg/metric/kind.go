package metric

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind identifies one of the derived dashboard metrics
type Kind string

const (
	KindPopularContentDaily   Kind = "popular_content_daily"
	KindEngagementConsistency Kind = "engagement_consistency"
	KindCommitmentScore       Kind = "commitment_score"
	KindAhaMoments            Kind = "aha_moments"
	KindContentPathways       Kind = "content_pathways"
	KindFeedbackThemes        Kind = "feedback_themes"
)

// ErrUnknownKind is returned when a metric kind name is not recognized
var ErrUnknownKind = errors.New("unknown metric kind")

var allKinds = []Kind{
	KindPopularContentDaily,
	KindEngagementConsistency,
	KindCommitmentScore,
	KindAhaMoments,
	KindContentPathways,
	KindFeedbackThemes,
}

// AllKinds returns every metric kind in dashboard order
func AllKinds() []Kind {
	kinds := make([]Kind, len(allKinds))
	copy(kinds, allKinds)
	return kinds
}

// Valid reports whether k is a known metric kind
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind converts a metric kind name into a Kind
func ParseKind(name string) (Kind, error) {
	k := Kind(name)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// Cached is a stored metric value for one tenant and kind.
// At most one live row exists per (TenantID, Kind).
type Cached struct {
	TenantID   string                 `json:"tenant_id"`
	Kind       Kind                   `json:"metric_kind"`
	Value      json.RawMessage        `json:"value"`
	ComputedAt time.Time              `json:"computed_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Expired reports whether the row is no longer servable at now
func (c *Cached) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// FormatTrend renders the percentage change from previous to current.
// No baseline with activity today counts as a full +100%.
func FormatTrend(previous, current int) string {
	if previous == 0 {
		if current == 0 {
			return "0%"
		}
		return "+100%"
	}
	return formatPercent(float64(current-previous) / float64(previous) * 100)
}

// FormatTrendFloat is FormatTrend for averaged values
func FormatTrendFloat(previous, current float64) string {
	if previous == 0 {
		if current == 0 {
			return "0%"
		}
		return "+100%"
	}
	return formatPercent((current - previous) / previous * 100)
}

func formatPercent(pct float64) string {
	rounded := int(math.Round(pct))
	switch {
	case rounded > 0:
		return fmt.Sprintf("+%d%%", rounded)
	case rounded < 0:
		return fmt.Sprintf("%d%%", rounded)
	default:
		return "0%"
	}
}
