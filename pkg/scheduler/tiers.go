package scheduler

import (
	"fmt"
	"time"

	"github.com/platinummonkey/beacon/pkg/metric"
)

// Tier names
const (
	TierFast   = "fast"
	TierMedium = "medium"
	TierSlow   = "slow"
)

// Tier is one refresh cadence and the metric kinds it owns
type Tier struct {
	Name     string
	Kinds    []metric.Kind
	Schedule string        // cron expression, minute resolution
	TTL      time.Duration // written rows expire this long after the run
	Timeout  time.Duration // per calculator invocation
	Purge    bool          // purge expired rows before recomputing
}

// Owns reports whether the tier refreshes kind
func (t Tier) Owns(kind metric.Kind) bool {
	for _, k := range t.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Source is the metadata source tag for rows this tier writes
func (t Tier) Source() string {
	return t.Name + "_tier"
}

// Tiers is the full tier table. Every metric kind belongs to exactly one tier.
type Tiers []Tier

// DefaultTiers returns the standard cadences. TTLs run slightly past each
// cadence so a late tick does not leave a gap.
func DefaultTiers() Tiers {
	return Tiers{
		{
			Name:     TierFast,
			Kinds:    []metric.Kind{metric.KindPopularContentDaily},
			Schedule: "*/15 * * * *",
			TTL:      20 * time.Minute,
			Timeout:  5 * time.Second,
		},
		{
			Name:     TierMedium,
			Kinds:    []metric.Kind{metric.KindEngagementConsistency, metric.KindCommitmentScore},
			Schedule: "0 * * * *",
			TTL:      70 * time.Minute,
			Timeout:  30 * time.Second,
		},
		{
			Name:     TierSlow,
			Kinds:    []metric.Kind{metric.KindAhaMoments, metric.KindContentPathways, metric.KindFeedbackThemes},
			Schedule: "0 */6 * * *",
			TTL:      360 * time.Minute,
			Timeout:  2 * time.Minute,
			Purge:    true,
		},
	}
}

// Get returns the tier with the given name
func (ts Tiers) Get(name string) (Tier, error) {
	for _, t := range ts {
		if t.Name == name {
			return t, nil
		}
	}
	return Tier{}, fmt.Errorf("unknown tier: %q", name)
}

// For returns the tier that owns kind
func (ts Tiers) For(kind metric.Kind) (Tier, bool) {
	for _, t := range ts {
		if t.Owns(kind) {
			return t, true
		}
	}
	return Tier{}, false
}

// Validate checks that every kind is owned by exactly one tier and that
// durations are positive.
func (ts Tiers) Validate() error {
	owner := make(map[metric.Kind]string)
	names := make(map[string]bool)
	for _, t := range ts {
		if t.Name == "" {
			return fmt.Errorf("tier name is required")
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		names[t.Name] = true
		if t.TTL <= 0 {
			return fmt.Errorf("tier %s: ttl must be positive", t.Name)
		}
		if t.Timeout <= 0 {
			return fmt.Errorf("tier %s: timeout must be positive", t.Name)
		}
		if t.Schedule == "" {
			return fmt.Errorf("tier %s: schedule is required", t.Name)
		}
		for _, k := range t.Kinds {
			if !k.Valid() {
				return fmt.Errorf("tier %s: %w: %q", t.Name, metric.ErrUnknownKind, k)
			}
			if prev, ok := owner[k]; ok {
				return fmt.Errorf("metric %s is owned by both %s and %s", k, prev, t.Name)
			}
			owner[k] = t.Name
		}
	}
	for _, k := range metric.AllKinds() {
		if _, ok := owner[k]; !ok {
			return fmt.Errorf("metric %s is not owned by any tier", k)
		}
	}
	return nil
}
