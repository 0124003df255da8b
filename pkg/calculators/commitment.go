package calculators

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
)

const (
	commitmentWindowDays   = 30
	commitmentTargetDays   = 12
	commitmentAtRiskLimit  = 10
	commitmentRecencyShare = 0.4
)

type commitmentInput struct {
	last       time.Time
	activeDays map[string]struct{}
	cancelled  bool
}

// commitmentScore blends recency (40%) and frequency (60%) into 0-100
func commitmentScore(daysSinceLast float64, activeDays int) int {
	recency := 100 * math.Max(0, 1-daysSinceLast/commitmentWindowDays)
	frequency := 100 * math.Min(1, float64(activeDays)/commitmentTargetDays)
	return int(math.Round(commitmentRecencyShare*recency + (1-commitmentRecencyShare)*frequency))
}

// CommitmentScore scores entities on recency and frequency over 30 days and
// lists the lowest scoring at-risk entities. A membership cancellation in the
// window caps the entity in the at-risk band.
func (s *Set) CommitmentScore(ctx context.Context, tenantID string) (metric.Result, error) {
	now := s.now()
	from := now.Add(-commitmentWindowDays * day)

	entities, err := s.store.QueryEntities(ctx, tenantID)
	if err != nil {
		return failed(metric.KindCommitmentScore, "query entities", err)
	}
	if len(entities) == 0 {
		return metric.Empty(metric.KindCommitmentScore), nil
	}

	events, err := s.store.QueryEvents(ctx, tenantID, eventstore.EventQuery{From: from, To: now})
	if err != nil {
		return failed(metric.KindCommitmentScore, "query events", err)
	}

	inputs := make(map[string]*commitmentInput)
	for _, ev := range events {
		if ev.EntityID == nil {
			continue
		}
		in, ok := inputs[*ev.EntityID]
		if !ok {
			in = &commitmentInput{activeDays: make(map[string]struct{})}
			inputs[*ev.EntityID] = in
		}
		if ev.Type == eventstore.EventMembershipCancelled {
			in.cancelled = true
			continue
		}
		if ev.OccurredAt.After(in.last) {
			in.last = ev.OccurredAt
		}
		in.activeDays[dayKey(ev.OccurredAt)] = struct{}{}
	}

	res := metric.CommitmentScore{
		AtRisk:        []metric.AtRiskEntity{},
		TotalEntities: len(entities),
	}
	sum := 0
	for _, e := range entities {
		score := 0
		atRisk := metric.AtRiskEntity{EntityID: e.ID, DaysInactive: commitmentWindowDays}

		in := inputs[e.ID]
		if in != nil && !in.last.IsZero() {
			since := now.Sub(in.last)
			score = commitmentScore(since.Hours()/24, len(in.activeDays))
			last := in.last
			atRisk.LastActiveAt = &last
			atRisk.DaysInactive = int(since / day)
			res.HasData = true
		}
		if in != nil && in.cancelled && score >= bandMedium {
			score = bandMedium - 1
		}
		sum += score

		switch {
		case score >= bandHigh:
			res.Bands.High++
		case score >= bandMedium:
			res.Bands.Medium++
		default:
			res.Bands.AtRisk++
			atRisk.Score = score
			res.AtRisk = append(res.AtRisk, atRisk)
		}
	}

	sort.Slice(res.AtRisk, func(i, j int) bool {
		if res.AtRisk[i].Score != res.AtRisk[j].Score {
			return res.AtRisk[i].Score < res.AtRisk[j].Score
		}
		return res.AtRisk[i].EntityID < res.AtRisk[j].EntityID
	})
	if len(res.AtRisk) > commitmentAtRiskLimit {
		res.AtRisk = res.AtRisk[:commitmentAtRiskLimit]
	}
	res.AverageScore = round1(float64(sum) / float64(len(entities)))
	return res, nil
}
