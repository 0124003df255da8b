package calculators

import (
	"context"
	"math"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
)

const (
	consistencyWindowDays = 14
	bandHigh              = 70
	bandMedium            = 40
)

// consistencyScore maps distinct active days in a window to 0-100
func consistencyScore(activeDays int) int {
	if activeDays > consistencyWindowDays {
		activeDays = consistencyWindowDays
	}
	return int(math.Round(100 * float64(activeDays) / consistencyWindowDays))
}

// EngagementConsistency scores each entity by the share of days it was active
// over the trailing 14 days and compares the population average with the
// 14 days before that.
func (s *Set) EngagementConsistency(ctx context.Context, tenantID string) (metric.Result, error) {
	now := s.now()
	window := consistencyWindowDays * day
	currentFrom := now.Add(-window)
	previousFrom := currentFrom.Add(-window)

	entities, err := s.store.QueryEntities(ctx, tenantID)
	if err != nil {
		return failed(metric.KindEngagementConsistency, "query entities", err)
	}
	if len(entities) == 0 {
		return metric.Empty(metric.KindEngagementConsistency), nil
	}

	events, err := s.store.QueryEvents(ctx, tenantID, eventstore.EventQuery{From: previousFrom, To: now})
	if err != nil {
		return failed(metric.KindEngagementConsistency, "query events", err)
	}

	current := make(map[string]map[string]struct{})
	previous := make(map[string]map[string]struct{})
	for _, ev := range events {
		if ev.EntityID == nil {
			continue
		}
		bucket := previous
		if !ev.OccurredAt.Before(currentFrom) {
			bucket = current
		}
		days, ok := bucket[*ev.EntityID]
		if !ok {
			days = make(map[string]struct{})
			bucket[*ev.EntityID] = days
		}
		days[dayKey(ev.OccurredAt)] = struct{}{}
	}

	res := metric.EngagementConsistency{
		TotalEntities: len(entities),
		WindowDays:    consistencyWindowDays,
	}
	var curSum, prevSum int
	for _, e := range entities {
		score := consistencyScore(len(current[e.ID]))
		curSum += score
		prevSum += consistencyScore(len(previous[e.ID]))

		switch {
		case score >= bandHigh:
			res.Distribution.High++
		case score >= bandMedium:
			res.Distribution.Medium++
		default:
			res.Distribution.Low++
		}
		if len(current[e.ID]) > 0 {
			res.HasData = true
		}
	}

	curAvg := float64(curSum) / float64(len(entities))
	prevAvg := float64(prevSum) / float64(len(entities))
	res.AverageScore = round1(curAvg)
	res.Trend = metric.FormatTrendFloat(prevAvg, curAvg)
	return res, nil
}
