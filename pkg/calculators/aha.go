package calculators

import (
	"context"
	"sort"
	"time"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
)

const (
	ahaWindowDays      = 30
	ahaCompareDays     = 7
	ahaMinEntities     = 3
	ahaMinSpikePct     = 25.0
	ahaMomentLimit     = 5
	stagnantEntityList = 10
)

type spikeTally struct {
	entities int
	spikeSum float64
}

// spikePct is the relative change from pre to post exposure activity.
// With no prior activity any follow-on engagement counts as +100%.
func spikePct(pre, post int) float64 {
	if pre == 0 {
		if post > 0 {
			return 100
		}
		return 0
	}
	return float64(post-pre) / float64(pre) * 100
}

// AhaMoments finds content whose first exposure is followed by a jump in the
// entity's activity over the next 7 days compared with the 7 days before.
// Exposures must be at least 7 days old so the post window is complete.
//
// Entities active in the last 30 days whose second half was no busier than
// the first are reported as stagnant.
func (s *Set) AhaMoments(ctx context.Context, tenantID string) (metric.Result, error) {
	now := s.now()
	compare := ahaCompareDays * day
	windowFrom := now.Add(-ahaWindowDays * day)
	exposureTo := now.Add(-compare)
	midpoint := now.Add(-ahaWindowDays * day / 2)

	events, err := s.store.QueryEvents(ctx, tenantID, eventstore.EventQuery{
		From: windowFrom.Add(-compare),
		To:   now,
	})
	if err != nil {
		return failed(metric.KindAhaMoments, "query events", err)
	}

	tallies := make(map[string]*spikeTally)
	var stagnant []string
	active := 0

	for entityID, evs := range byEntity(events) {
		seen := make(map[string]bool)
		var earlier, recent int
		for _, ev := range evs {
			if !ev.OccurredAt.Before(windowFrom) {
				if ev.OccurredAt.Before(midpoint) {
					earlier++
				} else {
					recent++
				}
			}

			if !isContentEvent(ev.Type) {
				continue
			}
			id := contentID(ev.Payload)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if ev.OccurredAt.Before(windowFrom) || ev.OccurredAt.After(exposureTo) {
				continue
			}

			pre, post := countAround(evs, ev.OccurredAt, compare)
			t, ok := tallies[id]
			if !ok {
				t = &spikeTally{}
				tallies[id] = t
			}
			t.entities++
			t.spikeSum += spikePct(pre, post)
		}

		if earlier+recent == 0 {
			continue
		}
		active++
		if recent <= earlier {
			stagnant = append(stagnant, entityID)
		}
	}

	moments := make([]metric.AhaMoment, 0)
	for id, t := range tallies {
		if t.entities < ahaMinEntities {
			continue
		}
		avg := t.spikeSum / float64(t.entities)
		if avg < ahaMinSpikePct {
			continue
		}
		moments = append(moments, metric.AhaMoment{
			ContentID:    id,
			SpikePct:     round1(avg),
			StudentCount: t.entities,
		})
	}
	sort.Slice(moments, func(i, j int) bool {
		if moments[i].SpikePct != moments[j].SpikePct {
			return moments[i].SpikePct > moments[j].SpikePct
		}
		if moments[i].StudentCount != moments[j].StudentCount {
			return moments[i].StudentCount > moments[j].StudentCount
		}
		return moments[i].ContentID < moments[j].ContentID
	})
	if len(moments) > ahaMomentLimit {
		moments = moments[:ahaMomentLimit]
	}

	sort.Strings(stagnant)
	res := metric.AhaMoments{
		HasData:          active > 0,
		Moments:          moments,
		StagnantCount:    len(stagnant),
		StagnantEntities: stagnant,
	}
	if len(stagnant) > stagnantEntityList {
		res.StagnantEntities = stagnant[:stagnantEntityList]
	}
	if res.StagnantEntities == nil {
		res.StagnantEntities = []string{}
	}
	return res, nil
}

// countAround counts events in [at-span, at) and (at, at+span)
func countAround(evs []eventstore.RawEvent, at time.Time, span time.Duration) (pre, post int) {
	from, to := at.Add(-span), at.Add(span)
	for _, ev := range evs {
		switch {
		case !ev.OccurredAt.Before(from) && ev.OccurredAt.Before(at):
			pre++
		case ev.OccurredAt.After(at) && ev.OccurredAt.Before(to):
			post++
		}
	}
	return pre, post
}
