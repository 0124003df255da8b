package calculators

import (
	"context"
	"sort"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
)

// PopularContentLimit is the number of content items reported
const PopularContentLimit = 10

var popularEventTypes = []string{
	eventstore.EventContentViewed,
	eventstore.EventContentCompleted,
	eventstore.EventEnrollmentCreated,
}

type contentTally struct {
	today     int
	yesterday int
	entities  map[string]struct{}
	title     string
}

// PopularContent ranks content by engagements since UTC midnight and compares
// each item against the whole of yesterday.
func (s *Set) PopularContent(ctx context.Context, tenantID string) (metric.Result, error) {
	now := s.now()
	today := startOfDay(now)
	yesterday := today.Add(-day)

	events, err := s.store.QueryEvents(ctx, tenantID, eventstore.EventQuery{
		Types: popularEventTypes,
		From:  yesterday,
		To:    now,
	})
	if err != nil {
		return failed(metric.KindPopularContentDaily, "query events", err)
	}

	tallies := make(map[string]*contentTally)
	total := 0
	for _, ev := range events {
		id := contentID(ev.Payload)
		if id == "" {
			continue
		}
		t, ok := tallies[id]
		if !ok {
			t = &contentTally{entities: make(map[string]struct{})}
			tallies[id] = t
		}
		if t.title == "" {
			t.title = contentTitle(ev.Payload)
		}
		if ev.OccurredAt.Before(today) {
			t.yesterday++
			continue
		}
		t.today++
		total++
		if ev.EntityID != nil {
			t.entities[*ev.EntityID] = struct{}{}
		}
	}

	items := make([]metric.PopularContentItem, 0, len(tallies))
	for id, t := range tallies {
		if t.today == 0 {
			continue
		}
		items = append(items, metric.PopularContentItem{
			ContentID:      id,
			Title:          t.title,
			Engagements:    t.today,
			UniqueEntities: len(t.entities),
			Yesterday:      t.yesterday,
			Trend:          metric.FormatTrend(t.yesterday, t.today),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Engagements != items[j].Engagements {
			return items[i].Engagements > items[j].Engagements
		}
		return items[i].ContentID < items[j].ContentID
	})
	if len(items) == 0 {
		return metric.Empty(metric.KindPopularContentDaily), nil
	}
	if len(items) > PopularContentLimit {
		items = items[:PopularContentLimit]
	}

	return metric.PopularContent{
		HasData:          true,
		Date:             dayKey(today),
		Items:            items,
		TotalEngagements: total,
	}, nil
}
