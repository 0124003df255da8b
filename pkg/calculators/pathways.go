package calculators

import (
	"context"
	"sort"
	"time"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
)

const (
	pathwaysWindowDays   = 30
	pathwaysDeadEndDays  = 3
	pathwaysMinEntities  = 2
	pathwaysLimit        = 5
	pathwaysMaxPerEntity = 50
)

type transition struct{ from, to string }

type contentPair struct{ a, b string }

type entityPath struct {
	sequence    []string
	distinct    []string
	completions int
	lastAt      time.Time
}

// ContentPathways mines the last 30 days of content interactions for common
// transitions, content after which entities went quiet, and pairs of content
// whose consumers complete more than the tenant average.
func (s *Set) ContentPathways(ctx context.Context, tenantID string) (metric.Result, error) {
	now := s.now()
	events, err := s.store.QueryEvents(ctx, tenantID, eventstore.EventQuery{
		Types: []string{eventstore.EventContentViewed, eventstore.EventContentCompleted},
		From:  now.Add(-pathwaysWindowDays * day),
		To:    now,
	})
	if err != nil {
		return failed(metric.KindContentPathways, "query events", err)
	}

	paths := buildPaths(events)
	if len(paths) == 0 {
		return metric.Empty(metric.KindContentPathways), nil
	}

	return metric.ContentPathways{
		HasData:           true,
		TopSequences:      topTransitions(paths),
		DeadEnds:          deadEnds(paths, now.Add(-pathwaysDeadEndDays*day)),
		PowerCombinations: powerCombinations(paths),
	}, nil
}

func buildPaths(events []eventstore.RawEvent) map[string]*entityPath {
	paths := make(map[string]*entityPath)
	for entityID, evs := range byEntity(events) {
		p := &entityPath{}
		seen := make(map[string]bool)
		for _, ev := range evs {
			id := contentID(ev.Payload)
			if id == "" {
				continue
			}
			if ev.Type == eventstore.EventContentCompleted {
				p.completions++
			}
			p.lastAt = ev.OccurredAt
			if n := len(p.sequence); n == 0 || p.sequence[n-1] != id {
				p.sequence = append(p.sequence, id)
			}
			if !seen[id] && len(p.distinct) < pathwaysMaxPerEntity {
				seen[id] = true
				p.distinct = append(p.distinct, id)
			}
		}
		if len(p.sequence) > 0 {
			paths[entityID] = p
		}
	}
	return paths
}

func topTransitions(paths map[string]*entityPath) []metric.PathwayStep {
	counts := make(map[transition]int)
	for _, p := range paths {
		seen := make(map[transition]bool)
		for i := 1; i < len(p.sequence); i++ {
			t := transition{p.sequence[i-1], p.sequence[i]}
			if !seen[t] {
				seen[t] = true
				counts[t]++
			}
		}
	}

	steps := make([]metric.PathwayStep, 0)
	for t, n := range counts {
		if n >= pathwaysMinEntities {
			steps = append(steps, metric.PathwayStep{From: t.from, To: t.to, Entities: n})
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Entities != steps[j].Entities {
			return steps[i].Entities > steps[j].Entities
		}
		if steps[i].From != steps[j].From {
			return steps[i].From < steps[j].From
		}
		return steps[i].To < steps[j].To
	})
	if len(steps) > pathwaysLimit {
		steps = steps[:pathwaysLimit]
	}
	return steps
}

// deadEnds counts entities whose last interaction happened before cutoff
func deadEnds(paths map[string]*entityPath, cutoff time.Time) []metric.DeadEnd {
	counts := make(map[string]int)
	for _, p := range paths {
		if p.lastAt.Before(cutoff) {
			counts[p.sequence[len(p.sequence)-1]]++
		}
	}

	out := make([]metric.DeadEnd, 0, len(counts))
	for id, n := range counts {
		out = append(out, metric.DeadEnd{ContentID: id, Entities: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entities != out[j].Entities {
			return out[i].Entities > out[j].Entities
		}
		return out[i].ContentID < out[j].ContentID
	})
	if len(out) > pathwaysLimit {
		out = out[:pathwaysLimit]
	}
	return out
}

func powerCombinations(paths map[string]*entityPath) []metric.PowerCombination {
	totalCompletions := 0
	for _, p := range paths {
		totalCompletions += p.completions
	}
	if totalCompletions == 0 {
		return []metric.PowerCombination{}
	}
	tenantAvg := float64(totalCompletions) / float64(len(paths))

	type pairStats struct {
		entities    int
		completions int
	}
	pairs := make(map[contentPair]*pairStats)
	for _, p := range paths {
		ids := append([]string(nil), p.distinct...)
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				key := contentPair{ids[i], ids[j]}
				st, ok := pairs[key]
				if !ok {
					st = &pairStats{}
					pairs[key] = st
				}
				st.entities++
				st.completions += p.completions
			}
		}
	}

	out := make([]metric.PowerCombination, 0)
	for key, st := range pairs {
		if st.entities < pathwaysMinEntities {
			continue
		}
		lift := (float64(st.completions) / float64(st.entities)) / tenantAvg
		if lift <= 1 {
			continue
		}
		out = append(out, metric.PowerCombination{
			ContentIDs: []string{key.a, key.b},
			Entities:   st.entities,
			Lift:       round2(lift),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lift != out[j].Lift {
			return out[i].Lift > out[j].Lift
		}
		if out[i].Entities != out[j].Entities {
			return out[i].Entities > out[j].Entities
		}
		if out[i].ContentIDs[0] != out[j].ContentIDs[0] {
			return out[i].ContentIDs[0] < out[j].ContentIDs[0]
		}
		return out[i].ContentIDs[1] < out[j].ContentIDs[1]
	})
	if len(out) > pathwaysLimit {
		out = out[:pathwaysLimit]
	}
	return out
}
