package calculators

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
)

const (
	// MinFeedbackSubmissions is the submission count below which no themes are shown
	MinFeedbackSubmissions = 5

	feedbackWindowDays   = 7
	feedbackInsightLimit = 20
	feedbackThemeLimit   = 5
)

// FeedbackThemes reshapes recent generated insights into dashboard themes once
// the tenant has collected enough submissions in the last 7 days.
func (s *Set) FeedbackThemes(ctx context.Context, tenantID string) (metric.Result, error) {
	now := s.now()
	from := now.Add(-feedbackWindowDays * day)

	subs, err := s.store.QuerySubmissions(ctx, tenantID, eventstore.Range{From: from, To: now})
	if err != nil {
		return failed(metric.KindFeedbackThemes, "query submissions", err)
	}
	total := len(subs)
	if total < MinFeedbackSubmissions {
		return metric.EmptyFeedbackThemes(total), nil
	}

	insights, err := s.store.QueryInsights(ctx, tenantID, eventstore.InsightQuery{
		From:  from,
		To:    now,
		Limit: feedbackInsightLimit,
	})
	if err != nil {
		return failed(metric.KindFeedbackThemes, "query insights", err)
	}
	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].CreatedAt.After(insights[j].CreatedAt)
	})

	themes := make([]metric.FeedbackTheme, 0, feedbackThemeLimit)
	for _, in := range insights {
		title := strings.TrimSpace(in.Title)
		if title == "" {
			continue
		}
		themes = append(themes, metric.FeedbackTheme{
			Title:           title,
			Sentiment:       normalizeSentiment(in.Sentiment),
			SharePct:        sharePct(in.MentionCount, total),
			Urgency:         normalizeUrgency(in.Urgency),
			SuggestedAction: strings.TrimSpace(in.SuggestedAction),
			ObservedAt:      in.CreatedAt.UTC(),
		})
		if len(themes) == feedbackThemeLimit {
			break
		}
	}

	res := metric.FeedbackThemes{
		HasData:          len(themes) > 0,
		Themes:           themes,
		TotalSubmissions: total,
	}
	if !res.HasData {
		res.CTAMessage = metric.FeedbackThemesPending
	}
	return res, nil
}

func sharePct(mentions, total int) int {
	if total <= 0 || mentions <= 0 {
		return 0
	}
	pct := int(math.Round(float64(mentions) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

func normalizeSentiment(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "positive", "negative", "neutral", "mixed":
		return v
	default:
		return "neutral"
	}
}

func normalizeUrgency(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "low", "medium", "high":
		return v
	default:
		return "low"
	}
}
