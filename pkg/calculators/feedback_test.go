package calculators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/eventstore"
	"github.com/platinummonkey/beacon/pkg/metric"
)

func addSubmissions(store *eventstore.Memory, n int) {
	for i := 0; i < n; i++ {
		store.AddSubmissions(tenant, eventstore.Submission{
			ID:          fmt.Sprintf("s%d", i),
			SubmittedAt: testNow.Add(-time.Duration(i+1) * time.Hour),
		})
	}
}

func TestFeedbackThemes_BelowThreshold(t *testing.T) {
	store := eventstore.NewMemory()
	addSubmissions(store, 4)
	// old submissions do not count
	store.AddSubmissions(tenant, eventstore.Submission{ID: "old", SubmittedAt: testNow.Add(-8 * day)})
	store.AddInsights(tenant, eventstore.Insight{ID: "i1", Title: "Pacing", CreatedAt: testNow.Add(-time.Hour)})

	res, err := newTestSet(store).FeedbackThemes(context.Background(), tenant)
	require.NoError(t, err)

	ft := res.(metric.FeedbackThemes)
	assert.False(t, ft.HasData)
	assert.Equal(t, []metric.FeedbackTheme{}, ft.Themes)
	assert.Equal(t, 4, ft.TotalSubmissions)
	assert.NotEmpty(t, ft.CTAMessage)
	assert.Equal(t, metric.EmptyFeedbackThemes(4), ft)
}

func TestFeedbackThemes_AtThreshold(t *testing.T) {
	store := eventstore.NewMemory()
	addSubmissions(store, 5)

	for i := 0; i < 7; i++ {
		store.AddInsights(tenant, eventstore.Insight{
			ID:           fmt.Sprintf("i%d", i),
			Title:        fmt.Sprintf("Theme %d", i),
			Sentiment:    "POSITIVE",
			MentionCount: i,
			Urgency:      "urgent",
			CreatedAt:    testNow.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	store.AddInsights(tenant,
		eventstore.Insight{ID: "blank", Title: "   ", CreatedAt: testNow.Add(-time.Minute)},
		eventstore.Insight{ID: "stale", Title: "Old news", CreatedAt: testNow.Add(-10 * day)},
	)

	res, err := newTestSet(store).FeedbackThemes(context.Background(), tenant)
	require.NoError(t, err)

	ft := res.(metric.FeedbackThemes)
	assert.True(t, ft.HasData)
	assert.Equal(t, 5, ft.TotalSubmissions)
	assert.Empty(t, ft.CTAMessage)
	require.Len(t, ft.Themes, 5)

	assert.Equal(t, metric.FeedbackTheme{
		Title:      "Theme 0",
		Sentiment:  "positive",
		SharePct:   0,
		Urgency:    "low",
		ObservedAt: testNow.Add(-time.Hour),
	}, ft.Themes[0])
	assert.Equal(t, "Theme 4", ft.Themes[4].Title)
	// 4 mentions of 5 submissions
	assert.Equal(t, 80, ft.Themes[4].SharePct)
}

func TestFeedbackThemes_NoUsableInsights(t *testing.T) {
	store := eventstore.NewMemory()
	addSubmissions(store, 6)
	store.AddInsights(tenant, eventstore.Insight{ID: "blank", Title: "", CreatedAt: testNow.Add(-time.Hour)})

	res, err := newTestSet(store).FeedbackThemes(context.Background(), tenant)
	require.NoError(t, err)

	ft := res.(metric.FeedbackThemes)
	assert.False(t, ft.HasData)
	assert.Equal(t, 6, ft.TotalSubmissions)
	assert.Equal(t, metric.FeedbackThemesPending, ft.CTAMessage)
	assert.NotNil(t, ft.Themes)
}

func TestSharePct(t *testing.T) {
	assert.Equal(t, 0, sharePct(0, 10))
	assert.Equal(t, 33, sharePct(1, 3))
	assert.Equal(t, 67, sharePct(2, 3))
	assert.Equal(t, 100, sharePct(30, 10))
	assert.Equal(t, 0, sharePct(3, 0))
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "mixed", normalizeSentiment(" Mixed "))
	assert.Equal(t, "neutral", normalizeSentiment("angry"))
	assert.Equal(t, "high", normalizeUrgency("HIGH"))
	assert.Equal(t, "low", normalizeUrgency(""))
}
