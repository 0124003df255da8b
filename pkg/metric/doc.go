// Package metric defines the dashboard metric kinds and their result shapes.
//
// # Overview
//
// Six derived analytics are computed per tenant and cached per (tenant, kind):
//
//   - popular_content_daily: today's most engaged content with day-over-day trend
//   - engagement_consistency: regularity score distribution across entities
//   - commitment_score: recency and frequency score with the at-risk list
//   - aha_moments: content followed by engagement spikes, plus stagnant entities
//   - content_pathways: common transitions, dead ends and power combinations
//   - feedback_themes: recent semantic insights reshaped into themes
//
// Every kind has exactly one documented empty result, returned by Empty, which
// calculators use both for insufficient data and for recovered failures:
//
//	res := metric.Empty(metric.KindFeedbackThemes)
//	themes := res.(metric.FeedbackThemes) // HasData=false, CTAMessage set
//
// Cached values are stored as JSON and restored with Decode.
package metric
