package metric

import (
	"encoding/json"
	"fmt"
	"time"
)

// FeedbackThemesGuidance is shown while a tenant has too few recent submissions
const FeedbackThemesGuidance = "Collect at least 5 feedback submissions in the last 7 days to unlock feedback themes."

// FeedbackThemesPending is shown when enough feedback exists but no insights have been generated yet
const FeedbackThemesPending = "Feedback is being analyzed. Themes will appear once insights are generated."

// Result is the typed output of a calculator for one metric kind
type Result interface {
	Kind() Kind
}

// PopularContentItem is one content identifier's engagement today
type PopularContentItem struct {
	ContentID      string `json:"content_id"`
	Title          string `json:"title,omitempty"`
	Engagements    int    `json:"engagements"`
	UniqueEntities int    `json:"unique_entities"`
	Yesterday      int    `json:"yesterday"`
	Trend          string `json:"trend"`
}

// PopularContent ranks today's most engaged content
type PopularContent struct {
	HasData          bool                 `json:"has_data"`
	Date             string               `json:"date"`
	Items            []PopularContentItem `json:"items"`
	TotalEngagements int                  `json:"total_engagements"`
}

func (PopularContent) Kind() Kind { return KindPopularContentDaily }

// Distribution counts entities per band
type Distribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// EngagementConsistency summarizes how regularly entities engage
type EngagementConsistency struct {
	HasData       bool         `json:"has_data"`
	AverageScore  float64      `json:"average_score"`
	Distribution  Distribution `json:"distribution"`
	TotalEntities int          `json:"total_entities"`
	WindowDays    int          `json:"window_days"`
	Trend         string       `json:"trend"`
}

func (EngagementConsistency) Kind() Kind { return KindEngagementConsistency }

// AtRiskEntity is an entity whose commitment score fell into the at-risk band
type AtRiskEntity struct {
	EntityID     string     `json:"entity_id"`
	Score        int        `json:"score"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	DaysInactive int        `json:"days_inactive"`
}

// CommitmentBands counts entities per commitment band
type CommitmentBands struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	AtRisk int `json:"at_risk"`
}

// CommitmentScore combines recency and frequency into a per-entity score
type CommitmentScore struct {
	HasData       bool            `json:"has_data"`
	AverageScore  float64         `json:"average_score"`
	Bands         CommitmentBands `json:"bands"`
	AtRisk        []AtRiskEntity  `json:"at_risk"`
	TotalEntities int             `json:"total_entities"`
}

func (CommitmentScore) Kind() Kind { return KindCommitmentScore }

// AhaMoment is content followed by a notable spike in engagement
type AhaMoment struct {
	ContentID    string  `json:"content_id"`
	SpikePct     float64 `json:"spike_pct"`
	StudentCount int     `json:"student_count"`
}

// AhaMoments lists breakthrough content and stagnant entities
type AhaMoments struct {
	HasData          bool        `json:"has_data"`
	Moments          []AhaMoment `json:"moments"`
	StagnantCount    int         `json:"stagnant_count"`
	StagnantEntities []string    `json:"stagnant_entities"`
}

func (AhaMoments) Kind() Kind { return KindAhaMoments }

// PathwayStep is a content-to-content transition
type PathwayStep struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Entities int    `json:"entities"`
}

// DeadEnd is content after which entities stopped engaging
type DeadEnd struct {
	ContentID string `json:"content_id"`
	Entities  int    `json:"entities"`
}

// PowerCombination is a pair of content items associated with above-average completion
type PowerCombination struct {
	ContentIDs []string `json:"content_ids"`
	Entities   int      `json:"entities"`
	Lift       float64  `json:"lift"`
}

// ContentPathways describes common routes through a tenant's content
type ContentPathways struct {
	HasData           bool               `json:"has_data"`
	TopSequences      []PathwayStep      `json:"top_sequences"`
	DeadEnds          []DeadEnd          `json:"dead_ends"`
	PowerCombinations []PowerCombination `json:"power_combinations"`
}

func (ContentPathways) Kind() Kind { return KindContentPathways }

// FeedbackTheme is one semantic insight reshaped for the dashboard
type FeedbackTheme struct {
	Title           string    `json:"title"`
	Sentiment       string    `json:"sentiment"`
	SharePct        int       `json:"share_pct"`
	Urgency         string    `json:"urgency"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
	ObservedAt      time.Time `json:"observed_at"`
}

// FeedbackThemes groups recent feedback into themes
type FeedbackThemes struct {
	HasData          bool            `json:"has_data"`
	Themes           []FeedbackTheme `json:"themes"`
	TotalSubmissions int             `json:"total_submissions"`
	CTAMessage       string          `json:"cta_message,omitempty"`
}

func (FeedbackThemes) Kind() Kind { return KindFeedbackThemes }

// Empty returns the documented no-data result for a kind.
// Slices are non-nil so the JSON shape is stable.
func Empty(kind Kind) Result {
	switch kind {
	case KindPopularContentDaily:
		return PopularContent{Items: []PopularContentItem{}}
	case KindEngagementConsistency:
		return EngagementConsistency{WindowDays: 14, Trend: "0%"}
	case KindCommitmentScore:
		return CommitmentScore{AtRisk: []AtRiskEntity{}}
	case KindAhaMoments:
		return AhaMoments{Moments: []AhaMoment{}, StagnantEntities: []string{}}
	case KindContentPathways:
		return ContentPathways{
			TopSequences:      []PathwayStep{},
			DeadEnds:          []DeadEnd{},
			PowerCombinations: []PowerCombination{},
		}
	case KindFeedbackThemes:
		return EmptyFeedbackThemes(0)
	default:
		return nil
	}
}

// EmptyFeedbackThemes is the below-threshold result carrying the observed count
func EmptyFeedbackThemes(totalSubmissions int) FeedbackThemes {
	return FeedbackThemes{
		Themes:           []FeedbackTheme{},
		TotalSubmissions: totalSubmissions,
		CTAMessage:       FeedbackThemesGuidance,
	}
}

// Decode restores a typed result from a cached payload
func Decode(kind Kind, raw []byte) (Result, error) {
	var (
		res Result
		err error
	)
	switch kind {
	case KindPopularContentDaily:
		var v PopularContent
		err = json.Unmarshal(raw, &v)
		res = v
	case KindEngagementConsistency:
		var v EngagementConsistency
		err = json.Unmarshal(raw, &v)
		res = v
	case KindCommitmentScore:
		var v CommitmentScore
		err = json.Unmarshal(raw, &v)
		res = v
	case KindAhaMoments:
		var v AhaMoments
		err = json.Unmarshal(raw, &v)
		res = v
	case KindContentPathways:
		var v ContentPathways
		err = json.Unmarshal(raw, &v)
		res = v
	case KindFeedbackThemes:
		var v FeedbackThemes
		err = json.Unmarshal(raw, &v)
		res = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return res, nil
}

// Encode serializes a result for storage
func Encode(res Result) (json.RawMessage, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", res.Kind(), err)
	}
	return data, nil
}
