package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"

	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"

	TrendBullish  = "bullish"
	TrendBearish  = "bearish"
	TrendNeutral  = "neutral"
	TrendSideways = "sideways"

	SourceNoData         = "no data"
	SourceMerged         = "merged"
	SourceMergedFallback = "merged-fallback"
)

var validate = validator.New()

// AnalysisRecord is one gold-market analysis snapshot. Records are written
// once; a new run always produces a new record.
type AnalysisRecord struct {
	Timestamp  time.Time    `json:"timestamp"`
	Tool       string       `json:"tool"`
	Source     string       `json:"source"`
	Sources    []string     `json:"sources,omitempty"`
	Status     string       `json:"status" validate:"oneof=success failed"`
	Error      string       `json:"error,omitempty"`
	SpotPrice  *float64     `json:"spot_price" validate:"omitempty,gt=0"`
	Changes    PriceChanges `json:"changes"`
	Technicals Technicals   `json:"technicals"`
	News       []NewsItem   `json:"news" validate:"dive"`
	Decision   Decision     `json:"decision"`
	// Consensus describes how strongly two merged sources agreed. Only an
	// AI-assisted merge fills it.
	Consensus *string `json:"consensus"`
}

type PriceChanges struct {
	DailyPct   *float64 `json:"daily_pct"`
	WeeklyPct  *float64 `json:"weekly_pct"`
	MonthlyPct *float64 `json:"monthly_pct"`
}

type Technicals struct {
	RSI        *float64  `json:"rsi" validate:"omitempty,gte=0,lte=100"`
	Support    []float64 `json:"support"`
	Resistance []float64 `json:"resistance"`
	Trend      string    `json:"trend" validate:"omitempty,oneof=bullish bearish neutral sideways"`
}

type Decision struct {
	Action     string `json:"action" validate:"omitempty,oneof=buy sell hold"`
	Confidence *int   `json:"confidence" validate:"omitempty,gte=0,lte=100"`
	Reasoning  string `json:"reasoning"`
}

type NewsItem struct {
	Headline    string     `json:"headline" validate:"required"`
	Source      string     `json:"source"`
	Sentiment   string     `json:"sentiment" validate:"omitempty,oneof=bullish bearish neutral"`
	Relevance   int        `json:"relevance" validate:"gte=0,lte=10"`
	URL         string     `json:"url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// NewRecord returns an empty successful record for tool.
func NewRecord(tool string, ts time.Time) *AnalysisRecord {
	return &AnalysisRecord{
		Timestamp: ts.UTC(),
		Tool:      tool,
		Source:    tool,
		Status:    StatusSuccess,
		News:      []NewsItem{},
		Technicals: Technicals{
			Support:    []float64{},
			Resistance: []float64{},
		},
	}
}

// FailedRecord is written when a run cannot produce an analysis so that
// consumers can tell "no new data" apart from a missing file.
func FailedRecord(tool string, ts time.Time, err error) *AnalysisRecord {
	r := NewRecord(tool, ts)
	r.Status = StatusFailed
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Normalize lowercases enumerations and replaces nil slices so the JSON shape
// is stable regardless of which path produced the record.
func (r *AnalysisRecord) Normalize() {
	r.Decision.Action = strings.ToLower(strings.TrimSpace(r.Decision.Action))
	r.Technicals.Trend = strings.ToLower(strings.TrimSpace(r.Technicals.Trend))
	if r.Status == "" {
		r.Status = StatusSuccess
	}
	if r.News == nil {
		r.News = []NewsItem{}
	}
	if r.Technicals.Support == nil {
		r.Technicals.Support = []float64{}
	}
	if r.Technicals.Resistance == nil {
		r.Technicals.Resistance = []float64{}
	}
	for i := range r.News {
		r.News[i].Sentiment = strings.ToLower(strings.TrimSpace(r.News[i].Sentiment))
		r.News[i].Headline = strings.TrimSpace(r.News[i].Headline)
	}
}

func (r *AnalysisRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid analysis record: %w", err)
	}
	return nil
}

// Clone returns a deep copy.
func (r *AnalysisRecord) Clone() *AnalysisRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Sources = append([]string(nil), r.Sources...)
	c.SpotPrice = cloneFloat(r.SpotPrice)
	c.Changes = PriceChanges{
		DailyPct:   cloneFloat(r.Changes.DailyPct),
		WeeklyPct:  cloneFloat(r.Changes.WeeklyPct),
		MonthlyPct: cloneFloat(r.Changes.MonthlyPct),
	}
	c.Technicals.RSI = cloneFloat(r.Technicals.RSI)
	c.Technicals.Support = append([]float64{}, r.Technicals.Support...)
	c.Technicals.Resistance = append([]float64{}, r.Technicals.Resistance...)
	c.News = make([]NewsItem, len(r.News))
	for i, n := range r.News {
		c.News[i] = n
		if n.PublishedAt != nil {
			t := *n.PublishedAt
			c.News[i].PublishedAt = &t
		}
	}
	if r.Decision.Confidence != nil {
		v := *r.Decision.Confidence
		c.Decision.Confidence = &v
	}
	if r.Consensus != nil {
		v := *r.Consensus
		c.Consensus = &v
	}
	return &c
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

func String(v string) *string { return &v }

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
