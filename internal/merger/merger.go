// Package merger combines two analysis records from different sources into a
// single unified record.
package merger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyike/AurumGo/internal/llm"
	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/news"
	"github.com/dyike/AurumGo/internal/prompts"
	"github.com/dyike/AurumGo/internal/retry"
)

// Tool is the tool name unified records are saved under.
const Tool = "unified"

// Requester is the LLM call the merger depends on.
type Requester interface {
	Send(ctx context.Context, req llm.Request) (*llm.Response, error)
}

type Merger struct {
	llm    Requester
	caller *retry.Caller
	now    func() time.Time
	log    zerolog.Logger
}

type Option func(*Merger)

func WithClock(now func() time.Time) Option {
	return func(m *Merger) { m.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Merger) { m.log = l.With().Str("component", "merger").Logger() }
}

// New returns a merger. A nil requester disables the AI path so every merge
// of two records is deterministic.
func New(requester Requester, caller *retry.Caller, opts ...Option) *Merger {
	if caller == nil {
		caller = retry.New(retry.DefaultPolicy())
	}
	m := &Merger{
		llm:    requester,
		caller: caller,
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge never fails. Nil inputs are treated as absent.
func (m *Merger) Merge(ctx context.Context, a, b *models.AnalysisRecord) *models.AnalysisRecord {
	switch {
	case a == nil && b == nil:
		return Empty(m.now())
	case b == nil:
		return SingleSource(a)
	case a == nil:
		return SingleSource(b)
	}

	if m.llm != nil {
		merged, err := m.aiMerge(ctx, a, b)
		if err == nil {
			return merged
		}
		m.log.Warn().Err(err).Str("a", a.Tool).Str("b", b.Tool).Msg("ai merge failed, using deterministic merge")
	}
	return Fallback(a, b, m.now())
}

func (m *Merger) aiMerge(ctx context.Context, a, b *models.AnalysisRecord) (*models.AnalysisRecord, error) {
	rawA, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, err
	}
	rawB, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, err
	}
	system, err := prompts.Load(prompts.MergeSystem)
	if err != nil {
		return nil, err
	}
	prompt, err := prompts.Render(prompts.Merge, map[string]string{
		"SourceA": a.Tool,
		"SourceB": b.Tool,
		"TimeA":   a.Timestamp.Format(time.RFC3339),
		"TimeB":   b.Timestamp.Format(time.RFC3339),
		"RecordA": string(rawA),
		"RecordB": string(rawB),
	})
	if err != nil {
		return nil, err
	}

	res, err := retry.Do(ctx, m.caller, "llm:merge", func(ctx context.Context) (*llm.Response, error) {
		return m.llm.Send(ctx, llm.Request{System: system, Prompt: prompt})
	})
	if err != nil {
		return nil, err
	}

	var out models.AnalysisRecord
	if err := llm.DecodeJSON(res.Value.Text, &out, "spot_price", "decision"); err != nil {
		return nil, err
	}
	out.Timestamp = m.now().UTC()
	out.Tool = Tool
	out.Source = models.SourceMerged
	out.Sources = []string{a.Tool, b.Tool}
	out.Status = models.StatusSuccess
	out.Error = ""
	out.Normalize()
	out.News = news.Dedupe(out.News)
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("merged record: %w", err)
	}
	return &out, nil
}

// Empty is the valid record for "neither source had data".
func Empty(now time.Time) *models.AnalysisRecord {
	r := models.NewRecord(Tool, now)
	r.Source = models.SourceNoData
	r.Sources = []string{}
	return r
}

// SingleSource copies r through, tagged with its only origin.
func SingleSource(r *models.AnalysisRecord) *models.AnalysisRecord {
	out := r.Clone()
	out.Tool = Tool
	out.Source = r.Tool + "-only"
	out.Sources = []string{r.Tool}
	out.Normalize()
	return out
}

// Fallback merges field by field: scalars prefer a, then b, then null;
// collections are a's items followed by b's with duplicates removed.
// Confidence and consensus stay null.
func Fallback(a, b *models.AnalysisRecord, now time.Time) *models.AnalysisRecord {
	out := models.NewRecord(Tool, now)
	out.Source = models.SourceMergedFallback
	out.Sources = []string{a.Tool, b.Tool}

	out.SpotPrice = preferFloat(a.SpotPrice, b.SpotPrice)
	out.Changes = models.PriceChanges{
		DailyPct:   preferFloat(a.Changes.DailyPct, b.Changes.DailyPct),
		WeeklyPct:  preferFloat(a.Changes.WeeklyPct, b.Changes.WeeklyPct),
		MonthlyPct: preferFloat(a.Changes.MonthlyPct, b.Changes.MonthlyPct),
	}
	out.Technicals.RSI = preferFloat(a.Technicals.RSI, b.Technicals.RSI)
	out.Technicals.Trend = preferString(a.Technicals.Trend, b.Technicals.Trend)
	out.Technicals.Support = unionLevels(a.Technicals.Support, b.Technicals.Support)
	out.Technicals.Resistance = unionLevels(a.Technicals.Resistance, b.Technicals.Resistance)

	items := make([]models.NewsItem, 0, len(a.News)+len(b.News))
	items = append(items, a.News...)
	items = append(items, b.News...)
	out.News = news.Dedupe(items)

	out.Decision = models.Decision{
		Action:    preferString(a.Decision.Action, b.Decision.Action),
		Reasoning: preferString(a.Decision.Reasoning, b.Decision.Reasoning),
	}
	out.Normalize()
	return out
}

func preferFloat(a, b *float64) *float64 {
	switch {
	case a != nil:
		v := *a
		return &v
	case b != nil:
		v := *b
		return &v
	}
	return nil
}

func preferString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func unionLevels(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	seen := make(map[float64]struct{}, len(a)+len(b))
	for _, v := range append(append([]float64{}, a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
