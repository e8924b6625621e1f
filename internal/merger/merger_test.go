package merger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/AurumGo/internal/llm"
	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/retry"
)

var fixedNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type fakeLLM struct {
	calls int
	reply string
	err   error
}

func (f *fakeLLM) Send(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.reply}, nil
}

func noSleepCaller(attempts int) *retry.Caller {
	p := retry.DefaultPolicy()
	p.MaxAttempts = attempts
	return retry.New(p, retry.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
}

func recordA() *models.AnalysisRecord {
	r := models.NewRecord("claude", fixedNow.Add(-time.Hour))
	r.SpotPrice = models.Float(3280)
	r.Changes.DailyPct = models.Float(-0.4)
	r.Technicals.Trend = models.TrendNeutral
	r.Technicals.Support = []float64{3250, 3200}
	r.News = []models.NewsItem{{Headline: "Gold steadies ahead of Fed", Source: "Reuters", Sentiment: "neutral", Relevance: 8}}
	r.Decision = models.Decision{Action: models.ActionHold, Confidence: models.Int(60), Reasoning: "ranging"}
	return r
}

func recordB() *models.AnalysisRecord {
	r := models.NewRecord("openai", fixedNow.Add(-30*time.Minute))
	r.SpotPrice = models.Float(3282)
	r.Changes.DailyPct = models.Float(-0.5)
	r.Changes.WeeklyPct = models.Float(1.1)
	r.Technicals.Trend = models.TrendNeutral
	r.Technicals.RSI = models.Float(51)
	r.Technicals.Support = []float64{3250, 3180}
	r.News = []models.NewsItem{
		{Headline: "Gold steadies ahead of Fed.", Source: "Bloomberg", Sentiment: "neutral", Relevance: 7},
		{Headline: "Dollar slips on jobs data", Source: "CNBC", Sentiment: "bullish", Relevance: 5},
	}
	r.Decision = models.Decision{Action: models.ActionBuy, Confidence: models.Int(70), Reasoning: "dip buying"}
	return r
}

func TestMergeNoData(t *testing.T) {
	m := New(nil, nil, WithClock(func() time.Time { return fixedNow }))
	out := m.Merge(context.Background(), nil, nil)

	require.NotNil(t, out)
	assert.Equal(t, models.SourceNoData, out.Source)
	assert.Equal(t, models.StatusSuccess, out.Status)
	assert.Nil(t, out.SpotPrice)
	assert.Empty(t, out.News)
	assert.NoError(t, out.Validate())
}

func TestMergeSingleSourceCopiesThrough(t *testing.T) {
	f := &fakeLLM{}
	m := New(f, noSleepCaller(3))
	a := recordA()

	out := m.Merge(context.Background(), a, nil)
	assert.Equal(t, "claude-only", out.Source)
	assert.Equal(t, []string{"claude"}, out.Sources)
	assert.Equal(t, *a.SpotPrice, *out.SpotPrice)
	assert.Equal(t, a.News, out.News)
	assert.Equal(t, a.Decision, out.Decision)
	assert.Equal(t, a.Timestamp, out.Timestamp)
	assert.Zero(t, f.calls)

	out = m.Merge(context.Background(), nil, recordB())
	assert.Equal(t, "openai-only", out.Source)

	// the input is not modified
	assert.Equal(t, "claude", a.Tool)
}

func TestFallbackPrefersA(t *testing.T) {
	out := Fallback(recordA(), recordB(), fixedNow)

	assert.Equal(t, models.SourceMergedFallback, out.Source)
	assert.Equal(t, 3280.0, *out.SpotPrice)
	assert.Equal(t, -0.4, *out.Changes.DailyPct)
	assert.Equal(t, 1.1, *out.Changes.WeeklyPct)
	assert.Nil(t, out.Changes.MonthlyPct)
	assert.Equal(t, 51.0, *out.Technicals.RSI)
	assert.Equal(t, models.TrendNeutral, out.Technicals.Trend)
	assert.Equal(t, []float64{3250, 3200, 3180}, out.Technicals.Support)
	assert.Equal(t, models.ActionHold, out.Decision.Action)
	assert.Nil(t, out.Decision.Confidence)
	assert.Nil(t, out.Consensus)

	require.Len(t, out.News, 2)
	assert.Equal(t, "Reuters", out.News[0].Source)
	assert.Equal(t, "CNBC", out.News[1].Source)
	assert.NoError(t, out.Validate())
}

func TestMergeFallsBackOnNetworkError(t *testing.T) {
	f := &fakeLLM{err: &llm.StatusError{Status: 503, Message: "overloaded"}}
	m := New(f, noSleepCaller(3), WithClock(func() time.Time { return fixedNow }))

	out := m.Merge(context.Background(), recordA(), recordB())
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, models.SourceMergedFallback, out.Source)
	assert.Equal(t, 3280.0, *out.SpotPrice)
	assert.NoError(t, out.Validate())
}

func TestMergeFallsBackOnInvalidJSON(t *testing.T) {
	for name, reply := range map[string]string{
		"prose":          "Sorry, I cannot merge these.",
		"schema":         `{"spot_price": 3281, "decision": {"action": "maybe", "confidence": 50}}`,
		"bad confidence": `{"spot_price": 3281, "decision": {"action": "hold", "confidence": 250}}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := &fakeLLM{reply: reply}
			m := New(f, noSleepCaller(3))

			out := m.Merge(context.Background(), recordA(), recordB())
			assert.Equal(t, 1, f.calls)
			assert.Equal(t, models.SourceMergedFallback, out.Source)
			assert.NoError(t, out.Validate())
		})
	}
}

func TestMergeAIPath(t *testing.T) {
	f := &fakeLLM{reply: "```json\n" + `{
		"spot_price": 3281,
		"changes": {"daily_pct": -0.45},
		"technicals": {"rsi": 51, "support": [3250], "resistance": [3300], "trend": "Neutral"},
		"news": [{"headline": "Gold steadies ahead of Fed", "source": "Reuters", "sentiment": "neutral", "relevance": 8}],
		"decision": {"action": "HOLD", "confidence": 55, "reasoning": "sources disagree"},
		"consensus": "conflicting"
	}` + "\n```"}
	m := New(f, noSleepCaller(3), WithClock(func() time.Time { return fixedNow }))

	out := m.Merge(context.Background(), recordA(), recordB())
	assert.Equal(t, models.SourceMerged, out.Source)
	assert.Equal(t, Tool, out.Tool)
	assert.Equal(t, []string{"claude", "openai"}, out.Sources)
	assert.Equal(t, 3281.0, *out.SpotPrice)
	assert.Equal(t, models.ActionHold, out.Decision.Action)
	assert.Equal(t, models.TrendNeutral, out.Technicals.Trend)
	require.NotNil(t, out.Consensus)
	assert.Equal(t, "conflicting", *out.Consensus)
	assert.Equal(t, fixedNow, out.Timestamp)
}

func TestMergeScenarioFallback(t *testing.T) {
	a := models.NewRecord("claude", fixedNow)
	a.SpotPrice = models.Float(3280)
	a.Changes.DailyPct = models.Float(-0.4)
	a.Technicals.Trend = "neutral"
	b := models.NewRecord("openai", fixedNow)
	b.SpotPrice = models.Float(3282)
	b.Changes.DailyPct = models.Float(-0.5)
	b.Technicals.Trend = "neutral"

	m := New(&fakeLLM{err: errors.New("connection refused")}, noSleepCaller(1))
	out := m.Merge(context.Background(), a, b)

	assert.Equal(t, 3280.0, *out.SpotPrice)
	assert.Equal(t, "neutral", out.Technicals.Trend)
	assert.Equal(t, -0.4, *out.Changes.DailyPct)
}
