package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/AurumGo/internal/models"
)

func TestScoreSentiment(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Gold prices RISE and rally despite a drop in equities", models.SentimentBullish},
		{"Gold rises early then falls", models.SentimentNeutral},
		{"Bullion slips as dollar firms, losses deepen", models.SentimentBearish},
		{"Central banks meet on Thursday", models.SentimentNeutral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Score(tc.text).Sentiment, tc.text)
	}
}

func TestScoreMatchesScorerAndApply(t *testing.T) {
	text := "Gold rallies to record high as Fed signals rate cuts"
	var want Result = NewScorer().Score(text)
	assert.Equal(t, want, Score(text))
	assert.Equal(t, models.SentimentBullish, want.Sentiment)

	items := Apply([]models.NewsItem{{Headline: text, Sentiment: models.SentimentBearish}})
	require.Len(t, items, 1)
	assert.Equal(t, want.Sentiment, items[0].Sentiment)
	assert.Equal(t, want.Relevance, items[0].Relevance)
}

func TestScoreRelevanceMonotonicAndCapped(t *testing.T) {
	texts := []string{
		"weather report",
		"gold",
		"gold and the fed",
		"gold, the fed and inflation",
		"gold, the fed, inflation and the dollar",
		"gold, the fed, inflation, the dollar and war",
		"gold, the fed, inflation, the dollar, war and the market",
		"gold bullion, comex, the fed, inflation, the dollar, war and the market",
	}
	prev := -1
	for _, text := range texts {
		r := Score(text).Relevance
		assert.GreaterOrEqual(t, r, prev, text)
		assert.LessOrEqual(t, r, MaxRelevance, text)
		prev = r
	}
	assert.Equal(t, 0, Score("weather report").Relevance)
	assert.Equal(t, MaxRelevance, Score(texts[len(texts)-1]).Relevance)
}

func TestSortRelevanceThenRecency(t *testing.T) {
	older := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	newer := older.Add(2 * time.Hour)

	items := []models.NewsItem{
		{Headline: "undated", Relevance: 5},
		{Headline: "old", Relevance: 5, PublishedAt: &older},
		{Headline: "top", Relevance: 9},
		{Headline: "new", Relevance: 5, PublishedAt: &newer},
		{Headline: "low", Relevance: 1, PublishedAt: &newer},
	}
	Sort(items)

	var got []string
	for _, it := range items {
		got = append(got, it.Headline)
	}
	assert.Equal(t, []string{"top", "new", "old", "undated", "low"}, got)
}

func TestParseTime(t *testing.T) {
	ts := ParseTime("Mon, 02 Jun 2025 14:30:00 GMT")
	require.NotNil(t, ts)
	assert.Equal(t, 14, ts.Hour())

	assert.NotNil(t, ParseTime("2025-06-02T14:30:00Z"))
	assert.Nil(t, ParseTime("yesterday-ish"))
	assert.Nil(t, ParseTime(""))
}

func TestSameHeadline(t *testing.T) {
	assert.True(t, SameHeadline("Gold hits record high!", "gold hits  record high"))
	assert.True(t, SameHeadline(
		"Gold prices hit record high as Fed signals cuts",
		"Gold prices hit record high as Fed signals rate cuts",
	))
	assert.False(t, SameHeadline("Gold falls", "Silver rises"))
	assert.False(t, SameHeadline("", ""))
}

func TestDedupeKeepsFirst(t *testing.T) {
	items := []models.NewsItem{
		{Headline: "Gold steadies ahead of Fed", Source: "a"},
		{Headline: "Gold steadies ahead of Fed.", Source: "b"},
		{Headline: "Dollar weakens", Source: "c"},
	}
	out := Dedupe(items)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Source)
	assert.Equal(t, "c", out[1].Source)
}

func TestApplyScoresHeadlines(t *testing.T) {
	items := Apply([]models.NewsItem{{Headline: "Gold surges to record high"}})
	assert.Equal(t, models.SentimentBullish, items[0].Sentiment)
	assert.Equal(t, 4, items[0].Relevance)
}
