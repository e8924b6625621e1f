package display

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/storage/sqlite"
)

func TestRenderRecord(t *testing.T) {
	rec := models.NewRecord("claude", time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC))
	rec.SpotPrice = models.Float(3280.45)
	rec.Changes.DailyPct = models.Float(-0.4)
	rec.Technicals.Support = []float64{3250, 3200}
	rec.Technicals.Trend = models.TrendNeutral
	rec.News = []models.NewsItem{{Headline: "Gold steadies ahead of Fed", Source: "Reuters", Sentiment: "neutral", Relevance: 8}}
	rec.Decision = models.Decision{Action: models.ActionHold, Confidence: models.Int(60), Reasoning: "range bound between support and resistance"}

	out := RenderRecord(rec)
	for _, want := range []string{"CLAUDE", "$3280.45", "-0.40%", "3250.00 / 3200.00", "neutral", "HOLD", "60%", "Gold steadies ahead of Fed", "range bound"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "N/A")
}

func TestRenderFailedRecord(t *testing.T) {
	rec := models.FailedRecord("openai", time.Now(), errors.New("llm:openai: gave up after 3 attempt(s)"))
	out := RenderRecord(rec)
	assert.Contains(t, out, "RUN FAILED")
	assert.Contains(t, out, "gave up after 3 attempt(s)")
	assert.NotContains(t, out, "Spot")
}

func TestRenderRuns(t *testing.T) {
	assert.Contains(t, RenderRuns(nil), "no runs")

	out := RenderRuns([]sqlite.Run{
		{Tool: "claude", Status: "success", Action: "buy", SpotPrice: models.Float(3280), Source: "claude", CreatedAt: time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)},
		{Tool: "openai", Status: "failed", Source: "openai", CreatedAt: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)},
	})
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[1], "$3280.00")
	assert.Contains(t, lines[2], "N/A")
}

func TestWrap(t *testing.T) {
	assert.Equal(t, "aaa bbb\nccc", wrap("aaa bbb ccc", 7))
	assert.Equal(t, "", wrap("  ", 10))
}
