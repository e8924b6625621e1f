package pipeline

import (
	"context"
	"fmt"

	"github.com/dyike/AurumGo/internal/models"
)

// runScraper builds a record from measured data only. The decision comes
// from RuleDecision.
func (r *Runner) runScraper(ctx context.Context) (*models.AnalysisRecord, error) {
	gathered, err := r.sources.Gather(ctx)
	if err != nil {
		return nil, err
	}
	for branch, berr := range gathered.Errors {
		r.log.Warn().Err(berr).Str("tool", ToolScraper).Str("branch", branch).Msg("source unavailable")
	}

	rec := models.NewRecord(ToolScraper, r.now())
	rec.Sources = gathered.Succeeded()
	overlay(rec, gathered)
	if rec.Technicals.Trend == "" {
		rec.Technicals.Trend = models.TrendNeutral
	}
	rec.News = r.scoreNews(nil, gathered)
	rec.Decision = RuleDecision(rec.News, rec.Changes.DailyPct)
	rec.Normalize()

	if rec.SpotPrice == nil && len(rec.News) == 0 {
		return nil, fmt.Errorf("%w: no price and no headlines", ErrAllSourcesFailed)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// RuleDecision buys when bullish headlines outnumber bearish ones and the
// daily change is positive, sells on the mirror condition and holds
// otherwise. Confidence is left unset.
func RuleDecision(items []models.NewsItem, dailyPct *float64) models.Decision {
	var bullish, bearish int
	for _, it := range items {
		switch it.Sentiment {
		case models.SentimentBullish:
			bullish++
		case models.SentimentBearish:
			bearish++
		}
	}

	change := "unknown"
	if dailyPct != nil {
		change = fmt.Sprintf("%+.2f%%", *dailyPct)
	}
	reasoning := fmt.Sprintf("%d bullish vs %d bearish headlines, daily change %s", bullish, bearish, change)

	action := models.ActionHold
	switch {
	case dailyPct == nil:
	case bullish > bearish && *dailyPct > 0:
		action = models.ActionBuy
	case bearish > bullish && *dailyPct < 0:
		action = models.ActionSell
	}
	return models.Decision{Action: action, Reasoning: reasoning}
}
