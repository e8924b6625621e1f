package dataflows

import (
	"time"

	"github.com/dyike/AurumGo/internal/models"
)

// MarketData is the measured market state for the analysed instrument.
type MarketData struct {
	Symbol     string    `json:"symbol"`
	Spot       *float64  `json:"spot"`
	DailyPct   *float64  `json:"daily_pct"`
	WeeklyPct  *float64  `json:"weekly_pct"`
	MonthlyPct *float64  `json:"monthly_pct"`
	RSI        *float64  `json:"rsi"`
	SMA20      *float64  `json:"sma20"`
	SMA50      *float64  `json:"sma50"`
	Support    []float64 `json:"support"`
	Resistance []float64 `json:"resistance"`
	Trend      string    `json:"trend"`
	AsOf       time.Time `json:"as_of"`
}

// Bar is one daily OHLC bar.
type Bar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// PageQuote is what the gold quote page yielded.
type PageQuote struct {
	URL         string            `json:"url"`
	Price       *float64          `json:"price"`
	Change      *float64          `json:"change"`
	ChangePct   *float64          `json:"change_pct"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Timestamp   string            `json:"timestamp"`
	Headlines   []models.NewsItem `json:"headlines"`
}

// CrossCheck is a secondary price, e.g. a gold ETF quote.
type CrossCheck struct {
	Symbol string    `json:"symbol"`
	Last   float64   `json:"last"`
	Prev   float64   `json:"prev"`
	AsOf   time.Time `json:"as_of"`
}
