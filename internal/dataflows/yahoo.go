package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/rs/zerolog"

	"github.com/dyike/AurumGo/internal/retry"
)

const historyDays = 90

// QuoteFunc returns the current price of symbol.
type QuoteFunc func(symbol string) (float64, error)

// ChartFunc returns daily bars of symbol in [start, end].
type ChartFunc func(symbol string, start, end time.Time) ([]Bar, error)

// YahooFinanceClient reads quotes and daily history through finance-go.
type YahooFinanceClient struct {
	quote  QuoteFunc
	chart  ChartFunc
	cache  *CacheManager
	caller *retry.Caller
	now    func() time.Time
	log    zerolog.Logger
}

func NewYahooFinanceClient(cache *CacheManager, caller *retry.Caller, log zerolog.Logger) *YahooFinanceClient {
	return &YahooFinanceClient{
		quote:  yahooQuote,
		chart:  yahooChart,
		cache:  cache,
		caller: caller,
		now:    time.Now,
		log:    log.With().Str("component", "yahoo").Logger(),
	}
}

func yahooQuote(symbol string) (float64, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return 0, fmt.Errorf("get quote for %s: %w", symbol, err)
	}
	if q == nil {
		return 0, fmt.Errorf("get quote for %s: empty response", symbol)
	}
	return q.RegularMarketPrice, nil
}

func yahooChart(symbol string, start, end time.Time) ([]Bar, error) {
	params := &chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}
	iter := chart.Get(params)

	var bars []Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, Bar{
			Time:  time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:  b.Open.InexactFloat64(),
			High:  b.High.InexactFloat64(),
			Low:   b.Low.InexactFloat64(),
			Close: b.Close.InexactFloat64(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("get history for %s: %w", symbol, err)
	}
	return bars, nil
}

var ErrNoMarketData = errors.New("yahoo: no price data")

// Market returns the analysed market state for symbol. The history is
// required; a failed live quote falls back to the last close.
func (y *YahooFinanceClient) Market(ctx context.Context, symbol string) (*MarketData, error) {
	key := map[string]string{"symbol": symbol, "hour": y.now().UTC().Format("2006-01-02T15")}
	md, hit, err := Cached(y.cache, "yahoo", "market", key, func() (*MarketData, error) {
		return y.fetch(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	y.log.Debug().Str("symbol", symbol).Bool("cache_hit", hit).Msg("market data")
	return md, nil
}

func (y *YahooFinanceClient) fetch(ctx context.Context, symbol string) (*MarketData, error) {
	end := y.now()
	start := end.AddDate(0, 0, -historyDays)

	res, err := retry.Do(ctx, y.caller, "yahoo:chart", func(ctx context.Context) ([]Bar, error) {
		return y.chart(symbol, start, end)
	})
	if err != nil {
		return nil, err
	}
	bars := res.Value
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoMarketData)
	}

	spot, err := y.quote(symbol)
	if err != nil || spot <= 0 {
		y.log.Warn().Err(err).Str("symbol", symbol).Msg("live quote unavailable, using last close")
		spot = 0
	}
	return Analyze(symbol, bars, spot), nil
}
