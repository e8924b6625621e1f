package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"

	"github.com/dyike/AurumGo/internal/retry"
)

var ErrLongportNotConfigured = errors.New("longport API credentials not configured")

type LongportConfig struct {
	AppKey      string
	AppSecret   string
	AccessToken string
}

// LongportClient reads a gold ETF quote as a cross-check of the spot price.
type LongportClient struct {
	quoteCtx *quote.QuoteContext
	caller   *retry.Caller
}

func NewLongportClient(cfg LongportConfig, caller *retry.Caller) (*LongportClient, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccessToken == "" {
		return nil, ErrLongportNotConfigured
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.AppKey, cfg.AppSecret, cfg.AccessToken))
	if err != nil {
		return nil, err
	}
	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		caller = retry.New(retry.DefaultPolicy())
	}
	return &LongportClient{quoteCtx: quoteContext, caller: caller}, nil
}

// CrossCheck returns the last two daily closes of symbol.
func (lpc *LongportClient) CrossCheck(ctx context.Context, symbol string) (*CrossCheck, error) {
	if lpc == nil || lpc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	var sticks []*quote.Candlestick
	_, err := retry.WithRetry(ctx, lpc.caller, "longport:"+symbol, func(ctx context.Context) error {
		var err error
		sticks, err = lpc.quoteCtx.Candlesticks(ctx, symbol, quote.PeriodDay, 2, quote.AdjustTypeNo)
		if err != nil {
			return err
		}
		if len(sticks) == 0 || sticks[len(sticks)-1].Close == nil {
			// asking again returns the same empty set
			return retry.Permanent(errors.New("empty response"))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("candlesticks %s: %w", symbol, err)
	}

	lastStick := sticks[len(sticks)-1]
	cc := &CrossCheck{
		Symbol: symbol,
		Last:   lastStick.Close.InexactFloat64(),
		AsOf:   time.Unix(lastStick.Timestamp, 0).UTC(),
	}
	if len(sticks) > 1 && sticks[0].Close != nil {
		cc.Prev = sticks[0].Close.InexactFloat64()
	}
	return cc, nil
}
