package dataflows

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/dyike/AurumGo/internal/models"
)

const (
	rsiPeriod     = 14
	weekBars      = 5
	monthBars     = 21
	swingWindow   = 2
	maxLevels     = 3
	trendBandPct  = 0.5
	levelLookback = 60
)

// PctChange returns (to-from)/from*100 rounded to two places, or nil when
// from is not positive.
func PctChange(from, to float64) *float64 {
	if from <= 0 {
		return nil
	}
	f := decimal.NewFromFloat(from)
	pct := decimal.NewFromFloat(to).Sub(f).Div(f).Mul(decimal.NewFromInt(100)).Round(2)
	v, _ := pct.Float64()
	return &v
}

// RSI is the latest RSI over closes, or nil with too little data.
func RSI(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	return last(talib.Rsi(closes, period))
}

// SMA is the latest simple moving average, or nil with too little data.
func SMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	return last(talib.Sma(closes, period))
}

func last(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	v = round2(v)
	return &v
}

// Trend compares the short and long moving averages. Within the band the
// market is sideways; without both averages it is neutral.
func Trend(sma20, sma50 *float64) string {
	if sma20 == nil || sma50 == nil || *sma50 == 0 {
		return models.TrendNeutral
	}
	diff := (*sma20 - *sma50) / *sma50 * 100
	switch {
	case diff > trendBandPct:
		return models.TrendBullish
	case diff < -trendBandPct:
		return models.TrendBearish
	}
	return models.TrendSideways
}

// Levels finds swing lows below spot (support, nearest first) and swing
// highs above spot (resistance, nearest first) in the recent bars.
func Levels(bars []Bar, spot float64) (support, resistance []float64) {
	if len(bars) > levelLookback {
		bars = bars[len(bars)-levelLookback:]
	}
	support, resistance = []float64{}, []float64{}
	for i := swingWindow; i < len(bars)-swingWindow; i++ {
		low, high := true, true
		for j := i - swingWindow; j <= i+swingWindow; j++ {
			if j == i {
				continue
			}
			if bars[j].Low <= bars[i].Low {
				low = false
			}
			if bars[j].High >= bars[i].High {
				high = false
			}
		}
		if low && bars[i].Low < spot {
			support = appendLevel(support, round2(bars[i].Low))
		}
		if high && bars[i].High > spot {
			resistance = appendLevel(resistance, round2(bars[i].High))
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(support)))
	sort.Float64s(resistance)
	if len(support) > maxLevels {
		support = support[:maxLevels]
	}
	if len(resistance) > maxLevels {
		resistance = resistance[:maxLevels]
	}
	return support, resistance
}

func appendLevel(levels []float64, v float64) []float64 {
	for _, l := range levels {
		if l == v {
			return levels
		}
	}
	return append(levels, v)
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Analyze derives the market view from daily bars and the current spot. A
// zero spot falls back to the last close.
func Analyze(symbol string, bars []Bar, spot float64) *MarketData {
	md := &MarketData{Symbol: symbol, Support: []float64{}, Resistance: []float64{}, Trend: models.TrendNeutral}
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 {
			closes = append(closes, b.Close)
		}
	}
	if spot <= 0 && len(closes) > 0 {
		spot = closes[len(closes)-1]
	}
	if spot > 0 {
		s := round2(spot)
		md.Spot = &s
	}
	if len(bars) > 0 {
		md.AsOf = bars[len(bars)-1].Time
	}
	n := len(closes)
	if n >= 2 {
		md.DailyPct = PctChange(closes[n-2], spot)
	}
	if n > weekBars {
		md.WeeklyPct = PctChange(closes[n-1-weekBars], spot)
	}
	if n > monthBars {
		md.MonthlyPct = PctChange(closes[n-1-monthBars], spot)
	}
	md.RSI = RSI(closes, rsiPeriod)
	md.SMA20 = SMA(closes, 20)
	md.SMA50 = SMA(closes, 50)
	md.Trend = Trend(md.SMA20, md.SMA50)
	if spot > 0 {
		md.Support, md.Resistance = Levels(bars, spot)
	}
	return md
}
