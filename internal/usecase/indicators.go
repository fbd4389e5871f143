// Package usecase holds the trading lifecycle: indicator enrichment, the
// position/risk engine, the execution adapter, and the historical simulator.
package usecase

import (
	"math"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// EnrichedBar is a market bar plus the volatility values the risk engine
// consumes. Bars inside the indicator warm-up window carry ATR=0 and are
// treated by the engine as "rules inactive".
type EnrichedBar struct {
	domain.Bar
	ATR    float64
	UTStop float64
	UTPos  int // +1 above the UT trailing stop, -1 below, 0 warm-up
}

// trueRange of bar i given the previous close.
func trueRange(b domain.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if prevClose > 0 {
		tr = math.Max(tr, math.Abs(b.High-prevClose))
		tr = math.Max(tr, math.Abs(b.Low-prevClose))
	}
	return tr
}

// wilderATR computes ATR over the bar series using Wilder's smoothing
// (RMA with alpha = 1/length). The first length-1 entries are zero.
func wilderATR(bars []domain.Bar, length int) []float64 {
	out := make([]float64, len(bars))
	if length <= 0 || len(bars) == 0 {
		return out
	}
	alpha := 1.0 / float64(length)
	var rma float64
	var sum float64
	for i, b := range bars {
		prevClose := 0.0
		if i > 0 {
			prevClose = bars[i-1].Close
		}
		tr := trueRange(b, prevClose)
		if i < length {
			sum += tr
			if i == length-1 {
				rma = sum / float64(length)
				out[i] = rma
			}
			continue
		}
		rma = rma + alpha*(tr-rma)
		out[i] = rma
	}
	return out
}

// Enrich computes ATR and the UT-Bot trailing stop over a bar series. The
// UT stop ratchets with price: above the stop it rises with close - k*ATR,
// below it falls with close + k*ATR, flipping when price crosses it.
func Enrich(bars []domain.Bar, atrLen, utATRLen int, utKey float64) []EnrichedBar {
	out := make([]EnrichedBar, len(bars))
	atr := wilderATR(bars, atrLen)
	utATR := wilderATR(bars, utATRLen)

	utStop := math.NaN()
	pos := 0
	for i, b := range bars {
		out[i].Bar = b
		out[i].ATR = atr[i]

		loss := utKey * utATR[i]
		if utATR[i] <= 0 {
			out[i].UTStop = 0
			continue
		}

		prev := utStop
		src := b.Close
		var srcPrev float64
		if i > 0 {
			srcPrev = bars[i-1].Close
		}

		switch {
		case math.IsNaN(prev):
			utStop = src + loss
		case src > prev && srcPrev > prev:
			utStop = math.Max(prev, src-loss)
		case src < prev && srcPrev < prev:
			utStop = math.Min(prev, src+loss)
		case src > prev:
			utStop = src - loss
		default:
			utStop = src + loss
		}
		out[i].UTStop = utStop

		if i > 0 && out[i-1].UTStop > 0 {
			prevClose := bars[i-1].Close
			switch {
			case prevClose < out[i-1].UTStop && src > utStop:
				pos = 1
			case prevClose > out[i-1].UTStop && src < utStop:
				pos = -1
			}
		}
		out[i].UTPos = pos
	}
	return out
}
