package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

func signalAt(entryBar int) func(int, EnrichedBar) *domain.Signal {
	return func(i int, _ EnrichedBar) *domain.Signal {
		if i == entryBar {
			return buySig()
		}
		return nil
	}
}

func TestBacktester_StopOutRoundTrip(t *testing.T) {
	bars := flatBars(40)
	// Collapse at bar 31 takes price through the initial stop (100 - 1.8*2).
	for i := 31; i < 40; i++ {
		bars[i].Open, bars[i].High, bars[i].Low, bars[i].Close = 96, 96, 96, 96
	}
	enriched := Enrich(bars, 14, 10, 3.0)

	bt := NewBacktester(riskCfg(), zap.NewNop())
	res, journal, err := bt.Run(enriched, signalAt(20))
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalTrades)
	assert.Equal(t, 0, res.Wins)
	assert.Equal(t, 1, res.Losses)
	assert.Zero(t, res.WinRate)
	assert.Zero(t, res.ProfitFactor)

	// 210 shares entered at 100, stopped at 96.4: -756 on the trade.
	assert.InDelta(t, -756, res.NetProfit, 1e-6)
	assert.InDelta(t, 756, res.MaxDrawdown, 1e-6)
	assert.InDelta(t, riskCfg().InitialCapital-756, res.FinalCash, 1e-6)

	require.Len(t, journal, 2)
	assert.Equal(t, "BUY", journal[0].Side)
	assert.Equal(t, "SELL", journal[1].Side)
	assert.Equal(t, "Stop/Trail", journal[1].Reason)
	assert.Equal(t, int64(210), journal[1].Quantity)
	assert.InDelta(t, 96.4, journal[1].Price, 1e-9)
}

func TestBacktester_ResidualPositionClosedAtEOD(t *testing.T) {
	enriched := Enrich(flatBars(40), 14, 10, 3.0)

	bt := NewBacktester(riskCfg(), zap.NewNop())
	res, journal, err := bt.Run(enriched, signalAt(35))
	require.NoError(t, err)

	require.Len(t, journal, 2)
	assert.Equal(t, "SELL", journal[1].Side)
	assert.Equal(t, "EOD", journal[1].Reason)
	assert.Equal(t, 1, res.TotalTrades)
	assert.InDelta(t, 0, res.NetProfit, 1e-6, "flat tape closes at entry price")
	assert.InDelta(t, riskCfg().InitialCapital, res.FinalCash, 1e-6)
}

func TestBacktester_CommissionsHitTheLedger(t *testing.T) {
	cfg := riskCfg()
	cfg.CommissionRate = 0.001
	enriched := Enrich(flatBars(40), 14, 10, 3.0)

	bt := NewBacktester(cfg, zap.NewNop())
	res, _, err := bt.Run(enriched, signalAt(35))
	require.NoError(t, err)

	// Entry and EOD exit both pay 0.1% on 210 x 100: trade P&L is the
	// exit-side commission, cash loses both legs.
	assert.InDelta(t, -21, res.NetProfit, 1e-6)
	assert.InDelta(t, cfg.InitialCapital-42, res.FinalCash, 1e-6)
	assert.Equal(t, 1, res.Losses)
}

func TestBacktester_InvalidConfigFails(t *testing.T) {
	cfg := riskCfg()
	cfg.Symbol = ""
	bt := NewBacktester(cfg, zap.NewNop())
	_, _, err := bt.Run(nil, nil)
	assert.Error(t, err)
}

func TestBacktester_ProfitFactorInfiniteWithoutLosses(t *testing.T) {
	bars := flatBars(40)
	// Rally at bar 25 lifts price well above TP1 and keeps it there; the
	// EOD close banks the rest.
	for i := 25; i < 40; i++ {
		bars[i].Open, bars[i].High, bars[i].Low, bars[i].Close = 110, 111, 109, 110
	}
	enriched := Enrich(bars, 14, 10, 3.0)

	bt := NewBacktester(riskCfg(), zap.NewNop())
	res, journal, err := bt.Run(enriched, signalAt(20))
	require.NoError(t, err)

	require.NotEmpty(t, journal)
	assert.True(t, res.ProfitFactor > 1e9 || res.NetProfit > 0)
	assert.Equal(t, 0, res.Losses)
}
