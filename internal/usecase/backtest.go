package usecase

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// BacktestResult summarises a simulated run over closed trades.
type BacktestResult struct {
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	NetProfit    float64
	ProfitFactor float64
	MaxDrawdown  float64
	FinalCash    float64
}

// Backtester replays enriched bars through the same risk engine the live
// driver uses, synthesising an immediate fill for every intent at the
// intent's expected price.
type Backtester struct {
	cfg RiskConfig
	log *zap.Logger
}

func NewBacktester(cfg RiskConfig, log *zap.Logger) *Backtester {
	return &Backtester{cfg: cfg, log: log}
}

// Run drives the engine bar-by-bar with the given signal source and returns
// the summary plus the full trade journal. Any residual position is closed
// at the last bar with reason EOD.
func (bt *Backtester) Run(bars []EnrichedBar, signals func(i int, bar EnrichedBar) *domain.Signal) (*BacktestResult, []domain.TradeRecord, error) {
	engine, err := NewRiskEngine(bt.cfg, nil, bt.log)
	if err != nil {
		return nil, nil, fmt.Errorf("backtest: %w", err)
	}

	var journal []domain.TradeRecord
	engine.SetCloseHook(func(rec domain.TradeRecord) {
		journal = append(journal, rec)
	})

	fill := func(bar EnrichedBar, in Intent) {
		commission := float64(in.Quantity) * in.Price * bt.cfg.CommissionRate
		engine.OnFill(Fill{
			Kind:       in.Kind,
			Reason:     in.Reason,
			Quantity:   in.Quantity,
			Price:      in.Price,
			Commission: commission,
			Time:       bar.Time,
		})
	}

	for i, bar := range bars {
		var sig *domain.Signal
		if signals != nil {
			sig = signals(i, bar)
		}
		for _, in := range engine.Evaluate(bar, sig) {
			fill(bar, in)
		}
	}

	if len(bars) > 0 {
		last := bars[len(bars)-1]
		for _, in := range engine.ForceClose(last.Close) {
			fill(last, in)
		}
	}

	return summarise(journal, engine.Cash()), journal, nil
}

// summarise computes the closed-trade statistics over SELL records
// (full closes); partial closes contribute to P&L via their realized field.
func summarise(journal []domain.TradeRecord, finalCash float64) *BacktestResult {
	res := &BacktestResult{FinalCash: finalCash}

	var grossWin, grossLoss float64
	var equity, peak float64
	for _, rec := range journal {
		if rec.Side == "BUY" {
			continue
		}
		res.NetProfit += rec.RealizedPnL
		if rec.RealizedPnL > 0 {
			grossWin += rec.RealizedPnL
		} else {
			grossLoss += -rec.RealizedPnL
		}
		if rec.Side == "SELL" {
			res.TotalTrades++
			if rec.RealizedPnL > 0 {
				res.Wins++
			} else {
				res.Losses++
			}
		}
		equity += rec.RealizedPnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > res.MaxDrawdown {
			res.MaxDrawdown = dd
		}
	}

	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades) * 100.0
	}
	if grossLoss > 0 {
		res.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		res.ProfitFactor = math.Inf(1)
	}
	return res
}
