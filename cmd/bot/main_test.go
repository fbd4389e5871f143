package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
	"github.com/vitos/equity_trade_bot/internal/usecase"
)

type scriptedSubmitter struct {
	mu   sync.Mutex
	reqs []domain.OrderRequest
	next int64
}

func (s *scriptedSubmitter) Submit(req domain.OrderRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	s.next++
	return s.next, nil
}

func (s *scriptedSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *scriptedSubmitter) req(i int) domain.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[i]
}

func driverConfig() *Config {
	cfg := &Config{}
	cfg.Risk = usecase.DefaultRiskConfig("TSLA")
	cfg.Risk.InitialCapital = 21_000
	cfg.Risk.CommissionRate = 0
	cfg.Risk.SlippageTicks = 0
	cfg.Risk.CooldownBars = 0
	cfg.Risk.MaxDailyTrades = 10
	cfg.Risk.MaxWeeklyTrades = 10
	cfg.Indicators.ATRLen = 14
	cfg.Indicators.UTATRLen = 10
	cfg.Indicators.UTKey = 3.0
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// A broker-side rejection of an exit order must clear the engine's pending
// flag so the exit is re-emitted on the next bar instead of stranding the
// open position.
func TestRunDriver_BrokerRejectedExitRetriesNextBar(t *testing.T) {
	cfg := driverConfig()
	engine, err := usecase.NewRiskEngine(cfg.Risk, nil, zap.NewNop())
	require.NoError(t, err)

	sub := &scriptedSubmitter{}
	adapter := usecase.NewExecutionAdapter(sub, zap.NewNop())

	bars := make(chan domain.Bar, 64)
	fills := make(chan domain.Order, 8)
	rejects := make(chan domain.Order, 8)
	emergency := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runDriver(ctx, cfg, engine, adapter, bars, fills, rejects, emergency, zap.NewNop())

	ts := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	push := func(o, h, l, c float64) {
		bars <- domain.Bar{Time: ts, Open: o, High: h, Low: l, Close: c, Volume: 1000}
		ts = ts.Add(time.Minute)
	}

	// Warm up the indicators, then cross the UT stop to trigger the entry.
	for i := 0; i < 21; i++ {
		push(100, 101, 99, 100)
	}
	push(107, 108, 106, 107)
	waitFor(t, 2*time.Second, func() bool { return sub.count() == 1 }, "entry order submitted")
	entry := sub.req(0)
	assert.Equal(t, domain.ActionBuy, entry.Action)

	fills <- domain.Order{OrderID: 1, Status: domain.StatusFilled, FilledQty: entry.Quantity, AvgFillPrice: 107}
	waitFor(t, 2*time.Second, func() bool {
		_, open := engine.Position()
		return open
	}, "entry fill applied")

	// Drop through the stop: the driver submits the exit.
	push(98, 99, 97, 98)
	waitFor(t, 2*time.Second, func() bool { return sub.count() == 2 }, "exit order submitted")
	assert.Equal(t, domain.ActionSell, sub.req(1).Action)

	// The broker rejects the exit asynchronously; the next bar must re-emit
	// it rather than leave the position stranded.
	rejects <- domain.Order{OrderID: 2, Status: domain.StatusRejected}
	push(98, 99, 97, 98)
	waitFor(t, 2*time.Second, func() bool { return sub.count() == 3 }, "exit re-submitted after rejection")

	exit := sub.req(2)
	assert.Equal(t, domain.ActionSell, exit.Action)
	assert.Equal(t, entry.Quantity, exit.Quantity)

	pos, open := engine.Position()
	require.True(t, open, "position stays open until an exit actually fills")
	assert.Equal(t, entry.Quantity, pos.Quantity)
}

func openTestPosition(t *testing.T, engine *usecase.RiskEngine) int64 {
	t.Helper()
	ts := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	bar := usecase.EnrichedBar{
		Bar: domain.Bar{Time: ts, Open: 210, High: 210, Low: 210, Close: 210},
		ATR: 2,
	}
	intents := engine.Evaluate(bar, &domain.Signal{Kind: domain.SignalBuy})
	require.Len(t, intents, 1)
	engine.OnFill(usecase.Fill{
		Kind:     usecase.IntentEnter,
		Quantity: intents[0].Quantity,
		Price:    intents[0].Price,
		Time:     ts,
	})
	return intents[0].Quantity
}

func TestFlattenResidual_SubmitsEODExit(t *testing.T) {
	cfg := driverConfig()
	engine, err := usecase.NewRiskEngine(cfg.Risk, nil, zap.NewNop())
	require.NoError(t, err)
	qty := openTestPosition(t, engine)

	sub := &scriptedSubmitter{}
	adapter := usecase.NewExecutionAdapter(sub, zap.NewNop())

	flattenResidual(engine, adapter, "TSLA", 209, true, zap.NewNop())

	require.Equal(t, 1, sub.count())
	req := sub.req(0)
	assert.Equal(t, domain.ActionSell, req.Action)
	assert.Equal(t, "EOD", req.Reason)
	assert.Equal(t, qty, req.Quantity)
}

func TestFlattenResidual_NeedsLiveSessionAndPrice(t *testing.T) {
	cfg := driverConfig()
	engine, err := usecase.NewRiskEngine(cfg.Risk, nil, zap.NewNop())
	require.NoError(t, err)
	openTestPosition(t, engine)

	sub := &scriptedSubmitter{}
	adapter := usecase.NewExecutionAdapter(sub, zap.NewNop())

	flattenResidual(engine, adapter, "TSLA", 0, true, zap.NewNop())
	flattenResidual(engine, adapter, "TSLA", 209, false, zap.NewNop())
	assert.Zero(t, sub.count(), "no order can be sent without a price and a live session")

	// Once conditions allow, the close still goes out.
	flattenResidual(engine, adapter, "TSLA", 209, true, zap.NewNop())
	assert.Equal(t, 1, sub.count())
}

func TestFlattenResidual_NoOpWhenFlat(t *testing.T) {
	cfg := driverConfig()
	engine, err := usecase.NewRiskEngine(cfg.Risk, nil, zap.NewNop())
	require.NoError(t, err)

	sub := &scriptedSubmitter{}
	adapter := usecase.NewExecutionAdapter(sub, zap.NewNop())

	flattenResidual(engine, adapter, "TSLA", 209, true, zap.NewNop())
	assert.Zero(t, sub.count())
}
