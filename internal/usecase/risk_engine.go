package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// RiskConfig holds every knob of the position lifecycle. Validate rejects
// out-of-range values at startup; the engine never re-checks them mid-run.
type RiskConfig struct {
	Symbol         string  `yaml:"symbol"`
	InitialCapital float64 `yaml:"initial_capital"`
	CommissionRate float64 `yaml:"commission_rate"`
	TickSize       float64 `yaml:"tick_size"`
	SlippageTicks  int     `yaml:"slippage_ticks"`

	TP1ATR        float64 `yaml:"tp1_atr"`
	TP1QtyPct     int     `yaml:"tp1_qty_pct"`
	StopATR       float64 `yaml:"stop_atr"`
	BETrigATR     float64 `yaml:"be_trig_atr"`
	BEOffsetTicks int     `yaml:"be_offset_ticks"`
	TrailATR      float64 `yaml:"trail_atr"`
	UseUTTrail    bool    `yaml:"use_ut_trail"`

	MaxBarsInTrade  int     `yaml:"max_bars_in_trade"`
	CooldownBars    int     `yaml:"cooldown_bars"`
	PauseDD         bool    `yaml:"pause_dd"`
	DDLimitPct      float64 `yaml:"dd_limit_pct"`
	MaxDailyTrades  int     `yaml:"max_daily_trades"`
	MaxWeeklyTrades int     `yaml:"max_weekly_trades"`
	LongOnly        bool    `yaml:"long_only"`
}

// DefaultRiskConfig mirrors the production parameter set.
func DefaultRiskConfig(symbol string) RiskConfig {
	return RiskConfig{
		Symbol:          symbol,
		InitialCapital:  50_000,
		CommissionRate:  0.001,
		TickSize:        0.01,
		SlippageTicks:   1,
		TP1ATR:          0.9,
		TP1QtyPct:       75,
		StopATR:         1.8,
		BETrigATR:       0.8,
		BEOffsetTicks:   1,
		TrailATR:        2.4,
		MaxBarsInTrade:  720,
		CooldownBars:    5,
		PauseDD:         true,
		DDLimitPct:      15.0,
		MaxDailyTrades:  2,
		MaxWeeklyTrades: 3,
		LongOnly:        true,
	}
}

func (c *RiskConfig) Validate() error {
	switch {
	case c.Symbol == "":
		return fmt.Errorf("risk config: symbol is required")
	case c.InitialCapital <= 0:
		return fmt.Errorf("risk config: initial_capital must be positive")
	case c.CommissionRate < 0:
		return fmt.Errorf("risk config: commission_rate must not be negative")
	case c.TickSize <= 0:
		return fmt.Errorf("risk config: tick_size must be positive")
	case c.SlippageTicks < 0:
		return fmt.Errorf("risk config: slippage_ticks must not be negative")
	case c.TP1ATR <= 0 || c.StopATR <= 0 || c.BETrigATR <= 0 || c.TrailATR <= 0:
		return fmt.Errorf("risk config: ATR multiples must be positive")
	case c.TP1QtyPct <= 0 || c.TP1QtyPct >= 100:
		return fmt.Errorf("risk config: tp1_qty_pct must be between 1 and 99")
	case c.BEOffsetTicks < 0:
		return fmt.Errorf("risk config: be_offset_ticks must not be negative")
	case c.MaxBarsInTrade <= 0:
		return fmt.Errorf("risk config: max_bars_in_trade must be positive")
	case c.CooldownBars < 0:
		return fmt.Errorf("risk config: cooldown_bars must not be negative")
	case c.PauseDD && c.DDLimitPct <= 0:
		return fmt.Errorf("risk config: dd_limit_pct must be positive when pause_dd is set")
	case c.MaxDailyTrades <= 0 || c.MaxWeeklyTrades <= 0:
		return fmt.Errorf("risk config: entry caps must be positive")
	case !c.LongOnly:
		return fmt.Errorf("risk config: long_only must be enabled, short entries are not supported")
	}
	return nil
}

func (c *RiskConfig) slippage() float64 {
	return c.TickSize * float64(c.SlippageTicks)
}

type IntentKind string

const (
	IntentEnter       IntentKind = "ENTER"
	IntentPartialExit IntentKind = "PARTIAL_EXIT"
	IntentExit        IntentKind = "EXIT"
)

// Intent is an order the engine wants executed. Price is the expected fill
// including slippage; the live path may fill elsewhere and reports the
// actual price back through OnFill.
type Intent struct {
	Kind     IntentKind
	Side     domain.Side
	Quantity int64
	Price    float64
	Reason   string
}

// Fill reports an executed intent back to the engine.
type Fill struct {
	Kind       IntentKind
	Reason     string
	Quantity   int64
	Price      float64
	Commission float64
	OrderID    int64
	ExecID     string
	Time       time.Time
}

// LedgerSnapshot is the portfolio-governance state, reset on calendar
// day/week boundaries and mutated only on closes.
type LedgerSnapshot struct {
	DailyTradeCount       int
	WeeklyTradeCount      int
	ClosedNetPnL          float64
	PeakClosedNetPnL      float64
	CooldownBarsRemaining int
}

// RiskEngine runs the lifecycle of at most one open position: entry sizing,
// TP1 partial close, breakeven arming, trailing stop, time stop, and the
// trade/day/week/drawdown governance around entries. The same engine is
// driven bar-by-bar by the live driver and by the historical simulator; the
// two differ only in where fills come from.
//
// Only one goroutine may call Evaluate/OnFill (the driver); the internal
// mutex exists so the status server can snapshot state concurrently.
type RiskEngine struct {
	cfg       RiskConfig
	log       *zap.Logger
	journal   domain.TradeRepository
	sessionID string
	onClose   func(domain.TradeRecord)

	mu       sync.Mutex
	cash     float64
	pos      *domain.Position
	barIndex int

	dayKey    string
	dayCount  int
	weekKey   string
	weekCount int
	closedNet float64
	peakNet   float64
	cooldown  int

	pendingEntry   bool
	pendingPartial bool
	pendingExit    bool
	entryATR       float64
}

// NewRiskEngine validates cfg and builds an engine. journal may be nil (the
// simulator collects records through the close hook instead).
func NewRiskEngine(cfg RiskConfig, journal domain.TradeRepository, log *zap.Logger) (*RiskEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RiskEngine{
		cfg:       cfg,
		log:       log,
		journal:   journal,
		sessionID: time.Now().UTC().Format("20060102T150405Z"),
		cash:      cfg.InitialCapital,
	}, nil
}

// SetCloseHook registers a callback invoked on every entry, partial close
// and close, after the journal write.
func (e *RiskEngine) SetCloseHook(fn func(domain.TradeRecord)) {
	e.mu.Lock()
	e.onClose = fn
	e.mu.Unlock()
}

// Evaluate advances the engine by one bar and returns the intents to
// execute. Rule order is fixed: cooldown tick, TP1, breakeven arming,
// trailing-stop ratchet, stop hit, time stop, then the entry gate. A rule
// whose inputs cannot be computed (zero ATR, zero quantity) is inactive for
// this bar rather than an error.
func (e *RiskEngine) Evaluate(bar EnrichedBar, sig *domain.Signal) []Intent {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.barIndex++
	e.rollCalendar(bar.Time)
	if e.cooldown > 0 {
		e.cooldown--
	}

	price := bar.Close
	atr := bar.ATR
	slip := e.cfg.slippage()
	var intents []Intent

	if e.pos != nil {
		p := e.pos
		var partialQty int64

		// Take-profit 1: close a fixed share of the position once price
		// reaches the target fixed at entry.
		if !p.TP1Done && !e.pendingPartial && !e.pendingExit &&
			p.TP1Price > 0 && price >= p.TP1Price && p.Quantity > 0 {
			qty := int64(math.Floor(float64(p.Quantity) * float64(e.cfg.TP1QtyPct) / 100.0))
			if qty > 0 && qty < p.Quantity {
				partialQty = qty
				e.pendingPartial = true
				intents = append(intents, Intent{
					Kind:     IntentPartialExit,
					Side:     domain.SideLong,
					Quantity: qty,
					Price:    price - slip,
					Reason:   "TP1",
				})
			}
		}

		// Breakeven arming runs every bar regardless of TP1 state.
		if p.BETrigger > 0 && price >= p.BETrigger {
			p.StopPrice = math.Max(p.StopPrice, p.EntryPrice+float64(e.cfg.BEOffsetTicks)*e.cfg.TickSize)
		}

		// Trailing stop ratchet; the stop never moves down.
		if p.Quantity > 0 {
			p.HighWaterMark = math.Max(p.HighWaterMark, price)
			if e.cfg.UseUTTrail {
				if bar.UTStop > 0 {
					p.StopPrice = math.Max(p.StopPrice, bar.UTStop)
				}
			} else if atr > 0 {
				p.StopPrice = math.Max(p.StopPrice, p.HighWaterMark-e.cfg.TrailATR*atr)
			}

			if !e.pendingExit && p.StopPrice > 0 && price <= p.StopPrice {
				e.pendingExit = true
				intents = append(intents, Intent{
					Kind:     IntentExit,
					Side:     domain.SideLong,
					Quantity: p.Quantity - partialQty,
					Price:    p.StopPrice - slip,
					Reason:   "Stop/Trail",
				})
			}
		}

		// Time stop fires even when price sits between TP and stop.
		if !e.pendingExit && e.barIndex-p.EntryBar >= e.cfg.MaxBarsInTrade {
			e.pendingExit = true
			intents = append(intents, Intent{
				Kind:     IntentExit,
				Side:     domain.SideLong,
				Quantity: p.Quantity - partialQty,
				Price:    price - slip,
				Reason:   "TimeStop",
			})
		}
		return intents
	}

	// Entry gate. Long only; the short side would mirror this block with
	// side-aware arithmetic.
	if sig == nil || sig.Kind != domain.SignalBuy || e.pendingEntry {
		return intents
	}
	if atr <= 0 || !e.canEnterLocked() || !e.capsOKLocked() {
		return intents
	}

	fillPrice := price + slip
	qty := int64(math.Floor(e.cash / fillPrice))
	if qty <= 0 {
		return intents
	}

	reason := sig.Reason
	if reason == "" {
		reason = "Entry"
	}
	e.pendingEntry = true
	e.entryATR = atr
	intents = append(intents, Intent{
		Kind:     IntentEnter,
		Side:     domain.SideLong,
		Quantity: qty,
		Price:    fillPrice,
		Reason:   reason,
	})
	return intents
}

// OnFill applies an executed intent: creates the position on entry, reduces
// it and ratchets the stop on TP1, clears it and settles the ledger on full
// close. Fills arrive from the order registry in live mode and synthetically
// from the simulator.
func (e *RiskEngine) OnFill(f Fill) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch f.Kind {
	case IntentEnter:
		e.pendingEntry = false
		if e.pos != nil || f.Quantity <= 0 {
			return
		}
		cost := float64(f.Quantity) * f.Price
		e.cash -= cost + f.Commission

		atr := e.entryATR
		p := &domain.Position{
			Symbol:        e.cfg.Symbol,
			Side:          domain.SideLong,
			Quantity:      f.Quantity,
			EntryPrice:    f.Price,
			EntryTime:     f.Time,
			EntryBar:      e.barIndex,
			HighWaterMark: f.Price,
		}
		if atr > 0 {
			p.TP1Price = f.Price + e.cfg.TP1ATR*atr
			p.BETrigger = f.Price + e.cfg.BETrigATR*atr
			p.StopPrice = f.Price - e.cfg.StopATR*atr
		}
		e.pos = p
		e.dayCount++
		e.weekCount++
		e.emitLocked(f, "BUY", 0, p.Quantity)

	case IntentPartialExit:
		e.pendingPartial = false
		p := e.pos
		if p == nil || f.Quantity <= 0 || f.Quantity >= p.Quantity {
			return
		}
		realized := (f.Price-p.EntryPrice)*float64(f.Quantity) - f.Commission
		e.cash += float64(f.Quantity)*f.Price - f.Commission
		p.Quantity -= f.Quantity
		p.TP1Done = true
		p.StopPrice = math.Max(p.StopPrice, p.EntryPrice+float64(e.cfg.BEOffsetTicks)*e.cfg.TickSize)
		e.settleLocked(realized)
		e.emitLocked(f, "PARTIAL_SELL", realized, p.Quantity)

	case IntentExit:
		e.pendingExit = false
		p := e.pos
		if p == nil {
			return
		}
		qty := f.Quantity
		if qty <= 0 || qty > p.Quantity {
			qty = p.Quantity
		}
		realized := (f.Price-p.EntryPrice)*float64(qty) - f.Commission
		e.cash += float64(qty)*f.Price - f.Commission
		e.settleLocked(realized)
		e.emitLocked(f, "SELL", realized, 0)
		e.pos = nil
	}
}

// OnOrderRejected clears the matching pending flag. A rejected entry means
// the entry did not occur; a rejected exit is retried on the next bar.
func (e *RiskEngine) OnOrderRejected(kind IntentKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch kind {
	case IntentEnter:
		e.pendingEntry = false
	case IntentPartialExit:
		e.pendingPartial = false
	case IntentExit:
		e.pendingExit = false
	}
}

// ForceClose emits an exit intent for any residual position, used at end of
// data or session end.
func (e *RiskEngine) ForceClose(price float64) []Intent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos == nil || e.pendingExit {
		return nil
	}
	e.pendingExit = true
	return []Intent{{
		Kind:     IntentExit,
		Side:     domain.SideLong,
		Quantity: e.pos.Quantity,
		Price:    price - e.cfg.slippage(),
		Reason:   "EOD",
	}}
}

func (e *RiskEngine) settleLocked(realized float64) {
	e.closedNet += realized
	if e.closedNet > e.peakNet {
		e.peakNet = e.closedNet
	}
	if realized < 0 {
		e.cooldown = e.cfg.CooldownBars
	}
}

func (e *RiskEngine) emitLocked(f Fill, side string, realized float64, posAfter int64) {
	rec := domain.TradeRecord{
		TimeUTC:       f.Time.UTC(),
		SessionID:     e.sessionID,
		Symbol:        e.cfg.Symbol,
		Side:          side,
		Quantity:      f.Quantity,
		Price:         f.Price,
		OrderID:       f.OrderID,
		ExecID:        f.ExecID,
		Reason:        f.Reason,
		RealizedPnL:   realized,
		PositionAfter: posAfter,
	}
	if e.journal != nil {
		if err := e.journal.SaveTrade(context.Background(), &rec); err != nil {
			e.log.Error("journal write failed", zap.Error(err))
		}
	}
	if e.onClose != nil {
		e.onClose(rec)
	}
	e.log.Info("trade",
		zap.String("side", side),
		zap.Int64("qty", f.Quantity),
		zap.Float64("price", f.Price),
		zap.String("reason", f.Reason),
		zap.Float64("realized", realized),
		zap.Int64("positionAfter", posAfter))
}

// canEnterLocked applies cooldown and the closed-trade drawdown pause.
func (e *RiskEngine) canEnterLocked() bool {
	if e.cooldown > 0 {
		return false
	}
	if e.cfg.PauseDD && e.peakNet > 0 {
		ddPct := (e.peakNet - e.closedNet) / math.Abs(e.peakNet) * 100.0
		if ddPct > e.cfg.DDLimitPct {
			return false
		}
	}
	return true
}

func (e *RiskEngine) capsOKLocked() bool {
	return e.dayCount < e.cfg.MaxDailyTrades && e.weekCount < e.cfg.MaxWeeklyTrades
}

// DDBreached reports whether the closed-trade drawdown limit is exceeded —
// the one condition allowed to stop the live driver deliberately.
func (e *RiskEngine) DDBreached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.PauseDD || e.peakNet <= 0 {
		return false
	}
	return (e.peakNet-e.closedNet)/math.Abs(e.peakNet)*100.0 > e.cfg.DDLimitPct
}

func (e *RiskEngine) rollCalendar(ts time.Time) {
	day := ts.Format("2006-01-02")
	if day != e.dayKey {
		e.dayKey = day
		e.dayCount = 0
	}
	y, w := ts.ISOWeek()
	week := fmt.Sprintf("%d-W%02d", y, w)
	if week != e.weekKey {
		e.weekKey = week
		e.weekCount = 0
	}
}

// Position returns a copy of the open position, if any.
func (e *RiskEngine) Position() (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos == nil {
		return domain.Position{}, false
	}
	return *e.pos, true
}

func (e *RiskEngine) Cash() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash
}

func (e *RiskEngine) Ledger() LedgerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return LedgerSnapshot{
		DailyTradeCount:       e.dayCount,
		WeeklyTradeCount:      e.weekCount,
		ClosedNetPnL:          e.closedNet,
		PeakClosedNetPnL:      e.peakNet,
		CooldownBarsRemaining: e.cooldown,
	}
}
