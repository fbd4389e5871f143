package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Bar is one OHLCV candle from the market data collaborator.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

type SignalKind string

const (
	SignalBuy         SignalKind = "BUY"
	SignalSell        SignalKind = "SELL"
	SignalPartialSell SignalKind = "PARTIAL_SELL"
	SignalNone        SignalKind = "NONE"
)

// Signal is the strategy collaborator's trading intent for one bar.
type Signal struct {
	Kind     SignalKind
	Quantity int64
	Price    float64
	Reason   string
	Time     time.Time
}

type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

type OrderType string

const (
	OrderMarket OrderType = "MKT"
	OrderLimit  OrderType = "LMT"
	OrderStop   OrderType = "STP"
)

type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// OrderRequest is what the execution adapter hands to the order registry.
type OrderRequest struct {
	Symbol    string
	Action    OrderAction
	Quantity  int64
	OrderType OrderType
	// Limit price for LMT, trigger price for STP. Ignored for MKT.
	Price  float64
	Reason string
}

// Order is a registry entry tracking one submitted order through its life.
type Order struct {
	OrderID      int64
	Symbol       string
	Action       OrderAction
	Quantity     int64
	OrderType    OrderType
	Price        float64
	Status       OrderStatus
	FilledQty    int64
	AvgFillPrice float64
	Commission   float64
	ExecID       string
	Reason       string
	CreatedAt    time.Time
}

// Position is the single open position managed by the risk engine.
type Position struct {
	Symbol        string
	Side          Side
	Quantity      int64
	EntryPrice    float64
	EntryTime     time.Time
	EntryBar      int
	TP1Price      float64
	TP1Done       bool
	BETrigger     float64
	StopPrice     float64
	HighWaterMark float64
}

// TradeRecord is emitted to the journal on every full or partial close,
// and on entries.
type TradeRecord struct {
	ID            int64
	TimeUTC       time.Time
	SessionID     string
	Symbol        string
	Side          string
	Quantity      int64
	Price         float64
	OrderID       int64
	ExecID        string
	Reason        string
	RealizedPnL   float64
	PositionAfter int64
}

// AccountSummary is a broker-reported account metric (tag/value pair).
type AccountSummary struct {
	Tag      string
	Value    string
	Currency string
}

// BrokerPosition is a broker-reported holding, forwarded to the portfolio
// view. Distinct from Position, which is the engine's own lifecycle state.
type BrokerPosition struct {
	Symbol   string
	Quantity float64
	AvgCost  float64
}
