// Package broker owns the execution-gateway session: the transport link,
// the connection state machine with backoff reconnect, and the in-memory
// order registry fed by gateway callbacks.
package broker

import (
	"context"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// ContractSpec identifies the instrument an order is for.
type ContractSpec struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"secType"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// StockContract builds the spec for a US equity routed via SMART.
func StockContract(symbol string) ContractSpec {
	return ContractSpec{Symbol: symbol, SecType: "STK", Exchange: "SMART", Currency: "USD"}
}

// OrderSpec is the wire-level order description.
type OrderSpec struct {
	Action    domain.OrderAction `json:"action"`
	OrderType domain.OrderType   `json:"orderType"`
	Quantity  int64              `json:"quantity"`
	// Limit price for LMT, trigger price for STP.
	Price float64 `json:"price,omitempty"`
}

// Transport is the capability the session manager drives. Implementations
// must make Disconnect idempotent and invoke the registered Callbacks from a
// single reader goroutine.
type Transport interface {
	Connect(ctx context.Context, host string, port int, clientID int) error
	Disconnect()
	PlaceOrder(orderID int64, contract ContractSpec, order OrderSpec) error
	CancelOrder(orderID int64) error
	ReqNextOrderID() error
	ReqPositions() error
	ReqAccountSummary(tags string) error
	SubscribeBars(symbol string) error
	SetCallbacks(cb Callbacks)
}

// Callbacks is the sink the transport's reader invokes. The session manager
// implements it and fans events out to the registry and portfolio view.
type Callbacks interface {
	ConnectAck()
	ConnectionClosed()
	Error(reqID int64, code int, msg string)
	NextValidID(orderID int64)
	OrderStatus(orderID int64, status domain.OrderStatus, filled int64, avgFillPrice float64)
	ExecDetails(orderID int64, execID string, symbol string, qty int64, price float64)
	CommissionReport(execID string, commission float64)
	Position(pos domain.BrokerPosition)
	AccountSummary(sum domain.AccountSummary)
	MarketBar(symbol string, bar domain.Bar)
}

// Gateway error codes that mean the link is gone and a reconnect is needed.
// Informational codes outside this set are logged only.
var connectivityLostCodes = map[int]bool{
	504:  true, // not connected
	1100: true, // connectivity between gateway and broker lost
	1300: true, // socket dropped
	2110: true, // connectivity broken, will be restored automatically
}
