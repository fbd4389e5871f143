package usecase

import (
	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// OrderSubmitter is the slice of the order registry the adapter needs.
type OrderSubmitter interface {
	Submit(req domain.OrderRequest) (int64, error)
}

// ExecutionAdapter translates abstract signals and engine intents into
// market orders against the order registry.
type ExecutionAdapter struct {
	orders OrderSubmitter
	log    *zap.Logger
}

func NewExecutionAdapter(orders OrderSubmitter, log *zap.Logger) *ExecutionAdapter {
	return &ExecutionAdapter{orders: orders, log: log}
}

// ExecuteSignal maps BUY to a buy order and SELL/PARTIAL_SELL to a sell
// order. Any other kind yields no order. Returns false (and no id) when the
// session is not ready or submission fails.
func (a *ExecutionAdapter) ExecuteSignal(sig domain.Signal, symbol string) (int64, bool) {
	var action domain.OrderAction
	switch sig.Kind {
	case domain.SignalBuy:
		action = domain.ActionBuy
	case domain.SignalSell, domain.SignalPartialSell:
		action = domain.ActionSell
	default:
		return 0, false
	}

	id, err := a.orders.Submit(domain.OrderRequest{
		Symbol:    symbol,
		Action:    action,
		Quantity:  sig.Quantity,
		OrderType: domain.OrderMarket,
		Reason:    sig.Reason,
	})
	if err != nil {
		a.log.Warn("signal not executed",
			zap.String("kind", string(sig.Kind)), zap.Error(err))
		return 0, false
	}
	return id, true
}

// ExecuteIntent submits a market order for a risk-engine intent.
func (a *ExecutionAdapter) ExecuteIntent(intent Intent, symbol string) (int64, bool) {
	sig := domain.Signal{Quantity: intent.Quantity, Reason: intent.Reason}
	switch intent.Kind {
	case IntentEnter:
		sig.Kind = domain.SignalBuy
	case IntentPartialExit:
		sig.Kind = domain.SignalPartialSell
	case IntentExit:
		sig.Kind = domain.SignalSell
	default:
		return 0, false
	}
	return a.ExecuteSignal(sig, symbol)
}
