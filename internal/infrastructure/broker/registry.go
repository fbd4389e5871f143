package broker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// OrderRegistry is the in-memory table of every order submitted this
// session, keyed by local order id. Status, execution and commission events
// from the gateway mutate entries in place; orders are never deleted, they
// only reach terminal states.
type OrderRegistry struct {
	session *SessionManager
	log     *zap.Logger

	mu          sync.Mutex
	orders      map[int64]*domain.Order
	execToOrder map[string]int64
	notified    map[int64]bool
	onFill      func(domain.Order)
	onReject    func(domain.Order)
}

func NewOrderRegistry(session *SessionManager, log *zap.Logger) *OrderRegistry {
	r := &OrderRegistry{
		session:     session,
		log:         log,
		orders:      make(map[int64]*domain.Order),
		execToOrder: make(map[string]int64),
		notified:    make(map[int64]bool),
	}
	session.SetOrderSink(r)
	return r
}

// SetFillHandler registers the callback invoked exactly once per order when
// it transitions to FILLED. The handler receives a copy and is called
// without the registry lock held.
func (r *OrderRegistry) SetFillHandler(fn func(domain.Order)) {
	r.mu.Lock()
	r.onFill = fn
	r.mu.Unlock()
}

// SetRejectHandler registers the callback invoked exactly once per order when
// the gateway reports it REJECTED or CANCELLED without a fill. The driver
// uses it to clear the engine's pending lifecycle flag so the intent can be
// re-emitted.
func (r *OrderRegistry) SetRejectHandler(fn func(domain.Order)) {
	r.mu.Lock()
	r.onReject = fn
	r.mu.Unlock()
}

// Submit allocates a local order id, records the order as PENDING, and then
// transmits it. The registry insert happens before transmission so a fill
// callback racing the submit cannot find the order missing.
func (r *OrderRegistry) Submit(req domain.OrderRequest) (int64, error) {
	id, ok := r.session.AllocOrderID()
	if !ok {
		return 0, ErrNotReady
	}

	r.mu.Lock()
	r.orders[id] = &domain.Order{
		OrderID:   id,
		Symbol:    req.Symbol,
		Action:    req.Action,
		Quantity:  req.Quantity,
		OrderType: req.OrderType,
		Price:     req.Price,
		Status:    domain.StatusPending,
		Reason:    req.Reason,
		CreatedAt: time.Now().UTC(),
	}
	r.mu.Unlock()

	spec := OrderSpec{
		Action:    req.Action,
		OrderType: req.OrderType,
		Quantity:  req.Quantity,
		Price:     req.Price,
	}
	if err := r.session.PlaceOrder(id, StockContract(req.Symbol), spec); err != nil {
		r.mu.Lock()
		r.orders[id].Status = domain.StatusRejected
		r.mu.Unlock()
		return 0, fmt.Errorf("place order %d: %w", id, err)
	}

	r.mu.Lock()
	if r.orders[id].Status == domain.StatusPending {
		r.orders[id].Status = domain.StatusSubmitted
	}
	r.mu.Unlock()
	return id, nil
}

// Get returns a copy of the order with the given id.
func (r *OrderRegistry) Get(orderID int64) (domain.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Open returns copies of all orders not yet in a terminal state.
func (r *OrderRegistry) Open() []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

// OnStatusUpdate applies a gateway status event. Unknown order ids are
// logged and ignored — the gateway may report orders from a prior session.
// A duplicate event for an order already terminal leaves it untouched and
// never re-fires the fill or reject handler.
func (r *OrderRegistry) OnStatusUpdate(orderID int64, status domain.OrderStatus, filled int64, avgFillPrice float64) {
	r.mu.Lock()
	o, ok := r.orders[orderID]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("status for unknown order id, ignoring",
			zap.Int64("orderId", orderID), zap.String("status", string(status)))
		return
	}
	if o.Status.Terminal() {
		r.mu.Unlock()
		r.log.Debug("duplicate status for terminal order, ignoring",
			zap.Int64("orderId", orderID), zap.String("status", string(status)))
		return
	}

	o.Status = status
	o.FilledQty = filled
	if avgFillPrice > 0 {
		o.AvgFillPrice = avgFillPrice
	}

	var notify func(domain.Order)
	var snapshot domain.Order
	if status.Terminal() && !r.notified[orderID] {
		r.notified[orderID] = true
		if status == domain.StatusFilled {
			notify = r.onFill
		} else {
			notify = r.onReject
		}
		snapshot = *o
	}
	r.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// OnExecDetails records the execution id so a later commission report can be
// attributed back to the order.
func (r *OrderRegistry) OnExecDetails(orderID int64, execID, symbol string, qty int64, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		r.log.Warn("execution for unknown order id, ignoring",
			zap.Int64("orderId", orderID), zap.String("execId", execID))
		return
	}
	r.execToOrder[execID] = orderID
	o.ExecID = execID
	r.log.Debug("execution",
		zap.Int64("orderId", orderID), zap.String("execId", execID),
		zap.String("symbol", symbol), zap.Int64("qty", qty), zap.Float64("price", price))
}

// OnCommission adds a commission report to the owning order. Reports for
// unknown executions are dropped.
func (r *OrderRegistry) OnCommission(execID string, commission float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orderID, ok := r.execToOrder[execID]
	if !ok {
		r.log.Debug("commission for unknown execution, ignoring",
			zap.String("execId", execID))
		return
	}
	if o, ok := r.orders[orderID]; ok {
		o.Commission += commission
	}
}
