package broker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

func readySession(t *testing.T) (*SessionManager, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{answerID: 100}
	s := newTestSession(t, ft, SessionHooks{})
	t.Cleanup(s.Close)
	require.True(t, s.Connect())
	return s, ft
}

func marketBuy(qty int64) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:    "TSLA",
		Action:    domain.ActionBuy,
		Quantity:  qty,
		OrderType: domain.OrderMarket,
		Reason:    "Entry",
	}
}

func TestRegistry_SubmitRequiresReadySession(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, SessionHooks{})
	defer s.Close()

	r := NewOrderRegistry(s, s.log)
	_, err := r.Submit(marketBuy(10))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRegistry_SubmitAllocatesAndTransmits(t *testing.T) {
	s, ft := readySession(t)
	r := NewOrderRegistry(s, s.log)

	id, err := r.Submit(marketBuy(10))
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)

	o, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusSubmitted, o.Status)
	assert.Len(t, ft.placed, 1)

	// Ids are consecutive per session.
	id2, err := r.Submit(marketBuy(5))
	require.NoError(t, err)
	assert.Equal(t, int64(101), id2)
	assert.Len(t, r.Open(), 2)
}

func TestRegistry_TransmitFailureMarksRejected(t *testing.T) {
	s, ft := readySession(t)
	ft.placeErr = fmt.Errorf("socket write failed")
	r := NewOrderRegistry(s, s.log)

	id, err := r.Submit(marketBuy(10))
	require.Error(t, err)
	assert.Zero(t, id)

	// The registry entry exists and carries the rejection.
	o, ok := r.Get(100)
	require.True(t, ok)
	assert.Equal(t, domain.StatusRejected, o.Status)
	assert.Empty(t, r.Open())
}

func TestRegistry_FillNotifiedExactlyOnce(t *testing.T) {
	s, _ := readySession(t)
	r := NewOrderRegistry(s, s.log)

	var fills []domain.Order
	r.SetFillHandler(func(o domain.Order) { fills = append(fills, o) })

	id, err := r.Submit(marketBuy(10))
	require.NoError(t, err)

	r.OnStatusUpdate(id, domain.StatusFilled, 10, 210.05)
	r.OnStatusUpdate(id, domain.StatusFilled, 10, 210.05) // gateway replay

	require.Len(t, fills, 1)
	assert.Equal(t, id, fills[0].OrderID)
	assert.Equal(t, int64(10), fills[0].FilledQty)
	assert.Equal(t, 210.05, fills[0].AvgFillPrice)
}

func TestRegistry_RejectNotifiedExactlyOnce(t *testing.T) {
	s, _ := readySession(t)
	r := NewOrderRegistry(s, s.log)

	var rejected []domain.Order
	var fills int
	r.SetFillHandler(func(domain.Order) { fills++ })
	r.SetRejectHandler(func(o domain.Order) { rejected = append(rejected, o) })

	id, err := r.Submit(marketBuy(10))
	require.NoError(t, err)

	r.OnStatusUpdate(id, domain.StatusRejected, 0, 0)
	r.OnStatusUpdate(id, domain.StatusRejected, 0, 0) // gateway replay

	require.Len(t, rejected, 1)
	assert.Equal(t, id, rejected[0].OrderID)
	assert.Equal(t, domain.StatusRejected, rejected[0].Status)
	assert.Zero(t, fills)
}

func TestRegistry_CancelWithoutFillNotifiesReject(t *testing.T) {
	s, _ := readySession(t)
	r := NewOrderRegistry(s, s.log)

	var rejected, fills int
	r.SetFillHandler(func(domain.Order) { fills++ })
	r.SetRejectHandler(func(domain.Order) { rejected++ })

	id, err := r.Submit(marketBuy(10))
	require.NoError(t, err)

	r.OnStatusUpdate(id, domain.StatusCancelled, 0, 0)
	assert.Equal(t, 1, rejected)

	// A stray FILLED after the cancel must not notify either handler.
	r.OnStatusUpdate(id, domain.StatusFilled, 10, 210.05)
	assert.Equal(t, 1, rejected)
	assert.Zero(t, fills)
}

func TestRegistry_FilledOrderDoesNotNotifyReject(t *testing.T) {
	s, _ := readySession(t)
	r := NewOrderRegistry(s, s.log)

	var rejected int
	r.SetRejectHandler(func(domain.Order) { rejected++ })

	id, err := r.Submit(marketBuy(10))
	require.NoError(t, err)

	r.OnStatusUpdate(id, domain.StatusFilled, 10, 210.05)
	assert.Zero(t, rejected)
}

func TestRegistry_TerminalOrderIgnoresLaterStatus(t *testing.T) {
	s, _ := readySession(t)
	r := NewOrderRegistry(s, s.log)

	id, err := r.Submit(marketBuy(10))
	require.NoError(t, err)

	r.OnStatusUpdate(id, domain.StatusCancelled, 0, 0)
	r.OnStatusUpdate(id, domain.StatusFilled, 10, 210.05)

	o, _ := r.Get(id)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Zero(t, o.FilledQty)
}

func TestRegistry_UnknownOrderIDIgnored(t *testing.T) {
	s, _ := readySession(t)
	r := NewOrderRegistry(s, s.log)

	var fired bool
	r.SetFillHandler(func(domain.Order) { fired = true })

	// Events for orders from a prior session must not panic or notify.
	r.OnStatusUpdate(9999, domain.StatusFilled, 10, 210.05)
	r.OnExecDetails(9999, "exec-1", "TSLA", 10, 210.05)
	assert.False(t, fired)
}

func TestRegistry_CommissionAttributedViaExecution(t *testing.T) {
	s, _ := readySession(t)
	r := NewOrderRegistry(s, s.log)

	id, err := r.Submit(marketBuy(10))
	require.NoError(t, err)

	r.OnExecDetails(id, "exec-7", "TSLA", 10, 210.05)
	r.OnCommission("exec-7", 1.05)
	r.OnCommission("exec-7", 0.45) // second leg of the same execution
	r.OnCommission("exec-unknown", 9.99)

	o, _ := r.Get(id)
	assert.Equal(t, "exec-7", o.ExecID)
	assert.InDelta(t, 1.50, o.Commission, 1e-9)
}

func TestRegistry_SessionForwardsOrderEvents(t *testing.T) {
	s, _ := readySession(t)
	r := NewOrderRegistry(s, s.log)

	var fills []domain.Order
	r.SetFillHandler(func(o domain.Order) { fills = append(fills, o) })

	id, err := r.Submit(marketBuy(10))
	require.NoError(t, err)

	// Events arrive through the session callbacks, as the gateway delivers
	// them, not by poking the registry directly.
	s.ExecDetails(id, "exec-1", "TSLA", 10, 210.10)
	s.CommissionReport("exec-1", 0.75)
	s.OrderStatus(id, domain.StatusFilled, 10, 210.10)

	require.Len(t, fills, 1)
	assert.Equal(t, 0.75, fills[0].Commission)
}
