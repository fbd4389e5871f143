package usecase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

type stubSubmitter struct {
	reqs   []domain.OrderRequest
	nextID int64
	err    error
}

func (s *stubSubmitter) Submit(req domain.OrderRequest) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.reqs = append(s.reqs, req)
	s.nextID++
	return s.nextID, nil
}

func TestExecutionAdapter_SignalMapping(t *testing.T) {
	sub := &stubSubmitter{}
	a := NewExecutionAdapter(sub, zap.NewNop())

	cases := []struct {
		kind   domain.SignalKind
		action domain.OrderAction
	}{
		{domain.SignalBuy, domain.ActionBuy},
		{domain.SignalSell, domain.ActionSell},
		{domain.SignalPartialSell, domain.ActionSell},
	}
	for _, tc := range cases {
		id, ok := a.ExecuteSignal(domain.Signal{Kind: tc.kind, Quantity: 10}, "TSLA")
		require.True(t, ok, "kind %s", tc.kind)
		assert.Positive(t, id)
	}

	require.Len(t, sub.reqs, 3)
	for i, tc := range cases {
		assert.Equal(t, tc.action, sub.reqs[i].Action)
		assert.Equal(t, domain.OrderMarket, sub.reqs[i].OrderType)
		assert.Equal(t, "TSLA", sub.reqs[i].Symbol)
	}
}

func TestExecutionAdapter_NoneYieldsNoOrder(t *testing.T) {
	sub := &stubSubmitter{}
	a := NewExecutionAdapter(sub, zap.NewNop())

	_, ok := a.ExecuteSignal(domain.Signal{Kind: domain.SignalNone}, "TSLA")
	assert.False(t, ok)
	assert.Empty(t, sub.reqs)
}

func TestExecutionAdapter_SubmitErrorReportsFalse(t *testing.T) {
	sub := &stubSubmitter{err: fmt.Errorf("session not ready")}
	a := NewExecutionAdapter(sub, zap.NewNop())

	_, ok := a.ExecuteSignal(domain.Signal{Kind: domain.SignalBuy, Quantity: 10}, "TSLA")
	assert.False(t, ok)
}

func TestExecutionAdapter_IntentMapping(t *testing.T) {
	sub := &stubSubmitter{}
	a := NewExecutionAdapter(sub, zap.NewNop())

	cases := []struct {
		kind   IntentKind
		action domain.OrderAction
	}{
		{IntentEnter, domain.ActionBuy},
		{IntentPartialExit, domain.ActionSell},
		{IntentExit, domain.ActionSell},
	}
	for _, tc := range cases {
		_, ok := a.ExecuteIntent(Intent{Kind: tc.kind, Quantity: 5, Reason: "TP1"}, "TSLA")
		require.True(t, ok)
	}
	require.Len(t, sub.reqs, 3)
	for i, tc := range cases {
		assert.Equal(t, tc.action, sub.reqs[i].Action)
		assert.Equal(t, int64(5), sub.reqs[i].Quantity)
	}

	_, ok := a.ExecuteIntent(Intent{Kind: IntentKind("???")}, "TSLA")
	assert.False(t, ok)
}
