package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAwaitingHandshake
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingHandshake:
		return "AWAITING_HANDSHAKE"
	case StateReady:
		return "READY"
	default:
		return "DISCONNECTED"
	}
}

var ErrNotReady = errors.New("session not ready")

type SessionConfig struct {
	Host             string
	Port             int
	ClientID         int
	Symbol           string
	HandshakeTimeout time.Duration
	ReconnectFloor   time.Duration
	ReconnectCeiling time.Duration
}

func (c *SessionConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.ReconnectFloor <= 0 {
		c.ReconnectFloor = time.Second
	}
	if c.ReconnectCeiling <= 0 {
		c.ReconnectCeiling = 60 * time.Second
	}
}

// orderSink receives order lifecycle events forwarded from the gateway.
// Implemented by OrderRegistry.
type orderSink interface {
	OnStatusUpdate(orderID int64, status domain.OrderStatus, filled int64, avgFillPrice float64)
	OnExecDetails(orderID int64, execID, symbol string, qty int64, price float64)
	OnCommission(execID string, commission float64)
}

// SessionHooks are optional observers wired by the caller (metrics, market
// data fan-out, portfolio view). Hooks are invoked without the session lock
// held, so they may call back into the session; OnStateChange can fire from
// a connect or reconnect goroutine as well as the transport reader. Hooks
// must not block.
type SessionHooks struct {
	OnStateChange        func(SessionState)
	OnReconnectScheduled func(delay time.Duration)
	OnBar                func(symbol string, bar domain.Bar)
	OnPosition           func(pos domain.BrokerPosition)
	OnAccountSummary     func(sum domain.AccountSummary)
}

// SessionManager owns the gateway connection lifecycle:
//
//	Disconnected --Connect--> Connecting --socket ok--> AwaitingHandshake
//	  --nextValidId--> Ready
//
// Any closed/connectivity-lost event from a live state drops back to
// Disconnected and arms a backoff reconnect. Connect while an attempt is in
// flight (or while Ready) is a no-op returning false.
type SessionManager struct {
	cfg       SessionConfig
	transport Transport
	log       *zap.Logger
	hooks     SessionHooks

	backoff *Backoff
	retry   RetryTimer

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       SessionState
	connecting  bool
	nextOrderID int64
	handshake   chan struct{}

	orders orderSink
}

var _ Callbacks = (*SessionManager)(nil)

func NewSessionManager(cfg SessionConfig, transport Transport, hooks SessionHooks, log *zap.Logger) *SessionManager {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &SessionManager{
		cfg:       cfg,
		transport: transport,
		log:       log,
		hooks:     hooks,
		backoff:   NewBackoff(cfg.ReconnectFloor, cfg.ReconnectCeiling),
		ctx:       ctx,
		cancel:    cancel,
	}
	transport.SetCallbacks(s)
	return s
}

// SetOrderSink registers the order registry that consumes status, execution
// and commission events.
func (s *SessionManager) SetOrderSink(sink orderSink) {
	s.mu.Lock()
	s.orders = sink
	s.mu.Unlock()
}

func (s *SessionManager) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SessionManager) Ready() bool { return s.State() == StateReady }

// setStateLocked updates the state and reports whether it changed. The
// caller notifies the state hook after releasing the lock.
func (s *SessionManager) setStateLocked(st SessionState) bool {
	if s.state == st {
		return false
	}
	s.state = st
	return true
}

func (s *SessionManager) notifyState(st SessionState) {
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(st)
	}
}

// transition moves to st and fires the state hook if anything changed.
func (s *SessionManager) transition(st SessionState) {
	s.mu.Lock()
	changed := s.setStateLocked(st)
	s.mu.Unlock()
	if changed {
		s.notifyState(st)
	}
}

// Connect establishes the gateway session and blocks until the order-id
// handshake arrives or the attempt fails. Returns false without doing
// anything if an attempt is already in flight or the session is live —
// overlapping attempts must never spawn two reader loops.
func (s *SessionManager) Connect() bool {
	s.mu.Lock()
	if s.connecting || s.state != StateDisconnected {
		s.mu.Unlock()
		return false
	}
	s.connecting = true
	s.setStateLocked(StateConnecting)
	hs := make(chan struct{})
	s.handshake = hs
	s.mu.Unlock()
	s.notifyState(StateConnecting)

	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	s.log.Info("connecting to gateway",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.Int("clientId", s.cfg.ClientID))

	if err := s.transport.Connect(s.ctx, s.cfg.Host, s.cfg.Port, s.cfg.ClientID); err != nil {
		s.log.Error("gateway connect failed", zap.Error(err))
		s.failAttempt()
		return false
	}

	s.transition(StateAwaitingHandshake)

	if err := s.transport.ReqNextOrderID(); err != nil {
		s.log.Error("order-id handshake request failed", zap.Error(err))
		s.transport.Disconnect()
		s.failAttempt()
		return false
	}

	select {
	case <-hs:
	case <-time.After(s.cfg.HandshakeTimeout):
		s.log.Warn("order-id handshake timed out",
			zap.Duration("timeout", s.cfg.HandshakeTimeout))
		s.transport.Disconnect()
		s.failAttempt()
		return false
	case <-s.ctx.Done():
		s.transport.Disconnect()
		s.failAttempt()
		return false
	}

	s.mu.Lock()
	s.setStateLocked(StateReady)
	oid := s.nextOrderID
	s.mu.Unlock()
	s.notifyState(StateReady)
	s.backoff.Reset()

	s.log.Info("session ready", zap.Int64("nextOrderId", oid))

	if s.cfg.Symbol != "" {
		if err := s.transport.SubscribeBars(s.cfg.Symbol); err != nil {
			s.log.Warn("bar subscription failed", zap.Error(err))
		}
	}
	return true
}

// Start performs the initial connect and, on failure, arms the backoff
// reconnect cycle so the session keeps trying in the background.
func (s *SessionManager) Start() {
	if s.Connect() {
		return
	}
	s.backoff.Advance()
	s.scheduleReconnect()
}

func (s *SessionManager) failAttempt() {
	s.mu.Lock()
	changed := s.setStateLocked(StateDisconnected)
	s.handshake = nil
	s.mu.Unlock()
	if changed {
		s.notifyState(StateDisconnected)
	}
}

// Close stops the session for good: cancels any pending reconnect and
// disconnects the transport. Idempotent.
func (s *SessionManager) Close() {
	s.retry.CancelPending()
	s.cancel()
	s.transport.Disconnect()
	s.transition(StateDisconnected)
	s.log.Info("session closed")
}

// AllocOrderID hands out the next local order id. Returns false unless the
// session is Ready.
func (s *SessionManager) AllocOrderID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return 0, false
	}
	id := s.nextOrderID
	s.nextOrderID++
	return id, true
}

// PlaceOrder transmits an order over the gateway.
func (s *SessionManager) PlaceOrder(orderID int64, contract ContractSpec, order OrderSpec) error {
	if !s.Ready() {
		return ErrNotReady
	}
	return s.transport.PlaceOrder(orderID, contract, order)
}

// CancelOrder requests cancellation of an open order.
func (s *SessionManager) CancelOrder(orderID int64) error {
	if !s.Ready() {
		return ErrNotReady
	}
	return s.transport.CancelOrder(orderID)
}

// ---------- reconnect ----------

// scheduleReconnect arms the retry timer with the current backoff delay.
// A no-op if a reconnect is already pending.
func (s *SessionManager) scheduleReconnect() {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	d := s.backoff.Delay()
	if s.retry.ScheduleOnce(d, s.reconnect) {
		s.log.Info("reconnect scheduled", zap.Duration("delay", d))
		if s.hooks.OnReconnectScheduled != nil {
			s.hooks.OnReconnectScheduled(d)
		}
	}
}

func (s *SessionManager) reconnect() {
	s.mu.Lock()
	inFlight := s.connecting
	s.mu.Unlock()

	// A prior connect attempt has not resolved yet: defer, do not cancel.
	if inFlight {
		s.scheduleReconnect()
		return
	}

	s.transport.Disconnect()
	s.transition(StateDisconnected)

	if s.Connect() {
		return
	}
	s.backoff.Advance()
	s.scheduleReconnect()
}

// ---------- gateway callbacks ----------

func (s *SessionManager) ConnectAck() {
	s.log.Info("gateway acknowledged connection")
}

func (s *SessionManager) ConnectionClosed() {
	s.mu.Lock()
	wasLive := s.state == StateReady || s.state == StateAwaitingHandshake
	if wasLive {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()
	if wasLive {
		s.notifyState(StateDisconnected)
		s.log.Warn("gateway connection closed")
		s.scheduleReconnect()
	}
}

func (s *SessionManager) Error(reqID int64, code int, msg string) {
	if connectivityLostCodes[code] {
		s.log.Warn("gateway connectivity lost",
			zap.Int("code", code), zap.String("msg", msg))
		s.ConnectionClosed()
		return
	}
	s.log.Info("gateway message",
		zap.Int64("reqId", reqID), zap.Int("code", code), zap.String("msg", msg))
}

func (s *SessionManager) NextValidID(orderID int64) {
	s.mu.Lock()
	if orderID > s.nextOrderID {
		s.nextOrderID = orderID
	}
	if s.handshake != nil {
		close(s.handshake)
		s.handshake = nil
	}
	s.mu.Unlock()
}

func (s *SessionManager) OrderStatus(orderID int64, status domain.OrderStatus, filled int64, avgFillPrice float64) {
	s.mu.Lock()
	sink := s.orders
	s.mu.Unlock()
	if sink != nil {
		sink.OnStatusUpdate(orderID, status, filled, avgFillPrice)
	}
}

func (s *SessionManager) ExecDetails(orderID int64, execID, symbol string, qty int64, price float64) {
	s.mu.Lock()
	sink := s.orders
	s.mu.Unlock()
	if sink != nil {
		sink.OnExecDetails(orderID, execID, symbol, qty, price)
	}
}

func (s *SessionManager) CommissionReport(execID string, commission float64) {
	s.mu.Lock()
	sink := s.orders
	s.mu.Unlock()
	if sink != nil {
		sink.OnCommission(execID, commission)
	}
}

func (s *SessionManager) Position(pos domain.BrokerPosition) {
	if s.hooks.OnPosition != nil {
		s.hooks.OnPosition(pos)
	}
}

func (s *SessionManager) AccountSummary(sum domain.AccountSummary) {
	if s.hooks.OnAccountSummary != nil {
		s.hooks.OnAccountSummary(sum)
	}
}

func (s *SessionManager) MarketBar(symbol string, bar domain.Bar) {
	if s.hooks.OnBar != nil {
		s.hooks.OnBar(symbol, bar)
	}
}
