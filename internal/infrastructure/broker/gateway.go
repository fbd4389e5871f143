package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
)

// GatewayTransport implements Transport over a websocket connection to the
// broker execution gateway. One reader goroutine per connection decodes
// gateway events and invokes the registered Callbacks; Disconnect is
// idempotent and makes the reader exit on socket closure.
type GatewayTransport struct {
	token string
	log   *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cb     Callbacks
}

var _ Transport = (*GatewayTransport)(nil)

func NewGatewayTransport(token string, log *zap.Logger) *GatewayTransport {
	return &GatewayTransport{token: token, log: log}
}

func (g *GatewayTransport) SetCallbacks(cb Callbacks) {
	g.mu.Lock()
	g.cb = cb
	g.mu.Unlock()
}

func (g *GatewayTransport) Connect(ctx context.Context, host string, port int, clientID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		return fmt.Errorf("transport already connected")
	}

	url := fmt.Sprintf("ws://%s:%d/v1/session?clientId=%d", host, port, clientID)
	header := http.Header{}
	if g.token != "" {
		header.Set("Authorization", "Bearer "+g.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	g.conn = conn
	g.closed = false

	go g.readLoop(conn)
	return nil
}

// Disconnect closes the socket. Safe to call when already disconnected; the
// reader goroutine terminates on the resulting read error without firing
// the connection-closed callback.
func (g *GatewayTransport) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return
	}
	g.closed = true
	g.conn.Close()
	g.conn = nil
}

// gatewayEvent is the flat inbound frame. Type discriminates which fields
// are populated.
type gatewayEvent struct {
	Type         string  `json:"type"`
	ReqID        int64   `json:"reqId,omitempty"`
	Code         int     `json:"code,omitempty"`
	Msg          string  `json:"msg,omitempty"`
	OrderID      int64   `json:"orderId,omitempty"`
	Status       string  `json:"status,omitempty"`
	Filled       int64   `json:"filled,omitempty"`
	AvgFillPrice float64 `json:"avgFillPrice,omitempty"`
	ExecID       string  `json:"execId,omitempty"`
	Symbol       string  `json:"symbol,omitempty"`
	Qty          int64   `json:"qty,omitempty"`
	Price        float64 `json:"price,omitempty"`
	Commission   float64 `json:"commission,omitempty"`
	PositionQty  float64 `json:"positionQty,omitempty"`
	AvgCost      float64 `json:"avgCost,omitempty"`
	Tag          string  `json:"tag,omitempty"`
	Value        string  `json:"value,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	Bar          *struct {
		Time   int64   `json:"time"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"bar,omitempty"`
}

func (g *GatewayTransport) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			g.mu.Lock()
			deliberate := g.closed
			if g.conn == conn {
				g.conn = nil
			}
			cb := g.cb
			g.mu.Unlock()
			conn.Close()
			if !deliberate {
				g.log.Warn("gateway read error", zap.Error(err))
				if cb != nil {
					cb.ConnectionClosed()
				}
			}
			return
		}

		var ev gatewayEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			g.log.Warn("gateway frame unmarshal error", zap.Error(err))
			continue
		}
		g.dispatch(ev)
	}
}

func (g *GatewayTransport) dispatch(ev gatewayEvent) {
	g.mu.Lock()
	cb := g.cb
	g.mu.Unlock()
	if cb == nil {
		return
	}

	switch ev.Type {
	case "connect_ack":
		cb.ConnectAck()
	case "next_valid_id":
		cb.NextValidID(ev.OrderID)
	case "error":
		cb.Error(ev.ReqID, ev.Code, ev.Msg)
	case "order_status":
		cb.OrderStatus(ev.OrderID, domain.OrderStatus(ev.Status), ev.Filled, ev.AvgFillPrice)
	case "exec_details":
		cb.ExecDetails(ev.OrderID, ev.ExecID, ev.Symbol, ev.Qty, ev.Price)
	case "commission":
		cb.CommissionReport(ev.ExecID, ev.Commission)
	case "position":
		cb.Position(domain.BrokerPosition{Symbol: ev.Symbol, Quantity: ev.PositionQty, AvgCost: ev.AvgCost})
	case "account_summary":
		cb.AccountSummary(domain.AccountSummary{Tag: ev.Tag, Value: ev.Value, Currency: ev.Currency})
	case "bar":
		if ev.Bar != nil {
			cb.MarketBar(ev.Symbol, domain.Bar{
				Time:   time.UnixMilli(ev.Bar.Time).UTC(),
				Open:   ev.Bar.Open,
				High:   ev.Bar.High,
				Low:    ev.Bar.Low,
				Close:  ev.Bar.Close,
				Volume: ev.Bar.Volume,
			})
		}
	default:
		g.log.Debug("unknown gateway event", zap.String("type", ev.Type))
	}
}

func (g *GatewayTransport) writeJSON(v interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("transport not connected")
	}
	return g.conn.WriteJSON(v)
}

func (g *GatewayTransport) PlaceOrder(orderID int64, contract ContractSpec, order OrderSpec) error {
	return g.writeJSON(map[string]interface{}{
		"op":       "place_order",
		"orderId":  orderID,
		"contract": contract,
		"order":    order,
	})
}

func (g *GatewayTransport) CancelOrder(orderID int64) error {
	return g.writeJSON(map[string]interface{}{"op": "cancel_order", "orderId": orderID})
}

func (g *GatewayTransport) ReqNextOrderID() error {
	return g.writeJSON(map[string]interface{}{"op": "req_next_order_id"})
}

func (g *GatewayTransport) ReqPositions() error {
	return g.writeJSON(map[string]interface{}{"op": "req_positions"})
}

func (g *GatewayTransport) ReqAccountSummary(tags string) error {
	return g.writeJSON(map[string]interface{}{"op": "req_account_summary", "tags": tags})
}

func (g *GatewayTransport) SubscribeBars(symbol string) error {
	return g.writeJSON(map[string]interface{}{"op": "subscribe_bars", "symbol": symbol})
}
