package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitos/equity_trade_bot/internal/domain"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/broker"
	"github.com/vitos/equity_trade_bot/internal/usecase"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	session   *broker.SessionManager
	engine    *usecase.RiskEngine
	tradeRepo domain.TradeRepository
	logger    *zap.Logger
}

func NewServer(
	port int,
	session *broker.SessionManager,
	engine *usecase.RiskEngine,
	tradeRepo domain.TradeRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		session:   session,
		engine:    engine,
		tradeRepo: tradeRepo,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.Handle("GET /metrics", promhttp.Handler())
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /trades", s.handleTrades)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type status struct {
		SessionState string                 `json:"sessionState"`
		Cash         float64                `json:"cash"`
		Position     *domain.Position       `json:"position,omitempty"`
		Ledger       usecase.LedgerSnapshot `json:"ledger"`
		DDBreached   bool                   `json:"ddBreached"`
	}

	st := status{
		SessionState: s.session.State().String(),
		Cash:         s.engine.Cash(),
		Ledger:       s.engine.Ledger(),
		DDBreached:   s.engine.DDBreached(),
	}
	if pos, ok := s.engine.Position(); ok {
		st.Position = &pos
	}

	writeJSON(w, st)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trades, err := s.tradeRepo.ListTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("list trades failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, trades)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
