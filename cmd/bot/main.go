package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/equity_trade_bot/internal/domain"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/broker"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/logger"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/storage"
	"github.com/vitos/equity_trade_bot/internal/usecase"
	"github.com/vitos/equity_trade_bot/internal/web"
)

type Config struct {
	Gateway struct {
		Host                string `yaml:"host"`
		Port                int    `yaml:"port"`
		ClientID            int    `yaml:"client_id"`
		HandshakeTimeoutSec int    `yaml:"handshake_timeout_sec"`
		ReconnectFloorSec   int    `yaml:"reconnect_floor_sec"`
		ReconnectCeilingSec int    `yaml:"reconnect_ceiling_sec"`
	} `yaml:"gateway"`
	Risk       usecase.RiskConfig `yaml:"risk"`
	Indicators struct {
		ATRLen   int     `yaml:"atr_len"`
		UTATRLen int     `yaml:"ut_atr_len"`
		UTKey    float64 `yaml:"ut_key"`
	} `yaml:"indicators"`
	Journal struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"journal"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// barHistory is how many bars the driver keeps for indicator enrichment.
const barHistory = 500

func main() {
	// Secrets (gateway token) come from the environment; a .env is optional.
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Journal.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	engine, err := usecase.NewRiskEngine(cfg.Risk, store, log)
	if err != nil {
		log.Fatal("Invalid risk config", zap.Error(err))
	}
	engine.SetCloseHook(func(rec domain.TradeRecord) {
		if rec.Side != "BUY" {
			web.ExitReasonsTotal.WithLabelValues(rec.Reason).Inc()
		}
		web.CashUSD.Set(engine.Cash())
		web.ClosedNetPnL.Set(engine.Ledger().ClosedNetPnL)
	})

	bars := make(chan domain.Bar, 256)
	var lastClose atomic.Value // most recent bar close, for the shutdown flush
	hooks := broker.SessionHooks{
		OnStateChange: func(st broker.SessionState) {
			web.SessionState.Set(float64(st))
			if err := store.SaveSessionEvent(context.Background(), "session_state", st.String()); err != nil {
				log.Error("Failed to record session event", zap.Error(err))
			}
		},
		OnReconnectScheduled: func(time.Duration) {
			web.ReconnectsTotal.Inc()
		},
		OnBar: func(symbol string, bar domain.Bar) {
			lastClose.Store(bar.Close)
			select {
			case bars <- bar:
			default:
				log.Warn("bar queue full, dropping bar", zap.String("symbol", symbol))
			}
		},
	}

	transport := broker.NewGatewayTransport(os.Getenv("GATEWAY_TOKEN"), log)
	session := broker.NewSessionManager(broker.SessionConfig{
		Host:             cfg.Gateway.Host,
		Port:             cfg.Gateway.Port,
		ClientID:         cfg.Gateway.ClientID,
		Symbol:           cfg.Risk.Symbol,
		HandshakeTimeout: time.Duration(cfg.Gateway.HandshakeTimeoutSec) * time.Second,
		ReconnectFloor:   time.Duration(cfg.Gateway.ReconnectFloorSec) * time.Second,
		ReconnectCeiling: time.Duration(cfg.Gateway.ReconnectCeilingSec) * time.Second,
	}, transport, hooks, log)

	registry := broker.NewOrderRegistry(session, log)
	adapter := usecase.NewExecutionAdapter(registry, log)

	// Fills and rejections cross from the gateway reader to the driver
	// through these queues; the risk engine is only ever touched from the
	// driver goroutine.
	fills := make(chan domain.Order, 64)
	registry.SetFillHandler(func(o domain.Order) {
		select {
		case fills <- o:
		default:
			log.Error("fill queue full, dropping fill", zap.Int64("orderId", o.OrderID))
		}
	})
	rejects := make(chan domain.Order, 64)
	registry.SetRejectHandler(func(o domain.Order) {
		select {
		case rejects <- o:
		default:
			log.Error("reject queue full, dropping rejection", zap.Int64("orderId", o.OrderID))
		}
	})

	server := web.NewServer(cfg.Server.Port, session, engine, store, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Status server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go session.Start()

	ctx, cancelDriver := context.WithCancel(context.Background())
	emergency := make(chan struct{}, 1)
	go runDriver(ctx, cfg, engine, adapter, bars, fills, rejects, emergency, log)

	select {
	case <-stop:
		log.Info("Shutting down...")
	case <-emergency:
		log.Error("Emergency stop: drawdown limit breached")
	}
	cancelDriver()

	var price float64
	if v := lastClose.Load(); v != nil {
		price = v.(float64)
	}
	flattenResidual(engine, adapter, cfg.Risk.Symbol, price, session.Ready(), log)

	session.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}

// flattenResidual sends an end-of-session exit for any open position while
// the session can still transmit. The fill will not be processed (the driver
// is already stopped), but the position must not be carried overnight.
func flattenResidual(
	engine *usecase.RiskEngine,
	adapter *usecase.ExecutionAdapter,
	symbol string,
	price float64,
	ready bool,
	log *zap.Logger,
) {
	if _, open := engine.Position(); !open {
		return
	}
	if price <= 0 || !ready {
		log.Error("residual position left open at shutdown",
			zap.Bool("sessionReady", ready), zap.Float64("lastClose", price))
		return
	}
	for _, intent := range engine.ForceClose(price) {
		if _, ok := adapter.ExecuteIntent(intent, symbol); !ok {
			log.Error("end-of-session close not executed",
				zap.Int64("qty", intent.Quantity), zap.Float64("price", intent.Price))
			continue
		}
		log.Info("end-of-session close submitted",
			zap.Int64("qty", intent.Quantity), zap.Float64("price", intent.Price))
	}
}

// runDriver is the single owner of the risk engine: it consumes bars, fills
// and rejections, evaluates the lifecycle once per bar, and hands intents to
// the execution adapter.
func runDriver(
	ctx context.Context,
	cfg *Config,
	engine *usecase.RiskEngine,
	adapter *usecase.ExecutionAdapter,
	bars <-chan domain.Bar,
	fills <-chan domain.Order,
	rejects <-chan domain.Order,
	emergency chan<- struct{},
	log *zap.Logger,
) {
	history := make([]domain.Bar, 0, barHistory)
	signals := usecase.NewUTSignalSource()
	inflight := make(map[int64]usecase.Intent)

	applyFill := func(o domain.Order) {
		intent, ok := inflight[o.OrderID]
		if !ok {
			log.Warn("fill for unknown intent, ignoring", zap.Int64("orderId", o.OrderID))
			return
		}
		delete(inflight, o.OrderID)
		engine.OnFill(usecase.Fill{
			Kind:       intent.Kind,
			Reason:     intent.Reason,
			Quantity:   o.FilledQty,
			Price:      o.AvgFillPrice,
			Commission: o.Commission,
			OrderID:    o.OrderID,
			ExecID:     o.ExecID,
			Time:       time.Now().UTC(),
		})
	}

	applyReject := func(o domain.Order) {
		intent, ok := inflight[o.OrderID]
		if !ok {
			log.Warn("rejection for unknown intent, ignoring", zap.Int64("orderId", o.OrderID))
			return
		}
		delete(inflight, o.OrderID)
		engine.OnOrderRejected(intent.Kind)
		log.Warn("order rejected by broker, lifecycle flag cleared",
			zap.Int64("orderId", o.OrderID), zap.String("kind", string(intent.Kind)))
	}

	for {
		select {
		case o := <-fills:
			applyFill(o)

		case o := <-rejects:
			applyReject(o)

		case bar := <-bars:
			// Apply any fills or rejections that arrived before this bar.
			drained := false
			for !drained {
				select {
				case o := <-fills:
					applyFill(o)
				case o := <-rejects:
					applyReject(o)
				default:
					drained = true
				}
			}

			history = append(history, bar)
			if len(history) > barHistory {
				history = history[1:]
			}
			enriched := usecase.Enrich(history, cfg.Indicators.ATRLen, cfg.Indicators.UTATRLen, cfg.Indicators.UTKey)
			last := enriched[len(enriched)-1]

			sig := signals.Next(last)
			for _, intent := range engine.Evaluate(last, sig) {
				id, ok := adapter.ExecuteIntent(intent, cfg.Risk.Symbol)
				if !ok {
					engine.OnOrderRejected(intent.Kind)
					continue
				}
				inflight[id] = intent
				if intent.Kind == usecase.IntentEnter {
					web.OrdersTotal.WithLabelValues("buy").Inc()
				} else {
					web.OrdersTotal.WithLabelValues("sell").Inc()
				}
			}

			if engine.DDBreached() {
				log.Error("closed-trade drawdown limit breached, stopping driver")
				emergency <- struct{}{}
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
