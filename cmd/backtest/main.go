package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/equity_trade_bot/internal/domain"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/logger"
	"github.com/vitos/equity_trade_bot/internal/infrastructure/storage"
	"github.com/vitos/equity_trade_bot/internal/usecase"
)

type backtestConfig struct {
	Risk       usecase.RiskConfig `yaml:"risk"`
	Indicators struct {
		ATRLen   int     `yaml:"atr_len"`
		UTATRLen int     `yaml:"ut_atr_len"`
		UTKey    float64 `yaml:"ut_key"`
	} `yaml:"indicators"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func main() {
	csvPath := flag.String("csv", "", "bar data CSV: Datetime,Open,High,Low,Close,Volume")
	cfgPath := flag.String("config", "config/config.yaml", "config file")
	dbPath := flag.String("db", "", "optional sqlite path for the trade journal")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("usage: backtest -csv bars.csv [-config config/config.yaml] [-db trades.db]")
		os.Exit(1)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	bars, err := loadBars(*csvPath)
	if err != nil {
		log.Fatal("Failed to load bars", zap.Error(err))
	}
	log.Info("Loaded bars", zap.Int("count", len(bars)))

	enriched := usecase.Enrich(bars, cfg.Indicators.ATRLen, cfg.Indicators.UTATRLen, cfg.Indicators.UTKey)
	signals := usecase.NewUTSignalSource()

	bt := usecase.NewBacktester(cfg.Risk, log)
	result, journal, err := bt.Run(enriched, func(_ int, bar usecase.EnrichedBar) *domain.Signal {
		return signals.Next(bar)
	})
	if err != nil {
		log.Fatal("Backtest failed", zap.Error(err))
	}

	fmt.Println("=== RESULTS ===")
	fmt.Printf("trades:        %d\n", result.TotalTrades)
	fmt.Printf("wins/losses:   %d/%d\n", result.Wins, result.Losses)
	fmt.Printf("win rate:      %.1f%%\n", result.WinRate)
	fmt.Printf("net profit:    %.2f\n", result.NetProfit)
	fmt.Printf("profit factor: %.2f\n", result.ProfitFactor)
	fmt.Printf("max drawdown:  %.2f\n", result.MaxDrawdown)
	fmt.Printf("final cash:    %.2f\n", result.FinalCash)

	if *dbPath != "" {
		if err := saveJournal(*dbPath, journal); err != nil {
			log.Error("Failed to save journal", zap.Error(err))
		} else {
			log.Info("Saved trade journal", zap.String("db", *dbPath), zap.Int("records", len(journal)))
		}
	}
}

func loadConfig(path string) (*backtestConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg backtestConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadBars(path string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}

	bars := make([]domain.Bar, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("bad row: %v", row)
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			// Fall back to a date-time without zone.
			ts, err = time.Parse("2006-01-02 15:04:05", row[0])
			if err != nil {
				return nil, fmt.Errorf("bad timestamp %q: %w", row[0], err)
			}
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(row[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("bad value %q: %w", row[i+1], err)
			}
			vals[i] = v
		}
		bars = append(bars, domain.Bar{
			Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	return bars, nil
}

func saveJournal(dbPath string, journal []domain.TradeRecord) error {
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	for i := range journal {
		if err := store.SaveTrade(ctx, &journal[i]); err != nil {
			return err
		}
	}
	return nil
}
