package domain

import "context"

// TradeRepository defines storage operations for the trade journal.
type TradeRepository interface {
	SaveTrade(ctx context.Context, rec *TradeRecord) error
	ListTrades(ctx context.Context, limit int) ([]*TradeRecord, error)
	SaveSessionEvent(ctx context.Context, event, detail string) error
}
