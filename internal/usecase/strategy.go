package usecase

import (
	"github.com/vitos/equity_trade_bot/internal/domain"
)

// UTSignalSource derives entry/exit signals from UT-Bot crossovers: a close
// crossing above the trailing stop is a BUY, crossing below is a SELL. It
// stands in for the full strategy collaborator, which may gate entries on
// additional regime filters before handing signals to the engine.
type UTSignalSource struct {
	prev *EnrichedBar
}

func NewUTSignalSource() *UTSignalSource {
	return &UTSignalSource{}
}

// Next consumes one enriched bar and returns the signal for it, or nil
// during warm-up and when nothing crossed.
func (s *UTSignalSource) Next(bar EnrichedBar) *domain.Signal {
	prev := s.prev
	s.prev = &bar

	if prev == nil || prev.UTStop <= 0 || bar.UTStop <= 0 {
		return nil
	}

	switch {
	case prev.Close <= prev.UTStop && bar.Close > bar.UTStop:
		return &domain.Signal{
			Kind:   domain.SignalBuy,
			Price:  bar.Close,
			Reason: "Entry: UT cross up",
			Time:   bar.Time,
		}
	case prev.Close >= prev.UTStop && bar.Close < bar.UTStop:
		return &domain.Signal{
			Kind:   domain.SignalSell,
			Price:  bar.Close,
			Reason: "Exit: UT cross down",
			Time:   bar.Time,
		}
	}
	return nil
}
