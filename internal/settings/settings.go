// Package settings holds the runtime-adjustable configuration shared between
// the polling loop and the Telegram command surface.
package settings

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Settings guards the mutable trade size and alert threshold. Reads at the
// start of a cycle see a consistent pair; updates take effect on the next
// cycle, never retroactively.
type Settings struct {
	mu           sync.RWMutex
	tradeSize    decimal.Decimal
	thresholdPct decimal.Decimal
}

// New seeds settings from the startup configuration.
func New(tradeSize, thresholdPct decimal.Decimal) *Settings {
	return &Settings{tradeSize: tradeSize, thresholdPct: thresholdPct}
}

// View returns both values under one lock acquisition.
func (s *Settings) View() (tradeSize, thresholdPct decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradeSize, s.thresholdPct
}

// TradeSize returns the current evaluation trade size in base units.
func (s *Settings) TradeSize() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradeSize
}

// ThresholdPct returns the current alert threshold percentage.
func (s *Settings) ThresholdPct() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholdPct
}

// SetTradeSize updates the trade size; it must be strictly positive.
func (s *Settings) SetTradeSize(size decimal.Decimal) error {
	if size.Sign() <= 0 {
		return fmt.Errorf("trade size must be greater than zero, got %s", size.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeSize = size
	return nil
}

// SetThresholdPct updates the alert threshold; it must be strictly positive.
func (s *Settings) SetThresholdPct(pct decimal.Decimal) error {
	if pct.Sign() <= 0 {
		return fmt.Errorf("threshold must be greater than zero, got %s", pct.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholdPct = pct
	return nil
}
