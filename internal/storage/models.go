package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleSample records one polling cycle's observations across both venues
// and the bidirectional evaluation outcome.
type CycleSample struct {
	CycleTS       time.Time
	KucoinSpot    decimal.Decimal
	PancakeSpot   decimal.Decimal
	TradeSize     decimal.Decimal
	ProfitKtoP    decimal.Decimal
	ProfitPctKtoP decimal.Decimal
	ProfitPtoK    decimal.Decimal
	ProfitPctPtoK decimal.Decimal
	Status        string
	Error         *string
	CreatedAt     time.Time
}

// AlertRecord captures an emitted alert for de-duplication/auditing.
type AlertRecord struct {
	ID           int64
	CycleTS      time.Time
	Direction    string
	ProfitPct    decimal.Decimal
	ThresholdPct decimal.Decimal
	CreatedAt    time.Time
}
