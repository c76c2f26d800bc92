package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VirtualPosition is a shadow position the worker opens to simulate the
// effect of a signal under a risk policy without real capital exposure.
// When it resolves with a non-zero pnl, the reconciler folds that pnl back
// into the RiskLog matched by (SignalID, RiskPolicyID).
type VirtualPosition struct {
	SignalID     int64           `json:"signal_id"`
	RiskPolicyID int64           `json:"risk_policy_id"`
	Sz           decimal.Decimal `json:"sz"`
	Pnl          decimal.Decimal `json:"pnl"`
}

// Position mirrors a worker-reported position, one row per
// (project, position id). Rows are never deleted, only marked closed.
type Position struct {
	ID                 int64               `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProjectID          int64               `gorm:"primaryKey;autoIncrement:false" json:"project_id"`
	StrategyID         int64               `gorm:"index;not null" json:"strategy_id"`
	StrategyInstanceID string              `gorm:"size:200;index;not null" json:"strategy_instance_id"`
	Symbol             string              `gorm:"size:32;not null" json:"symbol"`
	QuoteCurrency      string              `gorm:"size:16" json:"quote_currency"`
	InsType            string              `gorm:"size:16" json:"ins_type"`
	AssetType          string              `gorm:"size:16" json:"asset_type"`
	Side               string              `gorm:"size:8;not null" json:"side"`
	CostPrice          decimal.Decimal     `gorm:"type:numeric(36,18)" json:"cost_price"`
	ClosePrice         decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"close_price,omitempty"`
	CurrentPrice       decimal.NullDecimal `gorm:"type:numeric(36,18)" json:"current_price,omitempty"`
	Amount             decimal.Decimal     `gorm:"type:numeric(36,18)" json:"amount"`
	Ratio              decimal.Decimal     `gorm:"type:numeric(36,18)" json:"ratio"`
	Sz                 decimal.Decimal     `gorm:"type:numeric(36,18)" json:"sz"`
	ExecutorSz         map[string]string   `gorm:"type:jsonb;serializer:json" json:"executor_sz,omitempty"`
	MaxSz              decimal.Decimal     `gorm:"type:numeric(36,18)" json:"max_sz"`
	MaxAmount          decimal.Decimal     `gorm:"type:numeric(36,18)" json:"max_amount"`
	TotalAmount        decimal.Decimal     `gorm:"type:numeric(36,18)" json:"total_amount"`
	TotalSz            decimal.Decimal     `gorm:"type:numeric(36,18)" json:"total_sz"`
	ExecutorID         string              `gorm:"size:64;index" json:"executor_id,omitempty"`
	IsFake             bool                `gorm:"default:false" json:"is_fake"`
	Pnl                decimal.Decimal     `gorm:"type:numeric(36,18);not null;default:0" json:"pnl"`
	Fee                decimal.Decimal     `gorm:"type:numeric(36,18);not null;default:0" json:"fee"`
	Friction           decimal.Decimal     `gorm:"type:numeric(36,18);not null;default:0" json:"friction"`
	Leverage           decimal.Decimal     `gorm:"type:numeric(36,18);not null;default:1" json:"leverage"`
	VirtualPositions   []VirtualPosition   `gorm:"type:jsonb;serializer:json" json:"virtual_positions,omitempty"`
	OpenTime           time.Time           `gorm:"not null" json:"open_time"`
	CloseTime          *time.Time          `json:"close_time,omitempty"`
	IsClosed           bool                `gorm:"default:false" json:"is_closed"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// ExecutorSzSum returns the total quantity across executors. The stored
// Sz column must always equal this sum after reconciliation.
func (p *Position) ExecutorSzSum() decimal.Decimal {
	sum := decimal.Zero
	for _, raw := range p.ExecutorSz {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		sum = sum.Add(v)
	}
	return sum
}

// VirtualSzSum returns the summed quantity of all shadow positions.
func (p *Position) VirtualSzSum() decimal.Decimal {
	sum := decimal.Zero
	for _, vp := range p.VirtualPositions {
		sum = sum.Add(vp.Sz)
	}
	return sum
}
