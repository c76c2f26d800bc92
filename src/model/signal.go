package model

import "time"

// Signal records a strategy's trading decision at a point in time.
// Signals are immutable facts: insert-only, never amended.
type Signal struct {
	ID                   int64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProjectID            int64          `gorm:"primaryKey;autoIncrement:false" json:"project_id"`
	StrategyID           int64          `gorm:"index;not null" json:"strategy_id"`
	StrategyInstanceID   string         `gorm:"size:200;not null" json:"strategy_instance_id"`
	StrategyClassName    string         `gorm:"size:200" json:"strategy_class_name,omitempty"`
	DataSourceInstanceID int64          `gorm:"index" json:"data_source_instance_id"`
	DataSourceClassName  string         `gorm:"size:200" json:"data_source_class_name,omitempty"`
	SignalTime           time.Time      `gorm:"index;not null" json:"signal_time"`
	Assets               []SignalAsset  `gorm:"type:jsonb;serializer:json" json:"assets,omitempty"`
	Config               map[string]any `gorm:"type:jsonb;serializer:json" json:"config,omitempty"`
	Extra                map[string]any `gorm:"type:jsonb;serializer:json" json:"extra,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

func (Signal) TableName() string {
	return "signals"
}

// SignalAsset is one target asset of a signal.
type SignalAsset struct {
	AssetType     string  `json:"asset_type"`
	InsType       string  `json:"ins_type"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Price         *string `json:"price,omitempty"`
	Ratio         *string `json:"ratio,omitempty"`
	QuoteCurrency string  `json:"quote_currency,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}
