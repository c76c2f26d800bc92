package model

import "time"

// Project is the tenant boundary: every worker process, strategy, order
// and position belongs to exactly one project. EngineInfo is the persisted
// worker handle ({"process_id": pid}); it survives manager restarts so an
// orphaned worker can be found and replaced.
type Project struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	Description string         `gorm:"size:500" json:"description,omitempty"`
	CreatedBy   string         `gorm:"size:200" json:"created_by,omitempty"`
	IsEnabled   bool           `gorm:"default:false;index" json:"is_enabled"`
	IsDeleted   bool           `gorm:"default:false;index" json:"is_deleted"`
	EngineInfo  map[string]any `gorm:"type:jsonb;serializer:json" json:"engine_info,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// ProcessID extracts the recorded worker pid from EngineInfo, or 0 when no
// handle is recorded. JSON decoding may deliver the pid as a float.
func (p *Project) ProcessID() int {
	if p.EngineInfo == nil {
		return 0
	}
	switch v := p.EngineInfo["process_id"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// ProjectConfig holds the per-project runtime settings plus the two
// worker-state snapshots the supervisor pulls on every healthy scan.
type ProjectConfig struct {
	ID              int64          `gorm:"primaryKey" json:"id"`
	ProjectID       int64          `gorm:"uniqueIndex;not null" json:"project_id"`
	PositionData    map[string]any `gorm:"type:jsonb;serializer:json" json:"position_data,omitempty"`
	PositionSetting map[string]any `gorm:"type:jsonb;serializer:json" json:"position_setting,omitempty"`
	AlertConfig     []string       `gorm:"type:jsonb;serializer:json" json:"alert_config,omitempty"`
	MountDirs       []string       `gorm:"type:jsonb;serializer:json" json:"mount_dirs,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (ProjectConfig) TableName() string {
	return "project_configs"
}
