package repository

import (
	"context"

	"gorm.io/gorm"

	"enginemanager/src/database"
	"enginemanager/src/model"
)

// RiskLogRepository handles read operations for risk trigger logs.
type RiskLogRepository struct {
	db *gorm.DB
}

func NewRiskLogRepository() *RiskLogRepository {
	return &RiskLogRepository{db: database.MainDB}
}

func NewRiskLogRepositoryWithDB(db *gorm.DB) *RiskLogRepository {
	return &RiskLogRepository{db: db}
}

// FindRecent lists a project's newest risk triggers, most recent first.
func (r *RiskLogRepository) FindRecent(ctx context.Context, projectID int64, limit int) ([]model.RiskLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []model.RiskLog
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("trigger_time DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// FindBySignal fetches signal-type triggers for one signal, any policy.
func (r *RiskLogRepository) FindBySignal(ctx context.Context, projectID, signalID int64) ([]model.RiskLog, error) {
	var logs []model.RiskLog
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND risk_type = ? AND signal_id = ?", projectID, model.RiskTypeSignal, signalID).
		Order("id").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
