package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"enginemanager/src/database"
	"enginemanager/src/model"
)

// ConfigRepository handles project configuration, worker-state snapshots
// and the enabled bootstrap entities (strategies, executors, data sources,
// risk policies) for one database handle.
type ConfigRepository struct {
	db *gorm.DB
}

// NewConfigRepository creates a new repository instance using the main
// read/write database.
func NewConfigRepository() *ConfigRepository {
	return &ConfigRepository{db: database.MainDB}
}

// NewConfigRepositoryWithDB creates a repository bound to a specific
// *gorm.DB instance. Useful for tests or transactions.
func NewConfigRepositoryWithDB(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// GetProjectConfig fetches the config row for a project. Returns
// (nil, nil) if none exists.
func (r *ConfigRepository) GetProjectConfig(ctx context.Context, projectID int64) (*model.ProjectConfig, error) {
	var conf model.ProjectConfig
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		First(&conf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "ConfigRepository",
			"op":         "GetProjectConfig",
			"project_id": projectID,
		}).WithError(err).Error("Failed to fetch project config")
		return nil, err
	}
	return &conf, nil
}

// GetOrCreateProjectConfig returns the project's config row, creating an
// empty one when the project has never been configured. Bootstrap depends
// on a row existing.
func (r *ConfigRepository) GetOrCreateProjectConfig(ctx context.Context, projectID int64) (*model.ProjectConfig, error) {
	conf, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if conf != nil {
		return conf, nil
	}

	conf = &model.ProjectConfig{ProjectID: projectID}
	if err := r.db.WithContext(ctx).Create(conf).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "ConfigRepository",
			"op":         "GetOrCreateProjectConfig",
			"project_id": projectID,
		}).WithError(err).Error("Failed to create project config")
		return nil, err
	}

	logger.WithField("project_id", projectID).Info("Created empty project config")
	return conf, nil
}

// SavePositionData persists the worker's position-state snapshot.
func (r *ConfigRepository) SavePositionData(ctx context.Context, projectID int64, data map[string]any) error {
	err := r.db.WithContext(ctx).
		Model(&model.ProjectConfig{}).
		Where("project_id = ?", projectID).
		Update("position_data", data).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "ConfigRepository",
			"op":         "SavePositionData",
			"project_id": projectID,
		}).WithError(err).Error("Failed to save position data")
	}
	return err
}

// SaveStrategyData persists one strategy's worker-reported runtime blob.
func (r *ConfigRepository) SaveStrategyData(ctx context.Context, projectID, strategyID int64, data map[string]any) error {
	err := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("id = ? AND project_id = ?", strategyID, projectID).
		Update("data", data).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "ConfigRepository",
			"op":          "SaveStrategyData",
			"project_id":  projectID,
			"strategy_id": strategyID,
		}).WithError(err).Error("Failed to save strategy data")
	}
	return err
}

// EnabledStrategies lists the strategies to push during bootstrap.
func (r *ConfigRepository) EnabledStrategies(ctx context.Context, projectID int64) ([]model.Strategy, error) {
	var rows []model.Strategy
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND is_enabled = ?", projectID, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// EnabledExecutors lists the executors to push during bootstrap.
func (r *ConfigRepository) EnabledExecutors(ctx context.Context, projectID int64) ([]model.Executor, error) {
	var rows []model.Executor
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND is_enabled = ?", projectID, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// EnabledDataSources lists the data sources to push during bootstrap.
func (r *ConfigRepository) EnabledDataSources(ctx context.Context, projectID int64) ([]model.DataSource, error) {
	var rows []model.DataSource
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND is_enabled = ?", projectID, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// EnabledRiskPolicies lists the risk policies to push during bootstrap.
// Policies go first in the bootstrap order.
func (r *ConfigRepository) EnabledRiskPolicies(ctx context.Context, projectID int64) ([]model.RiskPolicy, error) {
	var rows []model.RiskPolicy
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND is_enabled = ?", projectID, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
