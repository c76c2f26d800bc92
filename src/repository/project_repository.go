package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"enginemanager/src/database"
	"enginemanager/src/model"
)

// ProjectRepository handles read/write operations for projects and their
// persisted worker handles.
type ProjectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a new repository instance using the main
// read/write database.
func NewProjectRepository() *ProjectRepository {
	return &ProjectRepository{db: database.MainDB}
}

// NewProjectRepositoryWithDB creates a repository bound to a specific
// *gorm.DB instance. Useful for tests or transactions.
func NewProjectRepositoryWithDB(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// FindActive returns every project that should have a running worker:
// enabled and not deleted.
func (r *ProjectRepository) FindActive(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.WithContext(ctx).
		Where("is_enabled = ? AND is_deleted = ?", true, false).
		Order("id").
		Find(&projects).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ProjectRepository",
			"op":   "FindActive",
		}).WithError(err).Error("Failed to fetch active projects")
		return nil, err
	}
	return projects, nil
}

// FindByID fetches a single project. Returns (nil, nil) if not found.
func (r *ProjectRepository) FindByID(ctx context.Context, id int64) (*model.Project, error) {
	var project model.Project
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ProjectRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch project")
		return nil, err
	}
	return &project, nil
}

// UpdateEngineInfo persists the worker handle for a project.
func (r *ProjectRepository) UpdateEngineInfo(ctx context.Context, id int64, info map[string]any) error {
	err := r.db.WithContext(ctx).
		Model(&model.Project{}).
		Where("id = ?", id).
		Update("engine_info", info).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ProjectRepository",
			"op":   "UpdateEngineInfo",
			"id":   id,
		}).WithError(err).Error("Failed to update engine info")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "ProjectRepository",
		"project_id":  id,
		"engine_info": info,
	}).Info("Engine info updated")
	return nil
}

// ClearEngineInfo removes the worker handle so the next supervisor scan
// starts the project from scratch.
func (r *ProjectRepository) ClearEngineInfo(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).
		Model(&model.Project{}).
		Where("id = ?", id).
		Update("engine_info", nil).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ProjectRepository",
			"op":   "ClearEngineInfo",
			"id":   id,
		}).WithError(err).Error("Failed to clear engine info")
		return err
	}
	return nil
}
