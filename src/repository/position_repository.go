package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"enginemanager/src/database"
	"enginemanager/src/model"
)

// PositionRepository handles read operations for reconciled positions.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{db: database.MainDB}
}

func NewPositionRepositoryWithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// FindByID fetches one position. Returns (nil, nil) if not found.
func (r *PositionRepository) FindByID(ctx context.Context, projectID, id int64) (*model.Position, error) {
	var pos model.Position
	err := r.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", id, projectID).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "PositionRepository",
			"op":         "FindByID",
			"project_id": projectID,
			"id":         id,
		}).WithError(err).Error("Failed to fetch position")
		return nil, err
	}
	return &pos, nil
}

// FindOpen lists a project's open positions.
func (r *PositionRepository) FindOpen(ctx context.Context, projectID int64) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND is_closed = ?", projectID, false).
		Order("open_time").
		Find(&positions).Error
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// CountOpen returns the number of open positions for a project.
func (r *PositionRepository) CountOpen(ctx context.Context, projectID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("project_id = ? AND is_closed = ?", projectID, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
