package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"enginemanager/src/database"
	"enginemanager/src/model"
)

// OrderRepository handles read operations for reconciled orders and
// execution orders. Writes go through the event reconciler, not here.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main
// read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB}
}

// NewOrderRepositoryWithDB creates a repository bound to a specific
// *gorm.DB instance. Useful for tests or transactions.
func NewOrderRepositoryWithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// FindByID fetches one order. Returns (nil, nil) if not found.
func (r *OrderRepository) FindByID(ctx context.Context, projectID, id int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", id, projectID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "FindByID",
			"project_id": projectID,
			"id":         id,
		}).WithError(err).Error("Failed to fetch order")
		return nil, err
	}
	return &order, nil
}

// FindRecent lists a project's newest orders, most recent first.
func (r *OrderRepository) FindRecent(ctx context.Context, projectID int64, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("order_time DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// FindByPosition lists every order attributed to a position.
func (r *OrderRepository) FindByPosition(ctx context.Context, projectID, positionID int64) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND position_id = ?", projectID, positionID).
		Order("order_time").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// FindExecutionOrder fetches one execution order. Returns (nil, nil) if
// not found.
func (r *OrderRepository) FindExecutionOrder(ctx context.Context, projectID, id int64) (*model.ExecutionOrder, error) {
	var eo model.ExecutionOrder
	err := r.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", id, projectID).
		First(&eo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &eo, nil
}
