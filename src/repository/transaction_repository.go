package repository

import (
	"context"

	"gorm.io/gorm"

	"enginemanager/src/database"
	"enginemanager/src/model"
)

// TransactionRepository handles read operations for the balance ledger.
// The ledger is append-only; writes happen in the event reconciler.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{db: database.MainDB}
}

func NewTransactionRepositoryWithDB(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// FindRecent lists a project's newest ledger entries, most recent first.
func (r *TransactionRepository) FindRecent(ctx context.Context, projectID int64, limit int) ([]model.BalanceTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.BalanceTransaction
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByPosition lists the ledger entries attributed to a position.
func (r *TransactionRepository) FindByPosition(ctx context.Context, projectID, positionID int64) ([]model.BalanceTransaction, error) {
	var rows []model.BalanceTransaction
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND position_id = ?", projectID, positionID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
