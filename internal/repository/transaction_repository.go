package repository

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"points-service/internal/model"
)

type TransactionRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewTransactionRepository(db *gorm.DB, log *logrus.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log,
	}
}

// Create appends a ledger entry inside tx. Entries are immutable once
// written; there is no update path.
func (r *TransactionRepository) Create(tx *gorm.DB, transaction *model.PointTransaction) error {
	return tx.Create(transaction).Error
}

// ListByUser returns a page of a user's ledger, newest first, plus the
// total entry count.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uint, page, pageSize int) ([]model.PointTransaction, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).
		Model(&model.PointTransaction{}).
		Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var transactions []model.PointTransaction
	err := q.Order("id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumByUser returns the sum of all transaction amounts for a user. It
// must always equal the cached balance.
func (r *TransactionRepository) SumByUser(ctx context.Context, userID uint) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.PointTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error

	return sum, err
}
