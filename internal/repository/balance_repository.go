package repository

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"points-service/internal/model"
)

type BalanceRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewBalanceRepository(db *gorm.DB, log *logrus.Logger) *BalanceRepository {
	return &BalanceRepository{
		db:  db,
		log: log,
	}
}

// GetPoints returns the current balance for a user. A user without a
// balance row has zero points.
func (r *BalanceRepository) GetPoints(ctx context.Context, userID uint) (int64, error) {
	var balance model.PointsBalance
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.Points, nil
}

// GetOrCreate loads the balance row for a user inside tx, creating a
// zero-point row when none exists yet.
func (r *BalanceRepository) GetOrCreate(tx *gorm.DB, userID uint) (*model.PointsBalance, error) {
	var balance model.PointsBalance
	err := tx.Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = model.PointsBalance{UserID: userID, Points: 0}
		if err := tx.Create(&balance).Error; err != nil {
			return nil, err
		}
		return &balance, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Save persists an updated balance row inside tx.
func (r *BalanceRepository) Save(tx *gorm.DB, balance *model.PointsBalance) error {
	return tx.Save(balance).Error
}
