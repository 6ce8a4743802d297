package repository

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"points-service/internal/model"
)

type OrderRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewOrderRepository(db *gorm.DB, log *logrus.Logger) *OrderRepository {
	return &OrderRepository{
		db:  db,
		log: log,
	}
}

// Create persists a new pending order.
func (r *OrderRepository) Create(ctx context.Context, order *model.PaymentOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetBySessionID loads an order by the provider's checkout session id.
// Returns gorm.ErrRecordNotFound when no order was recorded for the
// session.
func (r *OrderRepository) GetBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*model.PaymentOrder, error) {
	var order model.PaymentOrder
	err := db.WithContext(ctx).
		Where("external_session_id = ?", sessionID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkCompleted transitions an order to completed inside tx. The status
// check in the WHERE clause keeps the transition one-way even if two
// writers race past the service-level guard.
func (r *OrderRepository) MarkCompleted(tx *gorm.DB, order *model.PaymentOrder, at time.Time) error {
	res := tx.Model(&model.PaymentOrder{}).
		Where("id = ? AND status = ?", order.ID, model.OrderPending).
		Updates(map[string]interface{}{
			"status":       model.OrderCompleted,
			"completed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	order.Status = model.OrderCompleted
	order.CompletedAt = &at
	return nil
}

// ListPendingBefore returns pending orders created before cutoff, oldest
// first, for lazy reconciliation of abandoned or lost confirmations.
func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit, offset int) ([]model.PaymentOrder, error) {
	var orders []model.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.OrderPending, cutoff).
		Order("id asc").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error

	return orders, err
}
