package model

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionPurchase        TransactionType = "purchase"
	TransactionContestEntry    TransactionType = "contest_entry"
	TransactionRefund          TransactionType = "refund"
	TransactionAdminAdjustment TransactionType = "admin_adjustment"
)

// OrderStatus is the lifecycle state of a payment order.
// Orders start pending and move to completed exactly once; completed
// and failed are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// PointsBalance is the current point balance for a user. It is a cached
// projection of the transaction ledger and is only mutated together with
// a PointTransaction row, inside the same database transaction.
type PointsBalance struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"uniqueIndex:idx_points_balances_user_id;not null" json:"user_id"`
	Points    int64     `gorm:"not null;default:0" json:"points"`
}

func (PointsBalance) TableName() string {
	return "points_balances"
}

// PointTransaction is one append-only ledger entry. Amount is signed:
// positive for credits, negative for debits. The sum of a user's
// transaction amounts always equals their PointsBalance.Points.
type PointTransaction struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	UserID       uint            `gorm:"index:idx_point_transactions_user_id;not null" json:"user_id"`
	Amount       int64           `gorm:"not null" json:"amount"`
	Type         TransactionType `gorm:"size:32;not null" json:"type"`
	Description  string          `gorm:"size:255" json:"description"`
	BalanceAfter int64           `gorm:"not null" json:"balance_after"`
	OrderID      *uint           `gorm:"index:idx_point_transactions_order_id" json:"order_id,omitempty"`
	ContestID    *string         `gorm:"size:64;index:idx_point_transactions_contest_id" json:"contest_id,omitempty"`
}

func (PointTransaction) TableName() string {
	return "point_transactions"
}

// PaymentOrder tracks one checkout with the external payment provider.
// ExternalSessionID is the idempotency key for crediting: a given session
// can complete at most once.
type PaymentOrder struct {
	ID                uint           `gorm:"primarykey" json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Reference         string         `gorm:"size:64;uniqueIndex:idx_payment_orders_reference;not null" json:"reference"`
	UserID            uint           `gorm:"index:idx_payment_orders_user_id;not null" json:"user_id"`
	PackageID         string         `gorm:"size:64;not null" json:"package_id"`
	ExternalSessionID string         `gorm:"size:255;uniqueIndex:idx_payment_orders_session_id;not null" json:"external_session_id"`
	AmountCents       int64          `gorm:"not null" json:"amount_cents"`
	PointsPurchased   int64          `gorm:"not null" json:"points_purchased"`
	Status            OrderStatus    `gorm:"size:16;not null;default:pending" json:"status"`
	Metadata          datatypes.JSON `json:"metadata,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

func (PaymentOrder) TableName() string {
	return "payment_orders"
}
