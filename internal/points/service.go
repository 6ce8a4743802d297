package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"points-service/internal/catalog"
	"points-service/internal/config"
	"points-service/internal/gateway"
	"points-service/internal/model"
	"points-service/internal/repository"
)

// Service implements the points economy: checkout session creation,
// exactly-once crediting on payment verification, and the spend gate for
// premium contest entries. All balance mutations go through
// applyTransaction, which writes the ledger entry and the cached balance
// in one database transaction.
type Service struct {
	db           *gorm.DB
	balances     *repository.BalanceRepository
	transactions *repository.TransactionRepository
	orders       *repository.OrderRepository
	gw           gateway.Gateway
	catalog      *catalog.Catalog
	gwCfg        config.GatewayConfig
	log          *logrus.Logger

	// userLocks serializes balance mutations per user so concurrent
	// debits cannot both pass the balance check against stale state.
	userLocks sync.Map
}

func NewService(
	db *gorm.DB,
	balances *repository.BalanceRepository,
	transactions *repository.TransactionRepository,
	orders *repository.OrderRepository,
	gw gateway.Gateway,
	cat *catalog.Catalog,
	gwCfg config.GatewayConfig,
	log *logrus.Logger,
) *Service {
	return &Service{
		db:           db,
		balances:     balances,
		transactions: transactions,
		orders:       orders,
		gw:           gw,
		catalog:      cat,
		gwCfg:        gwCfg,
		log:          log,
	}
}

type CheckoutResult struct {
	RedirectURL    string
	OrderReference string
}

type VerifyResult struct {
	Verified         bool
	AlreadyProcessed bool
	PointsAwarded    int64
}

// Checkout validates the package, creates a provider checkout session
// and records a pending order keyed by the session id before returning
// the redirect URL. The price always comes from the catalog.
func (s *Service) Checkout(ctx context.Context, userID uint, packageID string) (*CheckoutResult, error) {
	pkg, err := s.catalog.Get(packageID)
	if err != nil {
		return nil, err
	}

	sess, err := s.gw.CreateSession(ctx, gateway.CreateSessionParams{
		LineItems: []gateway.LineItem{{
			Name:        pkg.Name,
			AmountCents: pkg.PriceCents,
			Quantity:    1,
		}},
		SuccessURL: s.gwCfg.SuccessURL,
		CancelURL:  s.gwCfg.CancelURL,
		Metadata: map[string]string{
			"user_id":         strconv.FormatUint(uint64(userID), 10),
			"points_to_award": strconv.FormatInt(pkg.Points, 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	rawSession, _ := json.Marshal(sess)
	order := &model.PaymentOrder{
		Reference:         uuid.NewString(),
		UserID:            userID,
		PackageID:         pkg.ID,
		ExternalSessionID: sess.ID,
		AmountCents:       pkg.PriceCents,
		PointsPurchased:   pkg.Points,
		Status:            model.OrderPending,
		Metadata:          datatypes.JSON(rawSession),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		// The provider session exists but we have no order for it. The
		// verifier will report OrderNotFound for this session until the
		// user retries checkout; no points can leak.
		s.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"session_id": sess.ID,
			"error":      err,
		}).Error("checkout session created but order persistence failed")
		return nil, fmt.Errorf("failed to persist payment order: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"package_id": pkg.ID,
		"session_id": sess.ID,
		"order":      order.Reference,
	}).Info("checkout session created")

	return &CheckoutResult{
		RedirectURL:    sess.URL,
		OrderReference: order.Reference,
	}, nil
}

// Verify confirms a session's payment status with the gateway and, on
// the first confirmation of a paid session, credits the purchased points
// and completes the order atomically. It is safe to call any number of
// times with the same session id: the order status is the idempotency
// guard, so a paid session credits exactly once.
func (s *Service) Verify(ctx context.Context, sessionID string) (*VerifyResult, error) {
	sess, err := s.gw.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	if sess.PaymentStatus != gateway.PaymentStatusPaid {
		return &VerifyResult{Verified: false}, nil
	}

	order, err := s.orders.GetBySessionID(ctx, s.db, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.WithField("session_id", sessionID).Error("paid session has no matching order")
		return nil, fmt.Errorf("%w: session %s", ErrOrderNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderCompleted {
		return &VerifyResult{
			Verified:         true,
			AlreadyProcessed: true,
			PointsAwarded:    order.PointsPurchased,
		}, nil
	}

	description := fmt.Sprintf("points purchase (%s)", order.PackageID)
	_, err = s.applyTransaction(ctx, order.UserID, order.PointsPurchased,
		model.TransactionPurchase, description, &order.ID, nil,
		func(tx *gorm.DB) (bool, error) {
			// Re-check under the lock: a concurrent Verify may have
			// completed the order after our read above.
			current, err := s.orders.GetBySessionID(ctx, tx, sessionID)
			if err != nil {
				return false, err
			}
			if current.Status == model.OrderCompleted {
				return true, nil
			}
			return false, s.orders.MarkCompleted(tx, current, time.Now())
		})
	if errors.Is(err, errAlreadyApplied) {
		return &VerifyResult{
			Verified:         true,
			AlreadyProcessed: true,
			PointsAwarded:    order.PointsPurchased,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    order.UserID,
		"session_id": sessionID,
		"points":     order.PointsPurchased,
	}).Info("payment verified, points credited")

	return &VerifyResult{
		Verified:      true,
		PointsAwarded: order.PointsPurchased,
	}, nil
}

// Spend debits points for a premium action. Insufficient balance is a
// normal outcome and reported as false with no error; nothing is written
// in that case.
func (s *Service) Spend(ctx context.Context, userID uint, amount int64, txType model.TransactionType, description string, contestID *string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	_, err := s.applyTransaction(ctx, userID, -amount, txType, description, nil, contestID, nil)
	if errors.Is(err, ErrInsufficientPoints) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  amount,
		"type":    txType,
	}).Info("points spent")

	return true, nil
}

// Credit adds points outside the purchase flow (refunds, admin
// adjustments).
func (s *Service) Credit(ctx context.Context, userID uint, amount int64, txType model.TransactionType, description string, contestID *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return s.applyTransaction(ctx, userID, amount, txType, description, nil, contestID, nil)
}

// Balance returns the user's current point balance.
func (s *Service) Balance(ctx context.Context, userID uint) (int64, error) {
	return s.balances.GetPoints(ctx, userID)
}

// Transactions returns a page of the user's ledger, newest first.
func (s *Service) Transactions(ctx context.Context, userID uint, page, pageSize int) ([]model.PointTransaction, int64, error) {
	return s.transactions.ListByUser(ctx, userID, page, pageSize)
}

// errAlreadyApplied signals that the extra step found the work already
// done; the surrounding transaction is rolled back without writing.
var errAlreadyApplied = errors.New("transaction already applied")

// applyTransaction is the single mutation path for balances: it updates
// the cached balance and appends the ledger entry in one database
// transaction, serialized per user. A negative amount that would
// overdraw fails with ErrInsufficientPoints and writes nothing. When
// extra is non-nil it runs inside the same transaction; returning true
// aborts the whole mutation as already applied.
func (s *Service) applyTransaction(
	ctx context.Context,
	userID uint,
	amount int64,
	txType model.TransactionType,
	description string,
	orderID *uint,
	contestID *string,
	extra func(tx *gorm.DB) (bool, error),
) (int64, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	var balanceAfter int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if extra != nil {
			done, err := extra(tx)
			if err != nil {
				return err
			}
			if done {
				return errAlreadyApplied
			}
		}

		balance, err := s.balances.GetOrCreate(tx, userID)
		if err != nil {
			return err
		}

		if balance.Points+amount < 0 {
			return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientPoints, balance.Points, -amount)
		}

		balance.Points += amount
		if err := s.balances.Save(tx, balance); err != nil {
			return err
		}

		entry := &model.PointTransaction{
			UserID:       userID,
			Amount:       amount,
			Type:         txType,
			Description:  description,
			BalanceAfter: balance.Points,
			OrderID:      orderID,
			ContestID:    contestID,
		}
		if err := s.transactions.Create(tx, entry); err != nil {
			return err
		}

		balanceAfter = balance.Points
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balanceAfter, nil
}

func (s *Service) userLock(userID uint) *sync.Mutex {
	mu, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
