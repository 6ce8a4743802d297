package points

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"points-service/internal/catalog"
	"points-service/internal/config"
	"points-service/internal/database"
	"points-service/internal/gateway"
	"points-service/internal/model"
	"points-service/internal/repository"
)

type stubGateway struct {
	mu        sync.Mutex
	sessions  map[string]*gateway.Session
	nextID    int
	createErr error
}

func newStubGateway() *stubGateway {
	return &stubGateway{sessions: make(map[string]*gateway.Session)}
}

func (g *stubGateway) CreateSession(_ context.Context, params gateway.CreateSessionParams) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	sess := &gateway.Session{
		ID:            fmt.Sprintf("sess_%d", g.nextID),
		URL:           fmt.Sprintf("https://pay.example/checkout/sess_%d", g.nextID),
		PaymentStatus: gateway.PaymentStatusUnpaid,
		Metadata:      params.Metadata,
	}
	g.sessions[sess.ID] = sess
	return sess, nil
}

func (g *stubGateway) RetrieveSession(_ context.Context, id string) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	copied := *sess
	return &copied, nil
}

// markPaid flips a session to paid, creating it first if the provider
// knows about a session we never opened.
func (g *stubGateway) markPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[id]
	if !ok {
		sess = &gateway.Session{ID: id}
		g.sessions[id] = sess
	}
	sess.PaymentStatus = gateway.PaymentStatusPaid
}

type testEnv struct {
	svc          *Service
	gw           *stubGateway
	db           *gorm.DB
	transactions *repository.TransactionRepository
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := logrus.New()
	log.SetOutput(io.Discard)

	gw := newStubGateway()
	balances := repository.NewBalanceRepository(db, log)
	transactions := repository.NewTransactionRepository(db, log)
	orders := repository.NewOrderRepository(db, log)
	svc := NewService(db, balances, transactions, orders, gw, catalog.Default(), config.GatewayConfig{
		SuccessURL: "https://app.example/points/success",
		CancelURL:  "https://app.example/points/cancel",
	}, log)

	return &testEnv{svc: svc, gw: gw, db: db, transactions: transactions}
}

func (e *testEnv) requireReconciled(t *testing.T, userID uint) {
	t.Helper()
	balance, err := e.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	sum, err := e.transactions.SumByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, balance, sum, "balance must equal the sum of ledger amounts")
}

func TestCheckoutCreatesPendingOrder(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	res, err := env.svc.Checkout(ctx, 1, "medium")
	require.NoError(t, err)
	require.NotEmpty(t, res.RedirectURL)
	require.NotEmpty(t, res.OrderReference)

	var order model.PaymentOrder
	require.NoError(t, env.db.Where("reference = ?", res.OrderReference).First(&order).Error)
	require.Equal(t, model.OrderPending, order.Status)
	require.Equal(t, uint(1), order.UserID)
	require.Equal(t, int64(250), order.PointsPurchased)
	require.Equal(t, int64(2000), order.AmountCents)
	require.NotEmpty(t, order.ExternalSessionID)

	// No points move at checkout time
	balance, err := env.svc.Balance(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestCheckoutUnknownPackage(t *testing.T) {
	env := setup(t)

	_, err := env.svc.Checkout(context.Background(), 1, "mega")
	require.ErrorIs(t, err, catalog.ErrInvalidPackage)

	var count int64
	require.NoError(t, env.db.Model(&model.PaymentOrder{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCheckoutGatewayUnavailable(t *testing.T) {
	env := setup(t)
	env.gw.createErr = fmt.Errorf("%w: dial tcp: connection refused", gateway.ErrUnavailable)

	_, err := env.svc.Checkout(context.Background(), 1, "small")
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	// Nothing persisted, safe to retry
	var count int64
	require.NoError(t, env.db.Model(&model.PaymentOrder{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestVerifyUnpaidMutatesNothing(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	res, err := env.svc.Checkout(ctx, 7, "medium")
	require.NoError(t, err)

	var order model.PaymentOrder
	require.NoError(t, env.db.Where("reference = ?", res.OrderReference).First(&order).Error)

	vr, err := env.svc.Verify(ctx, order.ExternalSessionID)
	require.NoError(t, err)
	require.False(t, vr.Verified)

	require.NoError(t, env.db.First(&order, order.ID).Error)
	require.Equal(t, model.OrderPending, order.Status)

	balance, err := env.svc.Balance(ctx, 7)
	require.NoError(t, err)
	require.Zero(t, balance)

	var txCount int64
	require.NoError(t, env.db.Model(&model.PointTransaction{}).Count(&txCount).Error)
	require.Zero(t, txCount)
}

func TestVerifyPaidCreditsExactlyOnce(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	res, err := env.svc.Checkout(ctx, 3, "medium")
	require.NoError(t, err)

	var order model.PaymentOrder
	require.NoError(t, env.db.Where("reference = ?", res.OrderReference).First(&order).Error)
	env.gw.markPaid(order.ExternalSessionID)

	vr, err := env.svc.Verify(ctx, order.ExternalSessionID)
	require.NoError(t, err)
	require.True(t, vr.Verified)
	require.False(t, vr.AlreadyProcessed)
	require.Equal(t, int64(250), vr.PointsAwarded)

	balance, err := env.svc.Balance(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, int64(250), balance)

	require.NoError(t, env.db.First(&order, order.ID).Error)
	require.Equal(t, model.OrderCompleted, order.Status)
	require.NotNil(t, order.CompletedAt)

	var txs []model.PointTransaction
	require.NoError(t, env.db.Where("user_id = ?", 3).Find(&txs).Error)
	require.Len(t, txs, 1)
	require.Equal(t, int64(250), txs[0].Amount)
	require.Equal(t, model.TransactionPurchase, txs[0].Type)
	require.NotNil(t, txs[0].OrderID)
	require.Equal(t, order.ID, *txs[0].OrderID)
	require.Equal(t, int64(250), txs[0].BalanceAfter)

	// Second delivery of the same confirmation credits nothing
	vr, err = env.svc.Verify(ctx, order.ExternalSessionID)
	require.NoError(t, err)
	require.True(t, vr.Verified)
	require.True(t, vr.AlreadyProcessed)
	require.Equal(t, int64(250), vr.PointsAwarded)

	balance, err = env.svc.Balance(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, int64(250), balance)

	var txCount int64
	require.NoError(t, env.db.Model(&model.PointTransaction{}).Where("user_id = ?", 3).Count(&txCount).Error)
	require.Equal(t, int64(1), txCount)

	env.requireReconciled(t, 3)
}

func TestVerifyMissingOrder(t *testing.T) {
	env := setup(t)

	// The provider knows the session and says paid, but we never
	// recorded an order for it.
	env.gw.markPaid("sess_missing")

	_, err := env.svc.Verify(context.Background(), "sess_missing")
	require.ErrorIs(t, err, ErrOrderNotFound)

	var txCount int64
	require.NoError(t, env.db.Model(&model.PointTransaction{}).Count(&txCount).Error)
	require.Zero(t, txCount)
}

func TestSpendInsufficientBalance(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Credit(ctx, 5, 3, model.TransactionAdminAdjustment, "starter grant", nil)
	require.NoError(t, err)

	ok, err := env.svc.Spend(ctx, 5, 5, model.TransactionContestEntry, "entry", nil)
	require.NoError(t, err)
	require.False(t, ok)

	balance, err := env.svc.Balance(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(3), balance)

	var txCount int64
	require.NoError(t, env.db.Model(&model.PointTransaction{}).Where("user_id = ?", 5).Count(&txCount).Error)
	require.Equal(t, int64(1), txCount, "failed spend must not append to the ledger")

	env.requireReconciled(t, 5)
}

func TestSpendDebitsAndRecordsContest(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Credit(ctx, 9, 10, model.TransactionAdminAdjustment, "starter grant", nil)
	require.NoError(t, err)

	contestID := "c1"
	ok, err := env.svc.Spend(ctx, 9, 5, model.TransactionContestEntry, "premium entry", &contestID)
	require.NoError(t, err)
	require.True(t, ok)

	balance, err := env.svc.Balance(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, int64(5), balance)

	var txs []model.PointTransaction
	require.NoError(t, env.db.Where("user_id = ? AND type = ?", 9, model.TransactionContestEntry).Find(&txs).Error)
	require.Len(t, txs, 1)
	require.Equal(t, int64(-5), txs[0].Amount)
	require.NotNil(t, txs[0].ContestID)
	require.Equal(t, "c1", *txs[0].ContestID)
	require.Equal(t, int64(5), txs[0].BalanceAfter)

	env.requireReconciled(t, 9)
}

func TestSpendRejectsNonPositiveAmounts(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Spend(ctx, 1, 0, model.TransactionContestEntry, "entry", nil)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.svc.Spend(ctx, 1, -5, model.TransactionContestEntry, "entry", nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Credit(ctx, 42, 50, model.TransactionAdminAdjustment, "starter grant", nil)
	require.NoError(t, err)

	const attempts = 20
	results := make(chan bool, attempts)
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := env.svc.Spend(ctx, 42, 10, model.TransactionContestEntry, "entry", nil)
			if err != nil {
				errs <- err
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	require.Equal(t, 5, succeeded, "exactly 50/10 spends can succeed")

	balance, err := env.svc.Balance(ctx, 42)
	require.NoError(t, err)
	require.Zero(t, balance)

	env.requireReconciled(t, 42)
}

func TestRefundRestoresBalance(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.svc.Credit(ctx, 11, 20, model.TransactionAdminAdjustment, "starter grant", nil)
	require.NoError(t, err)

	contestID := "c9"
	ok, err := env.svc.Spend(ctx, 11, 15, model.TransactionContestEntry, "entry", &contestID)
	require.NoError(t, err)
	require.True(t, ok)

	after, err := env.svc.Credit(ctx, 11, 15, model.TransactionRefund, "contest cancelled", &contestID)
	require.NoError(t, err)
	require.Equal(t, int64(20), after)

	env.requireReconciled(t, 11)
}
