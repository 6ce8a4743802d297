package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"points-service/internal/config"
	"points-service/internal/points"
	"points-service/internal/repository"
)

const runTimeout = 60 * time.Second

// Verifier is the part of the points service the reconciler needs.
type Verifier interface {
	Verify(ctx context.Context, sessionID string) (*points.VerifyResult, error)
}

// Run periodically sweeps stale pending orders and re-verifies them
// against the gateway. A payment whose confirmation was lost (user never
// returned, webhook never landed) is picked up here; still-unpaid
// sessions simply stay pending, which is harmless.
func Run(
	ctx context.Context,
	verifier Verifier,
	orders *repository.OrderRepository,
	cfg config.ReconcileConfig,
	log *logrus.Logger,
) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping order reconciler")
			return
		case <-ticker.C:
			sweep(ctx, verifier, orders, cfg, log)
		}
	}
}

func sweep(
	ctx context.Context,
	verifier Verifier,
	orders *repository.OrderRepository,
	cfg config.ReconcileConfig,
	log *logrus.Logger,
) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	cutoff := time.Now().Add(-cfg.MinAge)

	var checked, credited int
	offset := 0

	for {
		batch, err := orders.ListPendingBefore(ctx, cutoff, cfg.BatchSize, offset)
		if err != nil {
			log.WithError(err).Error("failed to list pending orders")
			break
		}
		if len(batch) == 0 {
			break
		}

		for _, order := range batch {
			res, err := verifier.Verify(ctx, order.ExternalSessionID)
			checked++
			switch {
			case err == nil:
				if res.Verified && !res.AlreadyProcessed {
					credited++
					log.WithFields(logrus.Fields{
						"order":      order.Reference,
						"session_id": order.ExternalSessionID,
						"points":     res.PointsAwarded,
					}).Info("reconciled stale paid order")
				}
			case errors.Is(err, points.ErrOrderNotFound):
				// Cannot happen for an order we just read, but don't
				// let one bad row stop the sweep
				log.WithField("session_id", order.ExternalSessionID).Error("order vanished during reconciliation")
			default:
				log.WithError(err).WithField("session_id", order.ExternalSessionID).Warn("reconciliation check failed")
			}

			select {
			case <-ctx.Done():
				return
			default:
			}
		}

		offset += len(batch)
		if len(batch) < cfg.BatchSize {
			break
		}
	}

	if checked > 0 {
		log.WithFields(logrus.Fields{
			"checked":  checked,
			"credited": credited,
		}).Info("pending order sweep completed")
	}
}
