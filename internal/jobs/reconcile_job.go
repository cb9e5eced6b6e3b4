package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/agencyhq/backend/internal/queue"
	"github.com/agencyhq/backend/internal/services/order"
	"go.uber.org/zap"
)

// ReconcileJob settles payments whose webhook never arrived
type ReconcileJob struct {
	orders Reconciler
	log    *zap.Logger
}

// NewReconcileJob creates a new reconciliation job handler
func NewReconcileJob(orders Reconciler, log *zap.Logger) *ReconcileJob {
	return &ReconcileJob{orders: orders, log: log}
}

// Handle verifies one reference. Outcomes that a retry cannot change are
// logged and acknowledged.
func (j *ReconcileJob) Handle(ctx context.Context, job *queue.Job) error {
	var payload ReconcilePayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	res, err := j.orders.ReconcilePayment(ctx, payload.Reference)
	switch {
	case err == nil:
		j.log.Info("payment reconciled", zap.String("reference", payload.Reference), zap.String("outcome", string(res.Outcome)))
		return nil
	case errors.Is(err, order.ErrStaleCallback), errors.Is(err, order.ErrUnknownReference):
		j.log.Warn("reconciliation skipped", zap.String("reference", payload.Reference), zap.Error(err))
		return nil
	case errors.Is(err, order.ErrAmountMismatch):
		j.log.Error("reconciliation found amount mismatch", zap.String("reference", payload.Reference), zap.Error(err))
		return nil
	}
	return err
}
