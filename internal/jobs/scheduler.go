package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const reconcileBatchSize = 100

// SessionPurger deletes expired checkout sessions
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PendingReferences lists payment references that never got a webhook
type PendingReferences interface {
	StalePendingReferences(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
}

// CommissionConfirmer releases held commissions
type CommissionConfirmer interface {
	ConfirmMatured(ctx context.Context) (int, error)
}

// ScheduleConfig sets the interval of each periodic task
type ScheduleConfig struct {
	PurgeEvery     time.Duration
	ReconcileEvery time.Duration
	ReconcileAfter time.Duration
	ConfirmEvery   time.Duration
}

// DefaultScheduleConfig returns the production intervals
func DefaultScheduleConfig(reconcileAfter time.Duration) ScheduleConfig {
	return ScheduleConfig{
		PurgeEvery:     15 * time.Minute,
		ReconcileEvery: 5 * time.Minute,
		ReconcileAfter: reconcileAfter,
		ConfirmEvery:   time.Hour,
	}
}

// Scheduler runs the periodic maintenance tasks
type Scheduler struct {
	scheduler   *gocron.Scheduler
	sessions    SessionPurger
	orders      PendingReferences
	commissions CommissionConfirmer
	dispatcher  *Dispatcher
	cfg         ScheduleConfig
	log         *zap.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(sessions SessionPurger, orders PendingReferences, commissions CommissionConfirmer, dispatcher *Dispatcher, cfg ScheduleConfig, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		scheduler:   gocron.NewScheduler(time.UTC),
		sessions:    sessions,
		orders:      orders,
		commissions: commissions,
		dispatcher:  dispatcher,
		cfg:         cfg,
		log:         log,
	}
}

// Start registers the periodic tasks and runs them in the background
func (s *Scheduler) Start() error {
	s.scheduler.SingletonModeAll()
	s.scheduler.WaitForScheduleAll()

	if _, err := s.scheduler.Every(s.cfg.PurgeEvery).Do(s.run("purge_sessions", s.PurgeSessions)); err != nil {
		return err
	}
	if _, err := s.scheduler.Every(s.cfg.ReconcileEvery).Do(s.run("enqueue_reconciliation", s.EnqueueReconciliation)); err != nil {
		return err
	}
	if _, err := s.scheduler.Every(s.cfg.ConfirmEvery).Do(s.run("confirm_commissions", s.ConfirmCommissions)); err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.scheduler.Jobs())))
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) run(name string, task func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := task(ctx); err != nil {
			s.log.Error("scheduled task failed", zap.String("task", name), zap.Error(err))
		}
	}
}

// PurgeSessions deletes expired checkout sessions
func (s *Scheduler) PurgeSessions(ctx context.Context) error {
	_, err := s.sessions.PurgeExpired(ctx)
	return err
}

// EnqueueReconciliation queues a gateway check for every pending reference
// older than ReconcileAfter
func (s *Scheduler) EnqueueReconciliation(ctx context.Context) error {
	refs, err := s.orders.StalePendingReferences(ctx, s.cfg.ReconcileAfter, reconcileBatchSize)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := s.dispatcher.Reconcile(ctx, ref); err != nil {
			return err
		}
	}
	if len(refs) > 0 {
		s.log.Info("queued payment reconciliation", zap.Int("references", len(refs)))
	}
	return nil
}

// ConfirmCommissions releases commissions whose hold period has passed
func (s *Scheduler) ConfirmCommissions(ctx context.Context) error {
	n, err := s.commissions.ConfirmMatured(ctx)
	if n > 0 {
		s.log.Info("confirmed matured commissions", zap.Int("count", n))
	}
	return err
}
