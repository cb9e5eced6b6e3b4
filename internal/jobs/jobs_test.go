package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agencyhq/backend/internal/models"
	"github.com/agencyhq/backend/internal/queue"
	"github.com/agencyhq/backend/internal/services/order"
	"github.com/agencyhq/backend/internal/services/payment"
	"github.com/agencyhq/backend/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type fakeMailer struct {
	mu      sync.Mutex
	enabled bool
	err     error
	sent    []string
}

func (m *fakeMailer) Enabled() bool { return m.enabled }

func (m *fakeMailer) SendOrderPaid(to, _ string, _ *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, "order_paid:"+to)
	return m.err
}

func (m *fakeMailer) SendWithdrawalProcessed(to, _ string, req *models.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, "withdrawal_"+string(req.Status)+":"+to)
	return m.err
}

type fakeReconciler struct {
	err  error
	refs []string
}

func (r *fakeReconciler) ReconcilePayment(_ context.Context, reference string) (*order.ConfirmResult, error) {
	r.refs = append(r.refs, reference)
	if r.err != nil {
		return nil, r.err
	}
	return &order.ConfirmResult{Outcome: order.OutcomeConfirmed}, nil
}

func newQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewRedisQueue(client, nil)
}

func jobFor(t *testing.T, q *queue.RedisQueue, queueName string) *queue.Job {
	t.Helper()
	job, err := q.Dequeue(context.Background(), 100*time.Millisecond, queueName)
	require.NoError(t, err)
	require.NotNil(t, job, "expected a job on %s", queueName)
	return job
}

func TestOrderPaidNotificationFlow(t *testing.T) {
	db := testutil.NewDB(t)
	q := newQueue(t)
	ctx := context.Background()
	mailer := &fakeMailer{enabled: true}

	u := testutil.CreateUser(t, db, "client@example.com", nil)
	o := &models.Order{
		UserID:          u.ID,
		ServiceID:       uuid.New(),
		ContactSnapshot: datatypes.NewJSONType(models.ContactData{FullName: "Ngozi", Email: "ngozi@example.com"}),
		TotalPrice:      100000,
		Currency:        models.CurrencyNGN,
		Status:          models.OrderStatusPaid,
	}
	require.NoError(t, db.Create(o).Error)

	NewDispatcher(q, nil).OrderPaid(ctx, o)

	p := queue.NewJobProcessor(q, 1, nil)
	RegisterAllJobHandlers(p, db, mailer, &fakeReconciler{}, nil)

	require.NoError(t, p.ProcessJob(ctx, jobFor(t, q, QueueOrderPaidNotification)))
	assert.Equal(t, []string{"order_paid:ngozi@example.com"}, mailer.sent)
}

func TestWithdrawalNotificationAndDisabledMailer(t *testing.T) {
	db := testutil.NewDB(t)
	q := newQueue(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, db, "ref@example.com", nil)
	req := &models.WithdrawalRequest{UserID: u.ID, Amount: 5000, PaymentMethod: "bank_transfer", Status: models.WithdrawalStatusApproved}
	require.NoError(t, db.Create(req).Error)

	d := NewDispatcher(q, nil)
	d.WithdrawalProcessed(ctx, req)
	d.WithdrawalProcessed(ctx, req)

	mailer := &fakeMailer{enabled: true}
	job := NewNotificationJob(db, mailer, zap.NewNop())
	require.NoError(t, job.HandleWithdrawalProcessed(ctx, jobFor(t, q, QueueWithdrawalNotification)))
	assert.Equal(t, []string{"withdrawal_approved:ref@example.com"}, mailer.sent)

	disabled := &fakeMailer{}
	job = NewNotificationJob(db, disabled, zap.NewNop())
	require.NoError(t, job.HandleWithdrawalProcessed(ctx, jobFor(t, q, QueueWithdrawalNotification)))
	assert.Empty(t, disabled.sent)
}

func TestNotificationMailerErrorIsRetried(t *testing.T) {
	db := testutil.NewDB(t)
	q := newQueue(t)
	ctx := context.Background()
	u := testutil.CreateUser(t, db, "client@example.com", nil)
	o := &models.Order{UserID: u.ID, ServiceID: uuid.New(), TotalPrice: 1, Currency: models.CurrencyNGN, Status: models.OrderStatusPaid}
	require.NoError(t, db.Create(o).Error)

	NewDispatcher(q, nil).OrderPaid(ctx, o)
	p := queue.NewJobProcessor(q, 1, nil)
	RegisterAllJobHandlers(p, db, &fakeMailer{enabled: true, err: errors.New("smtp down")}, &fakeReconciler{}, nil)

	assert.Error(t, p.ProcessJob(ctx, jobFor(t, q, QueueOrderPaidNotification)))
	stats, err := q.Stats(ctx, QueueOrderPaidNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)
}

func TestReconcileJob(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	d := NewDispatcher(q, nil)

	cases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"confirmed", nil, false},
		{"stale", order.ErrStaleCallback, false},
		{"unknown", order.ErrUnknownReference, false},
		{"mismatch", order.ErrAmountMismatch, false},
		{"gateway down", payment.ErrGatewayUnavailable, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.NoError(t, d.Reconcile(ctx, "ORD_REF"))
			r := &fakeReconciler{err: c.err}
			err := NewReconcileJob(r, zap.NewNop()).Handle(ctx, jobFor(t, q, QueuePaymentReconcile))
			if c.wantErr {
				assert.ErrorIs(t, err, c.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, []string{"ORD_REF"}, r.refs)
		})
	}
}

type fakeSessions struct{ purged int }

func (f *fakeSessions) PurgeExpired(context.Context) (int64, error) {
	f.purged++
	return 2, nil
}

type fakePending struct{ refs []string }

func (f *fakePending) StalePendingReferences(context.Context, time.Duration, int) ([]string, error) {
	return f.refs, nil
}

type fakeConfirmer struct{ calls int }

func (f *fakeConfirmer) ConfirmMatured(context.Context) (int, error) {
	f.calls++
	return 1, nil
}

func TestSchedulerTasks(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	sessions := &fakeSessions{}
	confirmer := &fakeConfirmer{}
	s := NewScheduler(sessions, &fakePending{refs: []string{"A", "B"}}, confirmer, NewDispatcher(q, nil),
		DefaultScheduleConfig(10*time.Minute), nil)

	require.NoError(t, s.PurgeSessions(ctx))
	require.NoError(t, s.EnqueueReconciliation(ctx))
	require.NoError(t, s.ConfirmCommissions(ctx))

	assert.Equal(t, 1, sessions.purged)
	assert.Equal(t, 1, confirmer.calls)
	stats, err := q.Stats(ctx, QueuePaymentReconcile)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Waiting)

	require.NoError(t, s.Start())
	s.Stop()
}
