package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agencyhq/backend/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultRetryCount is the number of retries before a job is parked in the failed list
	DefaultRetryCount = 3
	// DefaultTTL is how long job details are kept
	DefaultTTL = 24 * time.Hour
)

func jobKey(id string) string        { return "jobs:" + id }
func delayedKey(queue string) string { return "delayed:" + queue }
func failedKey(queue string) string  { return "failed:" + queue }

// RedisQueue stores jobs in Redis lists. Delayed jobs and retries wait in a
// sorted set scored by their run time.
type RedisQueue struct {
	client *redis.Client
	log    *zap.Logger
	now    func() time.Time
}

// NewRedisClient connects to Redis. The URL may be a bare host:port or a
// redis:// URL carrying credentials.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisQueue creates a new Redis queue
func NewRedisQueue(client *redis.Client, log *zap.Logger) *RedisQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisQueue{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

// Enqueue adds a job to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error) {
	job, err := q.newJob(queueName, payload, q.now(), opts)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, queueName, data)
	pipe.Set(ctx, jobKey(job.ID), data, DefaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to push job to queue: %w", err)
	}
	return job.ID, nil
}

// EnqueueIn adds a job that becomes visible after delay
func (q *RedisQueue) EnqueueIn(ctx context.Context, queueName string, payload interface{}, delay time.Duration, opts ...EnqueueOption) (string, error) {
	job, err := q.newJob(queueName, payload, q.now().Add(delay), opts)
	if err != nil {
		return "", err
	}
	if err := q.schedule(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *RedisQueue) newJob(queueName string, payload interface{}, runAt time.Time, opts []EnqueueOption) (*Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := q.now()
	job := &Job{
		ID:         uuid.New().String(),
		Queue:      queueName,
		Payload:    payloadBytes,
		Status:     JobStatusPending,
		MaxRetries: DefaultRetryCount,
		CreatedAt:  now,
		UpdatedAt:  now,
		RunAt:      runAt,
	}
	for _, opt := range opts {
		opt(job)
	}
	return job, nil
}

func (q *RedisQueue) schedule(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, delayedKey(job.Queue), &redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: data})
	pipe.Set(ctx, jobKey(job.ID), data, DefaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add job to delayed queue: %w", err)
	}
	return nil
}

// Dequeue waits up to timeout for a job from any of the queues. It returns
// nil, nil when nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration, queueNames ...string) (*Job, error) {
	for _, name := range queueNames {
		q.moveReadyDelayedJobs(ctx, name)
	}

	result, err := q.client.BRPop(ctx, timeout, queueNames...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job from queue: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected result format from BRPOP")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	job.Status = JobStatusProcessing
	job.UpdatedAt = q.now()
	q.store(ctx, &job)
	return &job, nil
}

// moveReadyDelayedJobs moves delayed jobs that are due to the main queue.
// ZREM decides which caller owns a job, so concurrent workers never double
// enqueue it.
func (q *RedisQueue) moveReadyDelayedJobs(ctx context.Context, queueName string) {
	jobs, err := q.client.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		q.log.Warn("error getting ready delayed jobs", zap.String("queue", queueName), zap.Error(err))
		return
	}

	for _, data := range jobs {
		removed, err := q.client.ZRem(ctx, delayedKey(queueName), data).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, queueName, data).Err(); err != nil {
			q.log.Error("error moving delayed job to main queue", zap.String("queue", queueName), zap.Error(err))
		}
	}
}

// Complete marks a job as completed
func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	job.Status = JobStatusCompleted
	job.UpdatedAt = q.now()
	return q.store(ctx, job)
}

// Fail records a failed attempt. The job is retried with exponential backoff
// until MaxRetries is reached, then parked in the failed list.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, jobErr error) error {
	job.UpdatedAt = q.now()
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = JobStatusPending
		job.RunAt = q.now().Add(calculateBackoff(job.RetryCount))
		return q.schedule(ctx, job)
	}

	job.Status = JobStatusFailed
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, failedKey(job.Queue), data)
	pipe.Set(ctx, jobKey(job.ID), data, DefaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to park job: %w", err)
	}
	q.log.Error("job failed permanently",
		zap.String("queue", job.Queue),
		zap.String("job_id", job.ID),
		zap.Int("attempts", job.RetryCount+1),
		zap.String("error", job.LastError))
	return nil
}

// Get returns the stored details of a job
func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to get job details: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Stats counts the jobs of a queue by state
func (q *RedisQueue) Stats(ctx context.Context, queueName string) (*QueueStats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, queueName)
	delayed := pipe.ZCard(ctx, delayedKey(queueName))
	failed := pipe.LLen(ctx, failedKey(queueName))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return &QueueStats{
		Queue:   queueName,
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

func (q *RedisQueue) store(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.Set(ctx, jobKey(job.ID), data, DefaultTTL).Err(); err != nil {
		q.log.Warn("failed to update job status", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	return nil
}
