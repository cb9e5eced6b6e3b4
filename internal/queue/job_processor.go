package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agencyhq/backend/internal/metrics"
	"go.uber.org/zap"
)

// JobHandler processes one job
type JobHandler func(ctx context.Context, job *Job) error

// JobProcessor processes jobs from queues
type JobProcessor struct {
	queue        *RedisQueue
	handlers     map[string]JobHandler
	workerCount  int
	pollTimeout  time.Duration
	jobTimeout   time.Duration
	log          *zap.Logger
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	processingMu sync.Mutex
	processing   map[string]bool
}

// NewJobProcessor creates a new JobProcessor
func NewJobProcessor(queue *RedisQueue, workerCount int, log *zap.Logger) *JobProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobProcessor{
		queue:       queue,
		handlers:    make(map[string]JobHandler),
		workerCount: workerCount,
		pollTimeout: time.Second,
		jobTimeout:  time.Minute,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		processing:  make(map[string]bool),
	}
}

// RegisterHandler registers a handler for a specific queue
func (p *JobProcessor) RegisterHandler(queueName string, handler JobHandler) {
	p.handlers[queueName] = handler
}

// Queues lists the queues with a registered handler
func (p *JobProcessor) Queues() []string {
	queues := make([]string, 0, len(p.handlers))
	for q := range p.handlers {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}

// Start starts the job processor
func (p *JobProcessor) Start() {
	queues := p.Queues()
	if len(queues) == 0 {
		p.log.Warn("job processor not started: no queues registered")
		return
	}

	p.log.Info("starting job processor", zap.Int("workers", p.workerCount), zap.Strings("queues", queues))
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, queues)
	}
}

// Stop waits for in-flight jobs to finish
func (p *JobProcessor) Stop() {
	p.log.Info("stopping job processor")
	p.cancel()
	p.wg.Wait()
	p.log.Info("job processor stopped")
}

func (p *JobProcessor) worker(id int, queues []string) {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(p.ctx, p.pollTimeout, queues...)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.log.Warn("error getting job", zap.Int("worker", id), zap.Error(err))
			time.Sleep(p.pollTimeout)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.ProcessJob(p.ctx, job); err != nil {
			p.log.Warn("job processing failed",
				zap.Int("worker", id),
				zap.String("queue", job.Queue),
				zap.String("job_id", job.ID),
				zap.Int("retry", job.RetryCount),
				zap.Error(err))
		}
	}
}

// ProcessJob processes a single job
func (p *JobProcessor) ProcessJob(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}

	// Bookkeeping must survive shutdown so a job is never lost mid-flight
	storeCtx := context.WithoutCancel(ctx)

	handler, ok := p.handlers[job.Queue]
	if !ok {
		err := fmt.Errorf("no handler registered for queue: %s", job.Queue)
		metrics.JobsProcessed.WithLabelValues(job.Queue, "unhandled").Inc()
		_ = p.queue.Fail(storeCtx, job, err)
		return err
	}

	p.markProcessing(job.ID, true)
	defer p.markProcessing(job.ID, false)

	jobCtx, cancel := context.WithTimeout(storeCtx, p.jobTimeout)
	defer cancel()

	if err := handler(jobCtx, job); err != nil {
		metrics.JobsProcessed.WithLabelValues(job.Queue, "error").Inc()
		if failErr := p.queue.Fail(storeCtx, job, err); failErr != nil {
			p.log.Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return fmt.Errorf("job processing failed: %w", err)
	}

	metrics.JobsProcessed.WithLabelValues(job.Queue, "ok").Inc()
	return p.queue.Complete(storeCtx, job)
}

// IsProcessing checks if a job is currently being processed
func (p *JobProcessor) IsProcessing(jobID string) bool {
	p.processingMu.Lock()
	defer p.processingMu.Unlock()
	return p.processing[jobID]
}

func (p *JobProcessor) markProcessing(jobID string, on bool) {
	p.processingMu.Lock()
	defer p.processingMu.Unlock()
	if on {
		p.processing[jobID] = true
	} else {
		delete(p.processing, jobID)
	}
}
