package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Priya8975/webhook-relay/internal/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const RetryQueueKey = "webhook_retry_queue"

// RedisScheduler parks retries in a Redis sorted set scored by due time and
// polls due jobs into a worker pool. Retries survive a restart of the
// delivering process.
type RedisScheduler struct {
	client       *redis.Client
	numWorkers   int
	pollInterval time.Duration
	batchSize    int64
	logger       *slog.Logger
	now          func() time.Time

	pool   *worker.Pool[RetryJob]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisScheduler creates a scheduler over client. pollInterval bounds how
// late a due retry can start.
func NewRedisScheduler(client *redis.Client, numWorkers int, pollInterval time.Duration, logger *slog.Logger) *RedisScheduler {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &RedisScheduler{
		client:       client,
		numWorkers:   numWorkers,
		pollInterval: pollInterval,
		batchSize:    10,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *RedisScheduler) Schedule(ctx context.Context, job RetryJob, delay time.Duration) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling retry job: %w", err)
	}

	due := s.now().Add(delay)
	err = s.client.ZAdd(ctx, RetryQueueKey, redis.Z{
		Score:  float64(due.UnixMicro()),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing retry to redis: %w", err)
	}
	return nil
}

// Start begins the polling loop and the worker pool. It runs until ctx is
// cancelled or Stop is called. Handlers receive ctx itself, so Stop ends
// polling without cutting short retries that are already running.
func (s *RedisScheduler) Start(ctx context.Context, handle RetryHandler) {
	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.pool = worker.NewPool[RetryJob](s.numWorkers, func(_ context.Context, job RetryJob) {
		handle(ctx, job)
	}, s.logger)
	s.pool.Start(pollCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(pollCtx)
	}()
}

func (s *RedisScheduler) run(ctx context.Context) {
	s.logger.Info("retry scheduler started", "poll_interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll fetches a batch of due jobs and hands them to the pool.
func (s *RedisScheduler) poll(ctx context.Context) {
	now := float64(s.now().UnixMicro())

	results, err := s.client.ZRangeByScoreWithScores(ctx, RetryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatFloat(now),
		Count: s.batchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to poll retry queue", "error", err)
		}
		return
	}

	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}

		// ZRem returns 0 when another instance already claimed the job
		removed, err := s.client.ZRem(ctx, RetryQueueKey, member).Result()
		if err != nil {
			s.logger.Error("failed to claim retry job", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job RetryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			s.logger.Error("dropping malformed retry job", "error", err)
			continue
		}

		if !s.pool.Submit(ctx, job) {
			s.requeue(member, z.Score)
			return
		}
	}
}

// requeue puts a claimed job back when shutdown interrupts the hand-off.
func (s *RedisScheduler) requeue(member string, score float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.ZAdd(ctx, RetryQueueKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		s.logger.Error("failed to requeue retry job", "error", err)
	}
}

// Depth returns the number of retries waiting in Redis.
func (s *RedisScheduler) Depth(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, RetryQueueKey).Result()
}

// Stop ends polling, waits for running handlers and puts claimed jobs that
// never started back into Redis.
func (s *RedisScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.pool.Stop()

	// jobs claimed from Redis but never started go back for the next process
	score := float64(s.now().UnixMicro())
	for _, job := range s.pool.Remaining() {
		member, err := json.Marshal(job)
		if err != nil {
			continue
		}
		s.requeue(string(member), score)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
