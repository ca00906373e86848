package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobSink struct {
	mu   sync.Mutex
	jobs []RetryJob
	got  chan struct{}
}

func newJobSink() *jobSink {
	return &jobSink{got: make(chan struct{}, 16)}
}

func (s *jobSink) handle(_ context.Context, job RetryJob) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func (s *jobSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for retry job")
	}
}

func (s *jobSink) received() []RetryJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RetryJob(nil), s.jobs...)
}

func TestTimerScheduler_RunsAfterDelay(t *testing.T) {
	s := NewTimerScheduler()
	sink := newJobSink()
	s.Start(context.Background(), sink.handle)
	defer s.Stop()

	start := time.Now()
	require.NoError(t, s.Schedule(context.Background(), RetryJob{SubscriptionID: "sub-1", Attempt: 2}, 50*time.Millisecond))
	assert.Equal(t, 1, s.Pending())

	sink.wait(t)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, sink.received()[0].Attempt)
	assert.Equal(t, 0, s.Pending())
}

func TestTimerScheduler_StopDropsPending(t *testing.T) {
	s := NewTimerScheduler()
	sink := newJobSink()
	s.Start(context.Background(), sink.handle)

	require.NoError(t, s.Schedule(context.Background(), RetryJob{SubscriptionID: "sub-1"}, time.Hour))
	s.Stop()

	assert.Equal(t, 0, s.Pending())
	assert.ErrorIs(t, s.Schedule(context.Background(), RetryJob{}, time.Millisecond), ErrSchedulerStopped)
	assert.Empty(t, sink.received())
}

func TestTimerScheduler_RequiresStart(t *testing.T) {
	s := NewTimerScheduler()
	assert.ErrorIs(t, s.Schedule(context.Background(), RetryJob{}, time.Millisecond), ErrSchedulerNotStarted)
}

func setupRedisScheduler(t *testing.T) (*RedisScheduler, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRedisScheduler(client, 2, 10*time.Millisecond, logger), client
}

func TestRedisScheduler_DeliversDueJobs(t *testing.T) {
	s, _ := setupRedisScheduler(t)
	sink := newJobSink()
	s.Start(context.Background(), sink.handle)
	defer s.Stop()

	ctx := context.Background()
	job := RetryJob{
		OrganizationID: "org-1",
		SubscriptionID: "sub-1",
		Event:          "order.created",
		Data:           []byte(`{"order_id":"o-1"}`),
		Attempt:        2,
	}
	require.NoError(t, s.Schedule(ctx, job, 0))

	sink.wait(t)
	got := sink.received()[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "sub-1", got.SubscriptionID)
	assert.Equal(t, 2, got.Attempt)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(got.Data))

	depth, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestRedisScheduler_HoldsFutureJobs(t *testing.T) {
	s, client := setupRedisScheduler(t)
	sink := newJobSink()
	s.Start(context.Background(), sink.handle)
	defer s.Stop()

	ctx := context.Background()
	require.NoError(t, s.Schedule(ctx, RetryJob{SubscriptionID: "later"}, time.Hour))
	require.NoError(t, s.Schedule(ctx, RetryJob{SubscriptionID: "now"}, 0))

	sink.wait(t)
	assert.Never(t, func() bool { return len(sink.received()) > 1 }, 50*time.Millisecond, 10*time.Millisecond)

	received := sink.received()
	require.Len(t, received, 1)
	assert.Equal(t, "now", received[0].SubscriptionID)

	members, err := client.ZRange(ctx, RetryQueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members[0], `"later"`)
}

func TestRedisScheduler_IdenticalJobsStayDistinct(t *testing.T) {
	s, _ := setupRedisScheduler(t)
	ctx := context.Background()

	job := RetryJob{SubscriptionID: "sub-1", Attempt: 2}
	require.NoError(t, s.Schedule(ctx, job, time.Hour))
	require.NoError(t, s.Schedule(ctx, job, time.Hour))

	depth, err := s.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)
}

func TestRedisScheduler_StopWithoutStart(t *testing.T) {
	s, _ := setupRedisScheduler(t)
	assert.NotPanics(t, s.Stop)
}
