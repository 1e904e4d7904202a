package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	pubmem "github.com/JakeFAU/pricecompare-crawler/internal/publisher/memory"
	"github.com/JakeFAU/pricecompare-crawler/internal/queue/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func startedJob(t *testing.T, lane *memory.Lane) crawler.Job {
	t.Helper()
	ctx := context.Background()
	_, err := lane.Enqueue(ctx, crawler.NewFetchJob(
		crawler.FetchTask{URL: "http://prod.danawa.com/info/?pcode=1", Keyword: "ssd"},
		crawler.JobOptions{Timeout: time.Minute},
	))
	require.NoError(t, err)
	job, err := lane.Dequeue(ctx)
	require.NoError(t, err)
	return job
}

func TestProcessJobCompletesOnSuccess(t *testing.T) {
	t.Parallel()

	lane := memory.NewLane(crawler.FetchLane, 4, nil, nil)
	pub := pubmem.New()
	var sawDeadline bool
	handler := HandlerFunc(func(ctx context.Context, job crawler.Job) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})
	w := New(lane, handler, pub, nil, Config{NotifyTopic: "crawler-failures"}, zap.NewNop())

	w.processJob(context.Background(), startedJob(t, lane))

	require.True(t, sawDeadline, "job timeout should bound the handler context")
	stats, err := lane.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.LaneStats{Lane: crawler.FetchLane}, stats)
	require.Empty(t, pub.Messages())
}

func TestProcessJobTreatsSkipAsComplete(t *testing.T) {
	t.Parallel()

	lane := memory.NewLane(crawler.FetchLane, 4, nil, nil)
	handler := HandlerFunc(func(context.Context, crawler.Job) error {
		return crawler.ErrSkipped
	})
	w := New(lane, handler, nil, nil, Config{}, nil)

	w.processJob(context.Background(), startedJob(t, lane))

	stats, err := lane.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Started)
	require.Zero(t, stats.Failed)
}

func TestProcessJobFailsAndNotifies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lane := memory.NewLane(crawler.FetchLane, 4, nil, nil)
	pub := pubmem.New()
	clk := fixedClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	handler := HandlerFunc(func(context.Context, crawler.Job) error {
		return errors.New("connection reset")
	})
	w := New(lane, handler, pub, clk, Config{NotifyTopic: "crawler-failures"}, zap.NewNop())

	job := startedJob(t, lane)
	w.processJob(ctx, job)

	failed, err := lane.Failed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "connection reset", failed[0].Error)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawler-failures", msgs[0].Topic)
	notice, ok := msgs[0].Payload.(crawler.FailureNotice)
	require.True(t, ok)
	require.Equal(t, job.ID, notice.JobID)
	require.Equal(t, crawler.FetchLane, notice.Lane)
	require.Equal(t, job.Key(), notice.Key)
	require.Equal(t, "connection reset", notice.Error)
	require.Equal(t, clk.now, notice.FailedAt)
}

func TestProcessJobWithoutTopicSkipsNotice(t *testing.T) {
	t.Parallel()

	lane := memory.NewLane(crawler.ReviewLane, 4, nil, nil)
	pub := pubmem.New()
	handler := HandlerFunc(func(context.Context, crawler.Job) error {
		return errors.New("boom")
	})
	w := New(lane, handler, pub, nil, Config{}, nil)

	w.processJob(context.Background(), startedJob(t, lane))

	require.Empty(t, pub.Messages())
	stats, err := lane.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Failed)
}

func TestProcessJobLeavesInterruptedJobStarted(t *testing.T) {
	t.Parallel()

	lane := memory.NewLane(crawler.FetchLane, 4, nil, nil)
	job := startedJob(t, lane)
	ctx, cancel := context.WithCancel(context.Background())
	handler := HandlerFunc(func(hctx context.Context, _ crawler.Job) error {
		cancel()
		<-hctx.Done()
		return hctx.Err()
	})
	w := New(lane, handler, nil, nil, Config{}, nil)

	w.processJob(ctx, job)

	stats, err := lane.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Started)
	require.Zero(t, stats.Failed)
}

func TestRunDrainsUntilLaneCloses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lane := memory.NewLane(crawler.FetchLane, 4, nil, nil)
	for _, url := range []string{"http://a", "http://b", "http://c"} {
		_, err := lane.Enqueue(ctx, crawler.NewFetchJob(crawler.FetchTask{URL: url, Keyword: "ssd"}, crawler.JobOptions{}))
		require.NoError(t, err)
	}
	lane.Close()

	var handled atomic.Int32
	w := New(lane, HandlerFunc(func(context.Context, crawler.Job) error {
		handled.Add(1)
		return nil
	}), nil, nil, Config{}, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after lane closed")
	}
	require.Equal(t, int32(3), handled.Load())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	lane := memory.NewLane(crawler.FetchLane, 4, nil, nil)
	w := New(lane, HandlerFunc(func(context.Context, crawler.Job) error { return nil }), nil, nil, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
