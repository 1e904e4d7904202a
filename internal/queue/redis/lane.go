// Package redis implements durable lanes on Redis lists and sorted sets.
//
// Each lane owns five keys under the configured prefix:
//
//	<prefix>:lane:<name>:pending     list of job IDs waiting for a worker
//	<prefix>:lane:<name>:processing  list of job IDs claimed by a worker
//	<prefix>:lane:<name>:claimed     sorted set of claimed IDs not yet started, scored by claim time
//	<prefix>:lane:<name>:started     sorted set of started IDs scored by deadline
//	<prefix>:lane:<name>:failed      list of failed job IDs, newest first
//
// Job records are JSON strings at <prefix>:job:<id>.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

const (
	defaultPollInterval = time.Second
	defaultClaimGrace   = time.Minute
)

var errCorruptJob = errors.New("corrupt job record")

// claimScript moves the tail of pending onto processing and stamps the claim
// time in the same step, so a worker dying before the start write leaves a
// trace the reaper can find.
var claimScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if id then
	redis.call('ZADD', KEYS[3], ARGV[1], id)
end
return id
`)

// LaneConfig controls key naming and blocking behavior. ClaimGrace is how
// long a claimed job may go without starting before Reap fails it.
type LaneConfig struct {
	Prefix       string
	PollInterval time.Duration
	ClaimGrace   time.Duration
}

// Lane implements crawler.Lane on Redis.
type Lane struct {
	rdb   *redis.Client
	name  crawler.LaneName
	ids   crawler.IDGenerator
	clock crawler.Clock
	cfg   LaneConfig
}

var _ crawler.Lane = (*Lane)(nil)

// NewLane binds a lane name to a Redis client.
func NewLane(rdb *redis.Client, name crawler.LaneName, ids crawler.IDGenerator, clock crawler.Clock, cfg LaneConfig) *Lane {
	if cfg.Prefix == "" {
		cfg.Prefix = "pricecrawler"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ClaimGrace <= 0 {
		cfg.ClaimGrace = defaultClaimGrace
	}
	return &Lane{rdb: rdb, name: name, ids: ids, clock: clock, cfg: cfg}
}

// Name implements crawler.Lane.
func (l *Lane) Name() crawler.LaneName { return l.name }

func (l *Lane) laneKey(registry string) string {
	return l.cfg.Prefix + ":lane:" + string(l.name) + ":" + registry
}

func (l *Lane) jobKey(id string) string {
	return l.cfg.Prefix + ":job:" + id
}

func (l *Lane) now() time.Time {
	if l.clock == nil {
		return time.Now().UTC()
	}
	return l.clock.Now()
}

// Enqueue stores the job record and pushes its ID onto the pending list.
func (l *Lane) Enqueue(ctx context.Context, job crawler.Job) (crawler.Job, error) {
	if job.ID == "" {
		if l.ids == nil {
			return crawler.Job{}, errors.New("assign job id: no id generator")
		}
		id, err := l.ids.NewID()
		if err != nil {
			return crawler.Job{}, fmt.Errorf("assign job id: %w", err)
		}
		job.ID = id
	}
	job.Lane = l.name
	job.Status = crawler.JobStatusQueued
	job.EnqueuedAt = l.now()

	data, err := json.Marshal(job)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("encode job: %w", err)
	}
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.jobKey(job.ID), data, 0)
		pipe.LPush(ctx, l.laneKey("pending"), job.ID)
		return nil
	})
	if err != nil {
		return crawler.Job{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

// Dequeue blocks until a job is available, claims it, and records its deadline.
// Records that are gone are dropped and records that cannot be decoded are
// moved to the failed registry; neither stops the loop.
func (l *Lane) Dequeue(ctx context.Context) (crawler.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.Job{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		id, err := l.claim(ctx)
		if errors.Is(err, redis.Nil) {
			if err := l.wait(ctx); err != nil {
				return crawler.Job{}, err
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return crawler.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.Job{}, fmt.Errorf("dequeue: %w", err)
		}

		job, err := l.load(ctx, id)
		switch {
		case errors.Is(err, crawler.ErrJobNotFound):
			l.release(ctx, id)
			continue
		case errors.Is(err, errCorruptJob):
			if err := l.failCorrupt(ctx, id, err); err != nil {
				return crawler.Job{}, err
			}
			continue
		case err != nil:
			return crawler.Job{}, err
		}

		now := l.now()
		job.Status = crawler.JobStatusStarted
		job.StartedAt = &now
		deadline := now.Add(job.Timeout)
		if err := l.save(ctx, job, 0, func(pipe redis.Pipeliner) {
			pipe.ZAdd(ctx, l.laneKey("started"), redis.Z{Score: float64(deadline.Unix()), Member: id})
			pipe.ZRem(ctx, l.laneKey("claimed"), id)
		}); err != nil {
			// If this write fails too the claim stays behind for Reap.
			if ferr := l.markFailed(ctx, job, err.Error()); ferr != nil {
				return crawler.Job{}, errors.Join(err, ferr)
			}
			return crawler.Job{}, err
		}
		return job, nil
	}
}

func (l *Lane) claim(ctx context.Context) (string, error) {
	keys := []string{l.laneKey("pending"), l.laneKey("processing"), l.laneKey("claimed")}
	return claimScript.Run(ctx, l.rdb, keys, l.now().Unix()).Text()
}

func (l *Lane) wait(ctx context.Context) error {
	timer := time.NewTimer(l.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// release forgets a claimed ID whose record no longer exists.
func (l *Lane) release(ctx context.Context, id string) {
	_, _ = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, l.laneKey("processing"), 1, id)
		pipe.ZRem(ctx, l.laneKey("claimed"), id)
		return nil
	})
}

// failCorrupt replaces an undecodable record with a minimal failed one so
// operators can see the ID and requeue or drop it.
func (l *Lane) failCorrupt(ctx context.Context, id string, cause error) error {
	return l.markFailed(ctx, crawler.Job{ID: id, Lane: l.name}, cause.Error())
}

// Complete marks a started job finished and expires its record after the result TTL.
func (l *Lane) Complete(ctx context.Context, job crawler.Job) error {
	removed, err := l.rdb.ZRem(ctx, l.laneKey("started"), job.ID).Result()
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if removed == 0 {
		return fmt.Errorf("complete job %s: %w", job.ID, crawler.ErrJobNotStarted)
	}
	now := l.now()
	job.Status = crawler.JobStatusFinished
	job.EndedAt = &now
	return l.save(ctx, job, job.ResultTTL, func(pipe redis.Pipeliner) {
		pipe.LRem(ctx, l.laneKey("processing"), 1, job.ID)
	})
}

// Fail moves a started job to the failed registry.
func (l *Lane) Fail(ctx context.Context, job crawler.Job, cause error) error {
	removed, err := l.rdb.ZRem(ctx, l.laneKey("started"), job.ID).Result()
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if removed == 0 {
		return fmt.Errorf("fail job %s: %w", job.ID, crawler.ErrJobNotStarted)
	}
	return l.markFailed(ctx, job, crawler.FailureReason(cause))
}

func (l *Lane) markFailed(ctx context.Context, job crawler.Job, reason string) error {
	now := l.now()
	job.Status = crawler.JobStatusFailed
	job.EndedAt = &now
	job.Error = reason
	return l.save(ctx, job, 0, func(pipe redis.Pipeliner) {
		pipe.LRem(ctx, l.laneKey("processing"), 1, job.ID)
		pipe.ZRem(ctx, l.laneKey("claimed"), job.ID)
		pipe.ZRem(ctx, l.laneKey("started"), job.ID)
		pipe.LPush(ctx, l.laneKey("failed"), job.ID)
	})
}

// Reap fails started jobs whose deadline is at or before now, and claimed
// jobs that never started within the claim grace.
func (l *Lane) Reap(ctx context.Context, now time.Time) (int, error) {
	expired, err := l.rdb.ZRangeByScore(ctx, l.laneKey("started"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan started registry: %w", err)
	}
	reaped := 0
	for _, id := range expired {
		ok, err := l.reapOne(ctx, "started", id, "job exceeded timeout")
		if err != nil {
			return reaped, err
		}
		if ok {
			reaped++
		}
	}

	abandoned, err := l.rdb.ZRangeByScore(ctx, l.laneKey("claimed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Add(-l.cfg.ClaimGrace).Unix(), 10),
	}).Result()
	if err != nil {
		return reaped, fmt.Errorf("scan claimed registry: %w", err)
	}
	for _, id := range abandoned {
		ok, err := l.reapOne(ctx, "claimed", id, "job claimed but never started")
		if err != nil {
			return reaped, err
		}
		if ok {
			reaped++
		}
	}
	return reaped, nil
}

// reapOne removes id from registry and fails it. It reports false when
// another caller got there first or the record is gone.
func (l *Lane) reapOne(ctx context.Context, registry, id, reason string) (bool, error) {
	removed, err := l.rdb.ZRem(ctx, l.laneKey(registry), id).Result()
	if err != nil {
		return false, fmt.Errorf("reap job %s: %w", id, err)
	}
	if removed == 0 {
		return false, nil
	}
	job, err := l.load(ctx, id)
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		l.release(ctx, id)
		return false, nil
	case errors.Is(err, errCorruptJob):
		if err := l.failCorrupt(ctx, id, err); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}
	if err := l.markFailed(ctx, job, reason); err != nil {
		return false, err
	}
	return true, nil
}

// Requeue moves a failed job back to the pending list.
func (l *Lane) Requeue(ctx context.Context, jobID string) (crawler.Job, error) {
	removed, err := l.rdb.LRem(ctx, l.laneKey("failed"), 0, jobID).Result()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	if removed == 0 {
		return crawler.Job{}, fmt.Errorf("requeue job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job, err := l.load(ctx, jobID)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatusQueued
	job.Error = ""
	job.StartedAt = nil
	job.EndedAt = nil
	job.EnqueuedAt = l.now()
	if err := l.save(ctx, job, 0, func(pipe redis.Pipeliner) {
		pipe.LPush(ctx, l.laneKey("pending"), job.ID)
	}); err != nil {
		return crawler.Job{}, err
	}
	return job, nil
}

// Failed lists failed jobs, newest first.
func (l *Lane) Failed(ctx context.Context, limit int) ([]crawler.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := l.rdb.LRange(ctx, l.laneKey("failed"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	if len(ids) == 0 {
		return []crawler.Job{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.jobKey(id)
	}
	values, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load failed jobs: %w", err)
	}
	out := make([]crawler.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var job crawler.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		out = append(out, job)
	}
	return out, nil
}

// Stats reports registry sizes.
func (l *Lane) Stats(ctx context.Context) (crawler.LaneStats, error) {
	var pending, processing, started, failed *redis.IntCmd
	_, err := l.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, l.laneKey("pending"))
		processing = pipe.LLen(ctx, l.laneKey("processing"))
		started = pipe.ZCard(ctx, l.laneKey("started"))
		failed = pipe.LLen(ctx, l.laneKey("failed"))
		return nil
	})
	if err != nil {
		return crawler.LaneStats{}, fmt.Errorf("lane stats: %w", err)
	}
	return crawler.LaneStats{
		Lane:       l.name,
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Started:    started.Val(),
		Failed:     failed.Val(),
	}, nil
}

func (l *Lane) load(ctx context.Context, id string) (crawler.Job, error) {
	raw, err := l.rdb.Get(ctx, l.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return crawler.Job{}, fmt.Errorf("load job %s: %w", id, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var job crawler.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job %s: %w: %w", id, errCorruptJob, err)
	}
	return job, nil
}

// save writes the job record plus any registry moves in one transaction.
func (l *Lane) save(ctx context.Context, job crawler.Job, ttl time.Duration, moves func(redis.Pipeliner)) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.jobKey(job.ID), data, ttl)
		if moves != nil {
			moves(pipe)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
