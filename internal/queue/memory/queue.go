// Package memory provides an in-process lane for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

// Lane is a bounded in-memory lane with context-aware operations. Pending
// job IDs flow through a channel; job records and registries live in maps.
type Lane struct {
	name    crawler.LaneName
	ids     crawler.IDGenerator
	clock   crawler.Clock
	pending chan string
	seq     atomic.Int64

	mu      sync.Mutex
	jobs    map[string]crawler.Job
	started map[string]time.Time
	failed  []string

	closeMu sync.RWMutex
	closed  bool
}

var _ crawler.Lane = (*Lane)(nil)

// NewLane constructs a lane with the provided capacity. ids and clock may be nil.
func NewLane(name crawler.LaneName, capacity int, ids crawler.IDGenerator, clock crawler.Clock) *Lane {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Lane{
		name:    name,
		ids:     ids,
		clock:   clock,
		pending: make(chan string, capacity),
		jobs:    make(map[string]crawler.Job),
		started: make(map[string]time.Time),
	}
}

// Name implements crawler.Lane.
func (l *Lane) Name() crawler.LaneName { return l.name }

func (l *Lane) now() time.Time {
	if l.clock == nil {
		return time.Now().UTC()
	}
	return l.clock.Now()
}

func (l *Lane) newID() (string, error) {
	if l.ids == nil {
		return string(l.name) + "-" + strconv.FormatInt(l.seq.Add(1), 10), nil
	}
	id, err := l.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("assign job id: %w", err)
	}
	return id, nil
}

// Enqueue stores the job and pushes its ID, or returns if the context ends.
func (l *Lane) Enqueue(ctx context.Context, job crawler.Job) (crawler.Job, error) {
	if job.ID == "" {
		id, err := l.newID()
		if err != nil {
			return crawler.Job{}, err
		}
		job.ID = id
	}
	job.Lane = l.name
	job.Status = crawler.JobStatusQueued
	job.EnqueuedAt = l.now()

	l.mu.Lock()
	l.jobs[job.ID] = job
	l.mu.Unlock()

	if err := l.push(ctx, job.ID); err != nil {
		l.mu.Lock()
		delete(l.jobs, job.ID)
		l.mu.Unlock()
		return crawler.Job{}, err
	}
	return job, nil
}

func (l *Lane) push(ctx context.Context, id string) error {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return crawler.ErrLaneClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case l.pending <- id:
		return nil
	}
}

// Dequeue pops the next job and records it as started.
func (l *Lane) Dequeue(ctx context.Context) (crawler.Job, error) {
	for {
		select {
		case <-ctx.Done():
			return crawler.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case id, ok := <-l.pending:
			if !ok {
				return crawler.Job{}, crawler.ErrLaneClosed
			}
			l.mu.Lock()
			job, found := l.jobs[id]
			if !found {
				l.mu.Unlock()
				continue
			}
			now := l.now()
			job.Status = crawler.JobStatusStarted
			job.StartedAt = &now
			l.jobs[id] = job
			l.started[id] = now.Add(job.Timeout)
			l.mu.Unlock()
			return job, nil
		}
	}
}

// Complete drops a started job; finished results are not retained in memory.
func (l *Lane) Complete(_ context.Context, job crawler.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.started[job.ID]; !ok {
		return fmt.Errorf("complete job %s: %w", job.ID, crawler.ErrJobNotStarted)
	}
	delete(l.started, job.ID)
	delete(l.jobs, job.ID)
	return nil
}

// Fail moves a started job to the failed registry.
func (l *Lane) Fail(_ context.Context, job crawler.Job, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.started[job.ID]; !ok {
		return fmt.Errorf("fail job %s: %w", job.ID, crawler.ErrJobNotStarted)
	}
	l.failLocked(job.ID, crawler.FailureReason(cause))
	return nil
}

func (l *Lane) failLocked(id, reason string) {
	job := l.jobs[id]
	now := l.now()
	job.Status = crawler.JobStatusFailed
	job.EndedAt = &now
	job.Error = reason
	l.jobs[id] = job
	delete(l.started, id)
	l.failed = append([]string{id}, l.failed...)
}

// Reap fails started jobs whose deadline passed.
func (l *Lane) Reap(_ context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reaped := 0
	for id, deadline := range l.started {
		if deadline.After(now) {
			continue
		}
		l.failLocked(id, "job exceeded timeout")
		reaped++
	}
	return reaped, nil
}

// Requeue moves a failed job back to pending.
func (l *Lane) Requeue(ctx context.Context, jobID string) (crawler.Job, error) {
	l.mu.Lock()
	idx := -1
	for i, id := range l.failed {
		if id == jobID {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return crawler.Job{}, fmt.Errorf("requeue job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	l.failed = append(l.failed[:idx], l.failed[idx+1:]...)
	job := l.jobs[jobID]
	job.Status = crawler.JobStatusQueued
	job.Error = ""
	job.StartedAt = nil
	job.EndedAt = nil
	job.EnqueuedAt = l.now()
	l.jobs[jobID] = job
	l.mu.Unlock()

	if err := l.push(ctx, jobID); err != nil {
		return crawler.Job{}, err
	}
	return job, nil
}

// Failed lists failed jobs, newest first.
func (l *Lane) Failed(_ context.Context, limit int) ([]crawler.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.failed
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]crawler.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.jobs[id])
	}
	return out, nil
}

// Stats reports registry sizes.
func (l *Lane) Stats(context.Context) (crawler.LaneStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return crawler.LaneStats{
		Lane:       l.name,
		Pending:    int64(len(l.pending)),
		Processing: int64(len(l.started)),
		Started:    int64(len(l.started)),
		Failed:     int64(len(l.failed)),
	}, nil
}

// Close closes the pending channel for shutdown.
func (l *Lane) Close() {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return
	}
	close(l.pending)
	l.closed = true
}
