package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue. Intended for tests and single-node dev.
type MemoryQueue struct {
	mu          sync.Mutex
	jobs        map[string]map[string]*memJob
	maxAttempts int
	retryBase   time.Duration
	poll        time.Duration
	log         *slog.Logger
	clock       func() time.Time
	failEnqueue error
}

type memJob struct {
	job    Job
	active bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:        map[string]map[string]*memJob{},
		maxAttempts: 3,
		retryBase:   time.Second,
		poll:        10 * time.Millisecond,
		log:         slog.Default(),
		clock:       time.Now,
	}
}

func (q *MemoryQueue) SetClock(clock func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clock = clock
}

// FailEnqueue makes every subsequent Enqueue return err (nil restores).
func (q *MemoryQueue) FailEnqueue(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failEnqueue = err
}

func (q *MemoryQueue) Enqueue(ctx context.Context, topic string, payload any, opts Options) (string, error) {
	if topic == "" {
		return "", ErrTopicRequired
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("jobqueue: encode payload: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failEnqueue != nil {
		return "", q.failEnqueue
	}
	id := uuid.NewString()
	if q.jobs[topic] == nil {
		q.jobs[topic] = map[string]*memJob{}
	}
	q.jobs[topic][id] = &memJob{job: Job{
		ID:      id,
		Topic:   topic,
		Ref:     opts.Ref,
		Payload: body,
		RunAt:   q.clock().UTC().Add(max(opts.Delay, 0)),
	}}
	return id, nil
}

func (q *MemoryQueue) ListInFlight(ctx context.Context, topic string) ([]Job, error) {
	if topic == "" {
		return nil, ErrTopicRequired
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(topic), nil
}

// Jobs is ListInFlight without the error, for assertions.
func (q *MemoryQueue) Jobs(topic string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot(topic)
}

func (q *MemoryQueue) snapshot(topic string) []Job {
	out := make([]Job, 0, len(q.jobs[topic]))
	for _, mj := range q.jobs[topic] {
		out = append(out, mj.job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RunAt.Before(out[j].RunAt)
	})
	return out
}

func (q *MemoryQueue) claim(topic string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()
	var best *memJob
	for _, mj := range q.jobs[topic] {
		if mj.active || mj.job.RunAt.After(now) {
			continue
		}
		if best == nil || mj.job.RunAt.Before(best.job.RunAt) {
			best = mj
		}
	}
	if best == nil {
		return Job{}, false
	}
	best.active = true
	best.job.Attempts++
	return best.job, true
}

func (q *MemoryQueue) finish(job Job, herr error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mj, ok := q.jobs[job.Topic][job.ID]
	if !ok {
		return
	}
	if herr == nil {
		delete(q.jobs[job.Topic], job.ID)
		return
	}
	if job.Attempts >= q.maxAttempts {
		q.log.Error("job dropped", "topic", job.Topic, "job_id", job.ID, "ref", job.Ref,
			"err", apperr.RetryExhausted("jobqueue."+job.Topic, job.Attempts, herr))
		delete(q.jobs[job.Topic], job.ID)
		return
	}
	mj.active = false
	mj.job.RunAt = q.clock().UTC().Add(Backoff(q.retryBase, job.Attempts))
}

// RunDue runs every job of topic that is due now, in run order, and
// returns how many ran.
func (q *MemoryQueue) RunDue(ctx context.Context, topic string, h Handler) int {
	n := 0
	for {
		job, ok := q.claim(topic)
		if !ok {
			return n
		}
		q.finish(job, h(ctx, job))
		n++
	}
}

func (q *MemoryQueue) Process(ctx context.Context, topic string, h Handler) error {
	if topic == "" {
		return ErrTopicRequired
	}
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		q.RunDue(ctx, topic, h)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
