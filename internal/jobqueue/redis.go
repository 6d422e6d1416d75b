package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"omnichat-platform/internal/apperr"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig tunes consumer behavior.
type RedisConfig struct {
	Prefix       string
	MaxAttempts  int
	LeaseTTL     time.Duration
	PollInterval time.Duration
	RetryBase    time.Duration
	Concurrency  int
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.Prefix == "" {
		out.Prefix = "jobs"
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.LeaseTTL <= 0 {
		out.LeaseTTL = time.Minute
	}
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	if out.RetryBase <= 0 {
		out.RetryBase = 2 * time.Second
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	return out
}

// RedisQueue keeps, per topic:
//   - a hash per job with its fields
//   - a ZSET of delayed ids scored by run time (ms)
//   - a LIST of ids ready to run
//   - a ZSET of claimed ids scored by lease deadline (ms)
type RedisQueue struct {
	rdb   *redis.Client
	cfg   RedisConfig
	log   *slog.Logger
	clock func() time.Time
}

func NewRedisQueue(rdb *redis.Client, cfg RedisConfig, log *slog.Logger) (*RedisQueue, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisQueue{rdb: rdb, cfg: cfg.withDefaults(), log: log, clock: time.Now}, nil
}

type topicKeys struct {
	delayed, waiting, active string
	prefix                   string
}

func (k topicKeys) job(id string) string { return k.prefix + ":job:" + id }

func keysFor(prefix, topic string) topicKeys {
	base := prefix + ":{" + topic + "}"
	return topicKeys{
		prefix:  base,
		delayed: base + ":delayed",
		waiting: base + ":waiting",
		active:  base + ":active",
	}
}

var promoteScript = redis.NewScript(`
-- KEYS[1] = delayed zset
-- KEYS[2] = waiting list
-- KEYS[3] = active zset
-- ARGV[1] = now (ms)
-- ARGV[2] = batch limit
--
-- Moves due delayed jobs and jobs with expired leases to the waiting list.
local moved = 0
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
  moved = moved + 1
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('RPUSH', KEYS[2], id)
  moved = moved + 1
end
return moved
`)

var claimScript = redis.NewScript(`
-- KEYS[1] = waiting list
-- KEYS[2] = active zset
-- ARGV[1] = lease deadline (ms)
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

func (q *RedisQueue) Enqueue(ctx context.Context, topic string, payload any, opts Options) (string, error) {
	if topic == "" {
		return "", ErrTopicRequired
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("jobqueue: encode payload: %w", err)
	}
	k := keysFor(q.cfg.Prefix, topic)
	id := uuid.NewString()
	runAt := q.clock().UTC().Add(max(opts.Delay, 0))

	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k.job(id), map[string]any{
			"topic":    topic,
			"ref":      opts.Ref,
			"payload":  string(body),
			"attempts": 0,
			"run_at":   runAt.UnixMilli(),
		})
		if opts.Delay > 0 {
			p.ZAdd(ctx, k.delayed, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
		} else {
			p.RPush(ctx, k.waiting, id)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (q *RedisQueue) ListInFlight(ctx context.Context, topic string) ([]Job, error) {
	if topic == "" {
		return nil, ErrTopicRequired
	}
	k := keysFor(q.cfg.Prefix, topic)
	var delayed, waiting, active *redis.StringSliceCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		delayed = p.ZRange(ctx, k.delayed, 0, -1)
		waiting = p.LRange(ctx, k.waiting, 0, -1)
		active = p.ZRange(ctx, k.active, 0, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var ids []string
	for _, list := range [][]string{delayed.Val(), waiting.Val(), active.Val()} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, k.job(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, jobFromHash(id, fields))
	}
	return out, nil
}

func jobFromHash(id string, h map[string]string) Job {
	j := Job{ID: id, Topic: h["topic"], Ref: h["ref"]}
	if p := h["payload"]; p != "" {
		j.Payload = []byte(p)
	}
	j.Attempts, _ = strconv.Atoi(h["attempts"])
	if ms, err := strconv.ParseInt(h["run_at"], 10, 64); err == nil {
		j.RunAt = time.UnixMilli(ms).UTC()
	}
	return j
}

// Process runs cfg.Concurrency consumers for topic until ctx is done.
func (q *RedisQueue) Process(ctx context.Context, topic string, h Handler) error {
	if topic == "" {
		return ErrTopicRequired
	}
	if h == nil {
		return fmt.Errorf("jobqueue: handler is nil")
	}
	errCh := make(chan error, q.cfg.Concurrency)
	for i := 0; i < q.cfg.Concurrency; i++ {
		go func() { errCh <- q.consume(ctx, topic, h) }()
	}
	var first error
	for i := 0; i < q.cfg.Concurrency; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (q *RedisQueue) consume(ctx context.Context, topic string, h Handler) error {
	k := keysFor(q.cfg.Prefix, topic)
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		worked, err := q.step(ctx, k, h)
		if err != nil && ctx.Err() == nil {
			q.log.Error("job queue poll failed", "topic", topic, "err", err)
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// step promotes due jobs and runs at most one. It reports whether a job ran.
func (q *RedisQueue) step(ctx context.Context, k topicKeys, h Handler) (bool, error) {
	now := q.clock().UTC()
	if err := promoteScript.Run(ctx, q.rdb, []string{k.delayed, k.waiting, k.active}, now.UnixMilli(), 100).Err(); err != nil {
		return false, err
	}
	lease := now.Add(q.cfg.LeaseTTL).UnixMilli()
	id, err := claimScript.Run(ctx, q.rdb, []string{k.waiting, k.active}, lease).Text()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	fields, err := q.rdb.HGetAll(ctx, k.job(id)).Result()
	if err != nil {
		return true, err
	}
	if len(fields) == 0 {
		// Orphaned id; the job hash is gone.
		return true, q.rdb.ZRem(ctx, k.active, id).Err()
	}
	job := jobFromHash(id, fields)
	job.Attempts++

	if herr := h(ctx, job); herr != nil {
		return true, q.fail(ctx, k, job, herr)
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k.job(id))
		p.ZRem(ctx, k.active, id)
		return nil
	})
	return true, err
}

func (q *RedisQueue) fail(ctx context.Context, k topicKeys, job Job, cause error) error {
	if job.Attempts >= q.cfg.MaxAttempts {
		err := apperr.RetryExhausted("jobqueue."+job.Topic, job.Attempts, cause)
		q.log.Error("job dropped", "topic", job.Topic, "job_id", job.ID, "ref", job.Ref, "err", err)
		_, perr := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, k.job(job.ID))
			p.ZRem(ctx, k.active, job.ID)
			return nil
		})
		return perr
	}
	retryAt := q.clock().UTC().Add(Backoff(q.cfg.RetryBase, job.Attempts))
	q.log.Warn("job failed, retrying", "topic", job.Topic, "job_id", job.ID, "attempt", job.Attempts, "retry_at", retryAt, "err", cause)
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k.job(job.ID), "attempts", job.Attempts, "run_at", retryAt.UnixMilli())
		p.ZRem(ctx, k.active, job.ID)
		p.ZAdd(ctx, k.delayed, redis.Z{Score: float64(retryAt.UnixMilli()), Member: job.ID})
		return nil
	})
	return err
}
