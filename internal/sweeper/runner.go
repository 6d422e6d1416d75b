// Package sweeper runs the periodic background tasks of the worker process:
// schedule scans, timed transfers, rating expiry and campaign discovery.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one periodic sweep. Run returns how many items it acted on.
type Task struct {
	Name string
	// Schedule is a cron expression or descriptor such as "@every 15s".
	Schedule string
	Run      func(ctx context.Context) (int, error)
	// Timeout bounds a single run. Zero means the runner default.
	Timeout time.Duration
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(r *Runner) { r.cron = c }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// Runner schedules tasks on a cron engine. Overlapping runs of the same task
// are skipped.
type Runner struct {
	cron    *cron.Cron
	log     *slog.Logger
	metrics *taskMetrics
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	names  map[string]struct{}
}

var ErrDuplicateTask = errors.New("sweeper: task already registered")

func New(opts ...Option) *Runner {
	r := &Runner{
		log:     slog.Default(),
		metrics: globalTaskMetrics(),
		timeout: time.Minute,
		names:   map[string]struct{}{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.cron == nil {
		r.cron = cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Add registers t. Tasks only fire after Start.
func (r *Runner) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("sweeper: task name and run func are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[t.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	if _, err := r.cron.AddFunc(t.Schedule, func() { r.RunTask(r.ctx, t) }); err != nil {
		return fmt.Errorf("sweeper: schedule %s: %w", t.Name, err)
	}
	r.names[t.Name] = struct{}{}
	return nil
}

// RunTask executes t once with metrics and logging. Errors are logged, not
// returned: the next tick retries.
func (r *Runner) RunTask(ctx context.Context, t Task) int {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := r.metrics.recordRun(t.Name)
	n, err := t.Run(ctx)
	done(n, err)
	if err != nil {
		r.log.Error("sweep failed", "task", t.Name, "err", err)
		return n
	}
	if n > 0 {
		r.log.Info("sweep done", "task", t.Name, "items", n)
	}
	return n
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling, cancels in-flight runs and waits for them to return
// or for ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	r.cancel()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
