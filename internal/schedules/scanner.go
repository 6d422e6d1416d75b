package schedules

import (
	"context"
	"log/slog"
	"time"

	"omnichat-platform/internal/jobqueue"
)

// maxZoneOffset is the widest positive UTC offset in use (UTC+14). Items
// with a naive SendAt beyond UTC now + maxZoneOffset cannot be due anywhere.
const maxZoneOffset = 14 * time.Hour

type ScannerConfig struct {
	// Grace is added to every delivery delay.
	Grace     time.Duration
	BatchSize int
	// RequeueAfter bounds how long an item may stay QUEUED with no job in
	// flight before it is enqueued again.
	RequeueAfter time.Duration
}

// Scanner moves due PENDING items to QUEUED and enqueues their delivery.
type Scanner struct {
	repo      Repository
	companies CompanyLookup
	jobs      jobqueue.Queue
	cfg       ScannerConfig
	log       *slog.Logger
	clock     func() time.Time
}

func NewScanner(repo Repository, companies CompanyLookup, jobs jobqueue.Queue, cfg ScannerConfig, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.RequeueAfter <= 0 {
		cfg.RequeueAfter = 5 * time.Minute
	}
	return &Scanner{repo: repo, companies: companies, jobs: jobs, cfg: cfg, log: log, clock: time.Now}
}

// Sweep runs one pass and returns how many items were enqueued. Items left
// QUEUED longer than RequeueAfter with no job in flight (lost enqueue, job
// dropped after its last attempt) go back to PENDING and are enqueued again.
func (s *Scanner) Sweep(ctx context.Context) (int, error) {
	now := s.clock()
	candidates, err := s.repo.ListCandidates(ctx, WallClock(now, time.UTC).Add(maxZoneOffset), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	stale, err := s.repo.ListStaleQueued(ctx, now.UTC().Add(-s.cfg.RequeueAfter), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 && len(stale) == 0 {
		return 0, nil
	}
	inFlight, err := s.jobs.ListInFlight(ctx, TopicDeliver)
	if err != nil {
		return 0, err
	}
	refs := jobqueue.Refs(inFlight)
	candidates = append(candidates, s.requeueStale(ctx, stale, refs)...)

	locs := map[string]*time.Location{}
	enqueued := 0
	for _, it := range candidates {
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}
		loc, ok := locs[it.CompanyID]
		if !ok {
			c, err := s.companies.Get(ctx, it.CompanyID)
			if err != nil {
				s.log.Error("schedule sweep company lookup failed", "company_id", it.CompanyID, "err", err)
				continue
			}
			loc = c.Location()
			locs[it.CompanyID] = loc
		}
		nowLocal := WallClock(now, loc)
		if !it.Due(nowLocal) {
			continue
		}
		if _, busy := refs[it.ID]; busy {
			continue
		}
		if s.enqueue(ctx, it, nowLocal) {
			enqueued++
		}
	}
	return enqueued, nil
}

func (s *Scanner) requeueStale(ctx context.Context, stale []Item, refs map[string]struct{}) []Item {
	var out []Item
	for _, it := range stale {
		if _, busy := refs[it.ID]; busy {
			continue
		}
		ok, err := s.repo.RevertPending(ctx, it.ID)
		if err != nil {
			s.log.Warn("schedule requeue failed", "item_id", it.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		s.log.Warn("schedule item had no job in flight, requeueing", "item_id", it.ID, "job_id", it.JobID)
		it.Status = StatusPending
		it.JobID = ""
		out = append(out, it)
	}
	return out
}

func (s *Scanner) enqueue(ctx context.Context, it Item, nowLocal time.Time) bool {
	won, err := s.repo.MarkQueued(ctx, it.ID)
	if err != nil {
		s.log.Warn("schedule mark queued failed", "item_id", it.ID, "err", err)
		return false
	}
	if !won {
		return false
	}
	delay := max(it.SendAt.Sub(nowLocal), 0) + s.cfg.Grace
	jobID, err := s.jobs.Enqueue(ctx, TopicDeliver, DeliverPayload{ItemID: it.ID}, jobqueue.Options{Delay: delay, Ref: it.ID})
	if err != nil {
		s.log.Error("schedule enqueue failed", "item_id", it.ID, "err", err)
		if _, rerr := s.repo.RevertPending(ctx, it.ID); rerr != nil {
			s.log.Error("schedule revert failed", "item_id", it.ID, "err", rerr)
		}
		return false
	}
	if err := s.repo.SetJobID(ctx, it.ID, jobID); err != nil {
		s.log.Warn("schedule job id not stored", "item_id", it.ID, "job_id", jobID, "err", err)
	}
	return true
}
