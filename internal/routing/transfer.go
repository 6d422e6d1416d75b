package routing

import (
	"context"
	"log/slog"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/queues"
	"omnichat-platform/internal/tickets"
)

type IdleTicketLister interface {
	ListIdlePending(ctx context.Context, connectionID string, idleSince time.Time) ([]tickets.Ticket, error)
}

type TimedTransferLister interface {
	ListTimedTransfers(ctx context.Context) ([]connections.Connection, error)
}

// TransferSweeper moves pending tickets that stayed without a department
// past their connection's TimeToTransfer into the transfer target.
type TransferSweeper struct {
	connections TimedTransferLister
	idle        IdleTicketLister
	tickets     TicketRouter
	queues      QueueLookup
	messenger   Messenger
	marker      Marker
	markerTTL   time.Duration
	log         *slog.Logger
	clock       func() time.Time
}

type TransferDeps struct {
	Connections TimedTransferLister
	Idle        IdleTicketLister
	Tickets     TicketRouter
	Queues      QueueLookup
	Messenger   Messenger
	Marker      Marker
	Logger      *slog.Logger
}

func NewTransferSweeper(d TransferDeps, markerTTL time.Duration) *TransferSweeper {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if markerTTL <= 0 {
		markerTTL = 30 * time.Second
	}
	marker := d.Marker
	if marker == nil {
		marker = NewMemoryMarker()
	}
	return &TransferSweeper{
		connections: d.Connections,
		idle:        d.Idle,
		tickets:     d.Tickets,
		queues:      d.Queues,
		messenger:   d.Messenger,
		marker:      marker,
		markerTTL:   markerTTL,
		log:         log,
		clock:       time.Now,
	}
}

// Sweep runs one pass and returns how many tickets were transferred.
// Per-ticket failures are logged and skipped.
func (s *TransferSweeper) Sweep(ctx context.Context) (int, error) {
	conns, err := s.connections.ListTimedTransfers(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock().UTC()
	moved := 0
	for _, conn := range conns {
		after := conn.TransferAfter()
		if after <= 0 {
			continue
		}
		list, err := s.idle.ListIdlePending(ctx, conn.ID, now.Add(-after))
		if err != nil {
			s.log.Error("transfer sweep list failed", "connection_id", conn.ID, "err", err)
			continue
		}
		for _, t := range list {
			if ctx.Err() != nil {
				return moved, ctx.Err()
			}
			ok, err := s.transfer(ctx, conn, t)
			if err != nil {
				s.log.Warn("timed transfer failed", "ticket_id", t.ID, "connection_id", conn.ID, "err", err)
				continue
			}
			if ok {
				moved++
			}
		}
	}
	return moved, nil
}

func (s *TransferSweeper) transfer(ctx context.Context, conn connections.Connection, t tickets.Ticket) (bool, error) {
	if t.QueueID() != "" || t.Status != tickets.StatusPending {
		return false, nil
	}
	key := "routing:transfer:" + t.ID
	got, err := s.marker.Acquire(ctx, key, s.markerTTL)
	if err != nil || !got {
		return false, err
	}
	ok, err := s.move(ctx, conn, t)
	if err != nil {
		// let the next sweep retry instead of waiting out the TTL
		if rerr := s.marker.Release(ctx, key); rerr != nil {
			s.log.Warn("transfer marker release failed", "ticket_id", t.ID, "err", rerr)
		}
	}
	return ok, err
}

func (s *TransferSweeper) move(ctx context.Context, conn connections.Connection, t tickets.Ticket) (bool, error) {
	target, err := s.queues.Get(ctx, conn.TransferQueueID)
	if apperr.IsNotFound(err) && conn.DefaultQueueID != "" {
		return s.set(ctx, t, tickets.Queued{QueueID: conn.DefaultQueueID}, tickets.RoutingChange{})
	}
	if err != nil {
		return false, err
	}

	if !target.HasMenu() {
		return s.set(ctx, t, tickets.Queued{QueueID: target.ID}, tickets.RoutingChange{})
	}
	ok, err := s.set(ctx, t, tickets.DepartmentBot{QueueID: target.ID}, tickets.RoutingChange{BotEngaged: true})
	if err != nil || !ok {
		return ok, err
	}
	s.greet(ctx, t, target)
	return true, nil
}

func (s *TransferSweeper) set(ctx context.Context, t tickets.Ticket, next tickets.RoutingState, change tickets.RoutingChange) (bool, error) {
	_, err := s.tickets.SetRouting(ctx, t.ID, next, change)
	if apperr.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Info("ticket transferred by idle time", "ticket_id", t.ID, "queue_id", tickets.QueueOf(next))
	return true, nil
}

func (s *TransferSweeper) greet(ctx context.Context, t tickets.Ticket, q queues.Queue) {
	if s.messenger == nil {
		return
	}
	if err := s.messenger.SendToContact(ctx, t.CompanyID, t.ConnectionID, t.ContactID, joinText(q.Greeting, q.Menu())); err != nil {
		s.log.Warn("transfer greeting failed", "ticket_id", t.ID, "err", err)
	}
}
