package tickets

import (
	"context"
	"log/slog"

	"omnichat-platform/internal/events"
)

const EventTicket = "ticket"

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Notification is the payload of a ticket event.
type Notification struct {
	Action   Action  `json:"action"`
	TicketID string  `json:"ticket_id"`
	Ticket   *Ticket `json:"ticket,omitempty"`
}

// AudienceScopes lists the UI audiences interested in t.
func AudienceScopes(t Ticket) []string {
	if t.CompanyID == "" {
		return nil
	}
	base := "company:" + t.CompanyID
	out := []string{base, base + ":status:" + string(t.Status)}
	if q := t.QueueID(); q != "" {
		out = append(out, base+":queue:"+q)
	}
	if u := t.UserID(); u != "" {
		out = append(out, base+":user:"+u)
	}
	return out
}

type notifier struct {
	pub events.Publisher
	log *slog.Logger
}

// send publishes to the union of the old and new audiences so a ticket that
// leaves a queue or user view disappears from it.
func (n notifier) send(ctx context.Context, action Action, old *Ticket, cur Ticket) {
	if n.pub == nil {
		return
	}
	scopes := AudienceScopes(cur)
	if old != nil {
		scopes = events.Union(AudienceScopes(*old), scopes)
	}
	payload := Notification{Action: action, TicketID: cur.ID}
	if action != ActionDelete {
		payload.Ticket = &cur
	}
	if err := n.pub.Publish(ctx, scopes, EventTicket, payload); err != nil {
		n.log.Warn("ticket notification failed", "ticket_id", cur.ID, "action", action, "err", err)
	}
}
