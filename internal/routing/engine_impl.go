package routing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/queues"
	"omnichat-platform/internal/tickets"
)

// HandleInbound routes one inbound message for t. It returns a no-op
// decision when the ticket is not in an automated state.
func (e *Engine) HandleInbound(ctx context.Context, t tickets.Ticket, msg InboundMessage) (Decision, error) {
	if t.ID == "" {
		return Decision{}, errors.New("routing: ticket id required")
	}
	if msg.FromMe {
		return none(t.ID, "from_me"), nil
	}
	if t.Status != tickets.StatusPending || t.IsGroup {
		return none(t.ID, "not_pending"), nil
	}
	switch t.Routing.(type) {
	case tickets.Queued, tickets.HumanAssigned:
		return none(t.ID, "waiting_for_agent"), nil
	}

	conn, err := e.connections.Get(ctx, t.ConnectionID)
	if err != nil {
		return Decision{}, err
	}

	// 1) Keyword transfer
	if d, matched, err := e.keywordTransfer(ctx, t, conn, msg); err != nil || matched {
		return d, err
	}

	switch rs := t.Routing.(type) {
	case tickets.MenuPending:
		return e.handleMenuChoice(ctx, t, conn, msg)
	case tickets.DepartmentBot:
		return e.handleBotOption(ctx, t, conn, rs, msg)
	case tickets.AIAssisted:
		return e.handleAI(ctx, t, conn, rs, msg)
	default:
		return e.handleUnassigned(ctx, t, conn, msg)
	}
}

func (e *Engine) keywordTransfer(ctx context.Context, t tickets.Ticket, conn connections.Connection, msg InboundMessage) (Decision, bool, error) {
	rules, err := e.queues.ListKeywordRules(ctx, t.CompanyID)
	if err != nil {
		return Decision{}, false, err
	}
	for _, r := range rules {
		if !r.Matches(msg.Body) || r.QueueID == t.QueueID() {
			continue
		}
		q, err := e.queues.Get(ctx, r.QueueID)
		if apperr.IsNotFound(err) {
			e.log.Warn("keyword rule targets missing queue", "rule_id", r.ID, "queue_id", r.QueueID)
			continue
		}
		if err != nil {
			return Decision{}, false, err
		}
		d, err := e.applyDepartment(ctx, t, conn, q, msg, true)
		if err != nil {
			return Decision{}, true, err
		}
		if d.Reason == "" {
			d.Reason = "keyword:" + r.Phrase
		}
		return d, true, nil
	}
	return Decision{}, false, nil
}

func (e *Engine) handleUnassigned(ctx context.Context, t tickets.Ticket, conn connections.Connection, msg InboundMessage) (Decision, error) {
	depts, err := e.queues.ListByIDs(ctx, conn.QueueIDs)
	if err != nil {
		return Decision{}, err
	}
	switch len(depts) {
	case 0:
		if conn.PromptID == "" {
			return none(t.ID, "no_departments"), nil
		}
		next := tickets.AIAssisted{PromptID: conn.PromptID}
		updated, ok, err := e.move(ctx, t, next, tickets.RoutingChange{})
		if err != nil || !ok {
			return none(t.ID, "ticket_taken"), err
		}
		return e.handleAI(ctx, updated, conn, next, msg)
	case 1:
		return e.applyDepartment(ctx, t, conn, depts[0], msg, true)
	default:
		if _, ok, err := e.move(ctx, t, tickets.MenuPending{}, tickets.RoutingChange{}); err != nil || !ok {
			return none(t.ID, "ticket_taken"), err
		}
		e.say(ctx, t, joinText(conn.GreetingMessage, departmentMenu(depts)))
		return Decision{TicketID: t.ID, Action: ActionMenu, Reason: "department_menu"}, nil
	}
}

func (e *Engine) handleMenuChoice(ctx context.Context, t tickets.Ticket, conn connections.Connection, msg InboundMessage) (Decision, error) {
	depts, err := e.queues.ListByIDs(ctx, conn.QueueIDs)
	if err != nil {
		return Decision{}, err
	}
	n, ok := parseChoice(msg.Body)
	if !ok || n > len(depts) {
		return e.invalidOption(ctx, t, conn, departmentMenu(depts)), nil
	}
	e.invalid.Delete(t.ID)
	return e.applyDepartment(ctx, t, conn, depts[n-1], msg, false)
}

func (e *Engine) handleBotOption(ctx context.Context, t tickets.Ticket, conn connections.Connection, rs tickets.DepartmentBot, msg InboundMessage) (Decision, error) {
	q, err := e.queues.Get(ctx, rs.QueueID)
	if err != nil {
		return Decision{}, err
	}
	n, ok := parseChoice(msg.Body)
	opt, valid := q.Option(n)
	if !ok || !valid {
		tr, err := e.tickets.Tracking(ctx, t.ID)
		if err != nil {
			return Decision{}, err
		}
		if tr.BotCoolingDown(e.clock().UTC(), e.botCooldown(ctx, t.CompanyID), t.BotUseCount) {
			return none(t.ID, "bot_cooldown"), nil
		}
		if _, ok, err := e.move(ctx, t, rs, tickets.RoutingChange{BotEngaged: true}); err != nil || !ok {
			return none(t.ID, "ticket_taken"), err
		}
		e.say(ctx, t, joinText(q.Greeting, q.Menu()))
		return Decision{TicketID: t.ID, Action: ActionMenu, QueueID: q.ID, Reason: "bot_reengaged"}, nil
	}

	if opt.TransferQueueID != "" && opt.TransferQueueID != q.ID {
		target, err := e.queues.Get(ctx, opt.TransferQueueID)
		if err != nil {
			return Decision{}, err
		}
		e.say(ctx, t, opt.Reply)
		return e.applyDepartment(ctx, t, conn, target, msg, false)
	}

	if _, ok, err := e.move(ctx, t, tickets.Queued{QueueID: q.ID}, tickets.RoutingChange{}); err != nil || !ok {
		return none(t.ID, "ticket_taken"), err
	}
	e.say(ctx, t, opt.Reply)
	return Decision{TicketID: t.ID, Action: ActionBotReply, QueueID: q.ID, Reason: "option:" + strconv.Itoa(n)}, nil
}

func (e *Engine) handleAI(ctx context.Context, t tickets.Ticket, conn connections.Connection, rs tickets.AIAssisted, msg InboundMessage) (Decision, error) {
	if e.completer == nil || e.prompts == nil {
		return none(t.ID, "ai_unavailable"), nil
	}
	p, err := e.prompts.Get(ctx, t.CompanyID, rs.PromptID)
	if err != nil {
		return Decision{}, err
	}
	reply, err := e.completer.Complete(ctx, p, msg.History, msg.Body)
	if err != nil {
		return Decision{}, err
	}
	e.say(ctx, t, reply)

	if !p.WantsHandoff(reply) {
		return Decision{TicketID: t.ID, Action: ActionAIReply, QueueID: rs.QueueID}, nil
	}
	queueID := rs.QueueID
	if queueID == "" {
		queueID = conn.DefaultQueueID
	}
	if queueID == "" {
		return Decision{TicketID: t.ID, Action: ActionAIReply, Reason: "handoff_without_queue"}, nil
	}
	if _, ok, err := e.move(ctx, t, tickets.Queued{QueueID: queueID}, tickets.RoutingChange{}); err != nil || !ok {
		return none(t.ID, "ticket_taken"), err
	}
	return Decision{TicketID: t.ID, Action: ActionHandoff, QueueID: queueID, Reason: "ai_handoff"}, nil
}

// applyDepartment assigns q to t. When runAI is set and q is AI-backed, the
// triggering message is answered right away instead of waiting for the next one.
func (e *Engine) applyDepartment(ctx context.Context, t tickets.Ticket, conn connections.Connection, q queues.Queue, msg InboundMessage, runAI bool) (Decision, error) {
	loc, err := e.location(ctx, t.CompanyID)
	if err != nil {
		return Decision{}, err
	}
	if !q.IsOpen(e.clock(), loc) {
		if _, ok, err := e.move(ctx, t, tickets.Unassigned{}, tickets.RoutingChange{}); err != nil || !ok {
			return none(t.ID, "ticket_taken"), err
		}
		text := q.OutOfHoursMessage
		if text == "" {
			text = conn.OutOfHoursMessage
		}
		e.say(ctx, t, text)
		return Decision{TicketID: t.ID, Action: ActionOutOfHours, QueueID: q.ID}, nil
	}

	switch {
	case q.HasMenu():
		if _, ok, err := e.move(ctx, t, tickets.DepartmentBot{QueueID: q.ID}, tickets.RoutingChange{BotEngaged: true}); err != nil || !ok {
			return none(t.ID, "ticket_taken"), err
		}
		e.say(ctx, t, joinText(q.Greeting, q.Menu()))
		return Decision{TicketID: t.ID, Action: ActionMenu, QueueID: q.ID}, nil
	case q.PromptID != "":
		next := tickets.AIAssisted{QueueID: q.ID, PromptID: q.PromptID}
		updated, ok, err := e.move(ctx, t, next, tickets.RoutingChange{BotEngaged: true})
		if err != nil || !ok {
			return none(t.ID, "ticket_taken"), err
		}
		if runAI {
			return e.handleAI(ctx, updated, conn, next, msg)
		}
		e.say(ctx, t, q.Greeting)
		return Decision{TicketID: t.ID, Action: ActionAssign, QueueID: q.ID}, nil
	default:
		if _, ok, err := e.move(ctx, t, tickets.Queued{QueueID: q.ID}, tickets.RoutingChange{}); err != nil || !ok {
			return none(t.ID, "ticket_taken"), err
		}
		e.say(ctx, t, q.Greeting)
		return Decision{TicketID: t.ID, Action: ActionAssign, QueueID: q.ID}, nil
	}
}

func (e *Engine) invalidOption(ctx context.Context, t tickets.Ticket, conn connections.Connection, menu string) Decision {
	if _, seen := e.invalid.Get(t.ID); seen {
		return Decision{TicketID: t.ID, Action: ActionInvalidOption, Reason: "suppressed"}
	}
	e.invalid.SetDefault(t.ID, struct{}{})
	text := conn.InvalidOptionMessage
	if text == "" {
		text = defaultInvalidOptionMessage
	}
	e.say(ctx, t, joinText(text, menu))
	return Decision{TicketID: t.ID, Action: ActionInvalidOption}
}

// move persists a routing change. ok is false when the ticket left the
// pending state in the meantime.
func (e *Engine) move(ctx context.Context, t tickets.Ticket, next tickets.RoutingState, change tickets.RoutingChange) (tickets.Ticket, bool, error) {
	updated, err := e.tickets.SetRouting(ctx, t.ID, next, change)
	if apperr.IsConflict(err) {
		e.log.Info("routing skipped, ticket changed", "ticket_id", t.ID, "err", err)
		return tickets.Ticket{}, false, nil
	}
	if err != nil {
		return tickets.Ticket{}, false, err
	}
	return updated, true, nil
}

func (e *Engine) say(ctx context.Context, t tickets.Ticket, body string) {
	if strings.TrimSpace(body) == "" || e.messenger == nil {
		return
	}
	if err := e.messenger.SendToContact(ctx, t.CompanyID, t.ConnectionID, t.ContactID, body); err != nil {
		e.log.Warn("routing reply failed", "ticket_id", t.ID, "err", err)
	}
}

func (e *Engine) location(ctx context.Context, companyID string) (*time.Location, error) {
	if e.companies == nil {
		return time.UTC, nil
	}
	c, err := e.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return c.Location(), nil
}

// botCooldown is the company's cooldown, or the engine default.
func (e *Engine) botCooldown(ctx context.Context, companyID string) time.Duration {
	if e.companies == nil {
		return e.cooldown
	}
	c, err := e.companies.Get(ctx, companyID)
	if err != nil {
		e.log.Warn("company lookup failed, using default bot cooldown", "company_id", companyID, "err", err)
		return e.cooldown
	}
	return c.BotCooldown(e.cooldown)
}

func departmentMenu(depts []queues.Queue) string {
	var b strings.Builder
	for i, q := range depts {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[" + strconv.Itoa(i+1) + "] - " + q.Name)
	}
	return b.String()
}

// parseChoice reads a positive menu number, tolerating surrounding spaces.
func parseChoice(body string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func joinText(parts ...string) string {
	var out []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n\n")
}
