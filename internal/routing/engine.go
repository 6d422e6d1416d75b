package routing

import (
	"context"
	"log/slog"
	"time"

	"omnichat-platform/internal/ai"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/queues"
	"omnichat-platform/internal/tenants"
	"omnichat-platform/internal/tickets"

	"github.com/patrickmn/go-cache"
)

// TicketRouter is the slice of the ticket state machine routing needs.
type TicketRouter interface {
	SetRouting(ctx context.Context, ticketID string, next tickets.RoutingState, change tickets.RoutingChange) (tickets.Ticket, error)
	Tracking(ctx context.Context, ticketID string) (tickets.Tracking, error)
}

type Messenger interface {
	SendToContact(ctx context.Context, companyID, connectionID, contactID, body string) error
}

type QueueLookup interface {
	Get(ctx context.Context, id string) (queues.Queue, error)
	ListByIDs(ctx context.Context, ids []string) ([]queues.Queue, error)
	ListKeywordRules(ctx context.Context, companyID string) ([]queues.KeywordRule, error)
}

type ConnectionLookup interface {
	Get(ctx context.Context, id string) (connections.Connection, error)
}

type CompanyLookup interface {
	Get(ctx context.Context, id string) (tenants.Company, error)
}

type PromptLookup interface {
	Get(ctx context.Context, companyID, id string) (ai.Prompt, error)
}

// InboundMessage is the routing-relevant view of one received message.
type InboundMessage struct {
	Body   string
	FromMe bool
	// History is prior conversation context for AI-assisted tickets.
	History []ai.Turn
}

type Config struct {
	// BotCooldown keeps the department menu from being re-sent on every
	// unrecognized reply.
	BotCooldown time.Duration
	// InvalidOptionTTL bounds how long repeated invalid menu replies stay quiet.
	InvalidOptionTTL time.Duration
}

type Deps struct {
	Tickets     TicketRouter
	Connections ConnectionLookup
	Queues      QueueLookup
	Companies   CompanyLookup
	Prompts     PromptLookup
	Completer   ai.Completer
	Messenger   Messenger
	Logger      *slog.Logger
}

// Engine decides the next automated step for pending tickets.
//
// Priority:
//  1. Keyword transfer
//  2. Department selection (auto-assign, menu, numeric choice)
//  3. Department bot options
//  4. AI assistant
//
// Tickets held by a department queue or an agent are left alone.
type Engine struct {
	tickets     TicketRouter
	connections ConnectionLookup
	queues      QueueLookup
	companies   CompanyLookup
	prompts     PromptLookup
	completer   ai.Completer
	messenger   Messenger
	log         *slog.Logger

	cooldown time.Duration
	// invalid suppresses repeated "invalid option" notices per ticket.
	invalid *cache.Cache
	clock   func() time.Time
}

const defaultInvalidOptionMessage = "Invalid option. Please reply with one of the numbers below."

func NewEngine(d Deps, cfg Config) *Engine {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.InvalidOptionTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Engine{
		tickets:     d.Tickets,
		connections: d.Connections,
		queues:      d.Queues,
		companies:   d.Companies,
		prompts:     d.Prompts,
		completer:   d.Completer,
		messenger:   d.Messenger,
		log:         log,
		cooldown:    cfg.BotCooldown,
		invalid:     cache.New(ttl, 2*ttl),
		clock:       time.Now,
	}
}
