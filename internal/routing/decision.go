package routing

// Decision is the outcome of routing one inbound message.
//
// It is informational: the engine has already persisted the routing state and
// sent any replies by the time it returns. Callers use it for logs/metrics.
type Decision struct {
	TicketID string `json:"ticket_id"`
	Action   Action `json:"action"`
	QueueID  string `json:"queue_id,omitempty"`

	// Reason is optional and intended for internal logs/metrics.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionNone          Action = "none"
	ActionAssign        Action = "assign"
	ActionMenu          Action = "menu"
	ActionInvalidOption Action = "invalid_option"
	ActionOutOfHours    Action = "out_of_hours"
	ActionBotReply      Action = "bot_reply"
	ActionAIReply       Action = "ai_reply"
	ActionHandoff       Action = "handoff"
)

func none(ticketID, reason string) Decision {
	return Decision{TicketID: ticketID, Action: ActionNone, Reason: reason}
}
