package tickets

import (
	"encoding/json"
	"strings"
	"time"
)

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
	ChannelWebchat   Channel = "webchat"
	ChannelSMS       Channel = "sms"
	ChannelTelegram  Channel = "telegram"
	ChannelEmail     Channel = "email"
)

func ParseChannel(v string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(v)))
	switch c {
	case ChannelWhatsApp, ChannelFacebook, ChannelInstagram, ChannelWebchat, ChannelSMS, ChannelTelegram, ChannelEmail:
		return c, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusGroup   Status = "group"
)

// Active reports whether a ticket in this status owns its identity key.
// Group threads are kept single like pending/open ones.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusOpen || s == StatusGroup
}

// Ticket is the durable conversation thread for one contact on one channel.
type Ticket struct {
	ID        string
	CompanyID string
	ContactID string
	Channel   Channel
	// ConnectionID is the channel session the thread is bound to. It is part
	// of the identity only for WhatsApp.
	ConnectionID string
	Status       Status
	Routing      RoutingState

	UnreadCount    int
	LastMessage    string
	IsGroup        bool
	BotUseCount    int
	AwaitingRating bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Ticket) QueueID() string          { return QueueOf(t.Routing) }
func (t Ticket) UserID() string           { return UserOf(t.Routing) }
func (t Ticket) PromptID() string         { return PromptOf(t.Routing) }
func (t Ticket) ChatbotEnabled() bool     { return KindOf(t.Routing) == KindDepartmentBot }
func (t Ticket) IntegrationEnabled() bool { return KindOf(t.Routing) == KindAIAssisted }
func (t Ticket) IdentityKey() string      { return IdentityKeyFor(t.ContactID, t.Channel, t.ConnectionID) }

// IdentityKeyFor builds the uniqueness key for active tickets: WhatsApp
// threads are per (contact, connection), every other channel per (contact, channel).
func IdentityKeyFor(contactID string, ch Channel, connectionID string) string {
	if ch == ChannelWhatsApp {
		return "whatsapp:" + connectionID + ":" + contactID
	}
	return string(ch) + ":" + contactID
}

type ticketJSON struct {
	ID                 string      `json:"id"`
	CompanyID          string      `json:"company_id"`
	ContactID          string      `json:"contact_id"`
	Channel            Channel     `json:"channel"`
	ConnectionID       string      `json:"connection_id,omitempty"`
	Status             Status      `json:"status"`
	RoutingKind        RoutingKind `json:"routing"`
	QueueID            string      `json:"queue_id,omitempty"`
	UserID             string      `json:"user_id,omitempty"`
	PromptID           string      `json:"prompt_id,omitempty"`
	ChatbotEnabled     bool        `json:"chatbot"`
	IntegrationEnabled bool        `json:"integration"`
	UnreadCount        int         `json:"unread_count"`
	LastMessage        string      `json:"last_message"`
	IsGroup            bool        `json:"is_group"`
	BotUseCount        int         `json:"bot_use_count"`
	AwaitingRating     bool        `json:"awaiting_rating"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// MarshalJSON flattens the routing state into the queue/user/prompt fields UIs expect.
func (t Ticket) MarshalJSON() ([]byte, error) {
	return json.Marshal(ticketJSON{
		ID:                 t.ID,
		CompanyID:          t.CompanyID,
		ContactID:          t.ContactID,
		Channel:            t.Channel,
		ConnectionID:       t.ConnectionID,
		Status:             t.Status,
		RoutingKind:        KindOf(t.Routing),
		QueueID:            t.QueueID(),
		UserID:             t.UserID(),
		PromptID:           t.PromptID(),
		ChatbotEnabled:     t.ChatbotEnabled(),
		IntegrationEnabled: t.IntegrationEnabled(),
		UnreadCount:        t.UnreadCount,
		LastMessage:        t.LastMessage,
		IsGroup:            t.IsGroup,
		BotUseCount:        t.BotUseCount,
		AwaitingRating:     t.AwaitingRating,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	})
}
