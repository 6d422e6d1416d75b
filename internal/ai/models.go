package ai

import (
	"strings"
	"time"
)

// Prompt configures an AI assistant for a department or connection.
type Prompt struct {
	ID           string  `json:"id" db:"id"`
	CompanyID    string  `json:"company_id" db:"company_id"`
	Name         string  `json:"name" db:"name"`
	Instructions string  `json:"instructions" db:"instructions"`
	Model        string  `json:"model" db:"model"`
	MaxTokens    int     `json:"max_tokens" db:"max_tokens"`
	Temperature  float64 `json:"temperature" db:"temperature"`
	// HandoffPhrase in a reply means the assistant wants a human.
	HandoffPhrase string `json:"handoff_phrase" db:"handoff_phrase"`
	// HistoryLimit caps the turns sent with each completion.
	HistoryLimit int `json:"history_limit" db:"history_limit"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WantsHandoff reports whether reply asks for a human agent.
func (p Prompt) WantsHandoff(reply string) bool {
	phrase := strings.TrimSpace(p.HandoffPhrase)
	if phrase == "" {
		return false
	}
	return strings.Contains(strings.ToLower(reply), strings.ToLower(phrase))
}

// Role of a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
