package tickets

import "fmt"

// RoutingState says who is handling a ticket. Each variant carries exactly
// the fields that make sense for it, so a bot flag without a department or a
// prompt without AI handling cannot be represented.
type RoutingState interface {
	kind() RoutingKind
}

type RoutingKind string

const (
	KindUnassigned    RoutingKind = "unassigned"
	KindMenuPending   RoutingKind = "menu_pending"
	KindDepartmentBot RoutingKind = "department_bot"
	KindAIAssisted    RoutingKind = "ai_assisted"
	KindQueued        RoutingKind = "queued"
	KindHumanAssigned RoutingKind = "human_assigned"
)

// Unassigned has no department. New and reopened tickets start here.
type Unassigned struct{}

// MenuPending waits for a numeric reply to the department menu.
type MenuPending struct{}

// DepartmentBot runs the department's option menu.
type DepartmentBot struct{ QueueID string }

// AIAssisted hands the conversation to a prompt. QueueID is empty when the
// prompt is the connection default.
type AIAssisted struct{ QueueID, PromptID string }

// Queued waits in a department for an agent.
type Queued struct{ QueueID string }

// HumanAssigned is handled by an agent.
type HumanAssigned struct{ QueueID, UserID string }

func (Unassigned) kind() RoutingKind    { return KindUnassigned }
func (MenuPending) kind() RoutingKind   { return KindMenuPending }
func (DepartmentBot) kind() RoutingKind { return KindDepartmentBot }
func (AIAssisted) kind() RoutingKind    { return KindAIAssisted }
func (Queued) kind() RoutingKind        { return KindQueued }
func (HumanAssigned) kind() RoutingKind { return KindHumanAssigned }

func KindOf(rs RoutingState) RoutingKind {
	if rs == nil {
		return KindUnassigned
	}
	return rs.kind()
}

func QueueOf(rs RoutingState) string {
	switch v := rs.(type) {
	case DepartmentBot:
		return v.QueueID
	case AIAssisted:
		return v.QueueID
	case Queued:
		return v.QueueID
	case HumanAssigned:
		return v.QueueID
	default:
		return ""
	}
}

func UserOf(rs RoutingState) string {
	if v, ok := rs.(HumanAssigned); ok {
		return v.UserID
	}
	return ""
}

func PromptOf(rs RoutingState) string {
	if v, ok := rs.(AIAssisted); ok {
		return v.PromptID
	}
	return ""
}

// ValidateRouting rejects variants missing their required fields.
func ValidateRouting(rs RoutingState) error {
	switch v := rs.(type) {
	case nil, Unassigned, MenuPending:
		return nil
	case DepartmentBot:
		if v.QueueID == "" {
			return fmt.Errorf("tickets: department bot requires a queue")
		}
	case AIAssisted:
		if v.PromptID == "" {
			return fmt.Errorf("tickets: ai routing requires a prompt")
		}
	case Queued:
		if v.QueueID == "" {
			return fmt.Errorf("tickets: queued routing requires a queue")
		}
	case HumanAssigned:
		if v.UserID == "" {
			return fmt.Errorf("tickets: human routing requires a user")
		}
	default:
		return fmt.Errorf("tickets: unknown routing state %T", rs)
	}
	return nil
}

// EncodeRouting flattens a state into its storage columns.
func EncodeRouting(rs RoutingState) (kind RoutingKind, queueID, userID, promptID string) {
	return KindOf(rs), QueueOf(rs), UserOf(rs), PromptOf(rs)
}

// DecodeRouting rebuilds a state from storage columns, rejecting rows that
// describe an illegal combination.
func DecodeRouting(kind RoutingKind, queueID, userID, promptID string) (RoutingState, error) {
	var rs RoutingState
	switch kind {
	case KindUnassigned, "":
		rs = Unassigned{}
	case KindMenuPending:
		rs = MenuPending{}
	case KindDepartmentBot:
		rs = DepartmentBot{QueueID: queueID}
	case KindAIAssisted:
		rs = AIAssisted{QueueID: queueID, PromptID: promptID}
	case KindQueued:
		rs = Queued{QueueID: queueID}
	case KindHumanAssigned:
		rs = HumanAssigned{QueueID: queueID, UserID: userID}
	default:
		return nil, fmt.Errorf("tickets: unknown routing kind %q", kind)
	}
	if err := ValidateRouting(rs); err != nil {
		return nil, err
	}
	return rs, nil
}
