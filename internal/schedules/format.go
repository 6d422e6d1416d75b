package schedules

import (
	"fmt"
	"strings"
)

const clockLayout = "15:04"

// FormatBody renders the outgoing text for it.
func FormatBody(it Item) string {
	body := strings.TrimSpace(it.Body)
	switch it.ReminderKind {
	case KindStart:
		return "Starting now: " + body
	case KindReminder:
		start := it.SendAt.Add(ReminderLead)
		return fmt.Sprintf("Reminder: starts in %d minutes (%s).\n%s", int(ReminderLead.Minutes()), start.Format(clockLayout), body)
	default:
		return body
	}
}

// FormatCancellation renders the notice sent once when a reminder set is cancelled.
func FormatCancellation(root Item) string {
	return fmt.Sprintf("Cancelled: the meeting on %s at %s will not take place.\n%s",
		root.SendAt.Format("02/01/2006"), root.SendAt.Format(clockLayout), strings.TrimSpace(root.Body))
}
