package queues

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rickar/cal/v2"
)

// Queue is a department: a routing target with an optional menu, an optional
// AI prompt and an optional business-hours table.
type Queue struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`
	Name      string `json:"name" db:"name"`

	Greeting          string `json:"greeting,omitempty" db:"greeting"`
	OutOfHoursMessage string `json:"out_of_hours_message,omitempty" db:"out_of_hours_message"`
	PromptID          string `json:"prompt_id,omitempty" db:"prompt_id"`

	Options  Options  `json:"options" db:"options"`
	Schedule Schedule `json:"schedule" db:"schedule"`
	Holidays Holidays `json:"holidays" db:"holidays"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Option is one numbered menu entry. Options are presented 1-based in order.
type Option struct {
	Title string `json:"title"`
	Reply string `json:"reply,omitempty"`
	// TransferQueueID moves the ticket to another department when chosen.
	TransferQueueID string `json:"transfer_queue_id,omitempty"`
}

// Shift is one open interval on a weekday, "HH:MM" in the tenant timezone.
type Shift struct {
	Weekday time.Weekday `json:"weekday"`
	Start   string       `json:"start"`
	End     string       `json:"end"`
}

// Holiday closes the department for a whole day every year.
type Holiday struct {
	Name  string     `json:"name"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

type Options []Option
type Schedule []Shift
type Holidays []Holiday

func (q Queue) HasMenu() bool { return len(q.Options) > 0 }

// Option returns the n-th option (1-based).
func (q Queue) Option(n int) (Option, bool) {
	if n < 1 || n > len(q.Options) {
		return Option{}, false
	}
	return q.Options[n-1], true
}

// IsOpen reports whether now, observed in loc, falls inside a shift and
// outside a holiday. A department without shifts is always open.
func (q Queue) IsOpen(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if len(q.Holidays) > 0 {
		bc := cal.NewBusinessCalendar()
		for _, h := range q.Holidays {
			bc.AddHoliday(&cal.Holiday{
				Name:  h.Name,
				Type:  cal.ObservancePublic,
				Month: h.Month,
				Day:   h.Day,
				Func:  cal.CalcDayOfMonth,
			})
		}
		if actual, _, _ := bc.IsHoliday(local); actual {
			return false
		}
	}

	if len(q.Schedule) == 0 {
		return true
	}
	minute := local.Hour()*60 + local.Minute()
	for _, s := range q.Schedule {
		if s.Weekday != local.Weekday() {
			continue
		}
		start, err1 := parseClock(s.Start)
		end, err2 := parseClock(s.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if minute >= start && minute < end {
			return true
		}
	}
	return false
}

// Menu renders the numbered option list.
func (q Queue) Menu() string {
	var b strings.Builder
	for i, o := range q.Options {
		fmt.Fprintf(&b, "[%d] - %s\n", i+1, o.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("queues: invalid clock %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate checks the shift table.
func (s Schedule) Validate() error {
	for _, sh := range s {
		start, err := parseClock(sh.Start)
		if err != nil {
			return err
		}
		end, err := parseClock(sh.End)
		if err != nil {
			return err
		}
		if end <= start {
			return fmt.Errorf("queues: shift %s-%s ends before it starts", sh.Start, sh.End)
		}
	}
	return nil
}

// KeywordRule activates a department when a message contains Phrase.
type KeywordRule struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`
	Phrase    string `json:"phrase" db:"phrase"`
	QueueID   string `json:"queue_id" db:"queue_id"`
}

// Matches is a case-insensitive substring match.
func (k KeywordRule) Matches(body string) bool {
	p := strings.TrimSpace(k.Phrase)
	if p == "" {
		return false
	}
	return strings.Contains(strings.ToLower(body), strings.ToLower(p))
}

func (o Options) Value() (driver.Value, error)  { return jsonValue(o) }
func (o *Options) Scan(src any) error           { return jsonScan(src, o) }
func (s Schedule) Value() (driver.Value, error) { return jsonValue(s) }
func (s *Schedule) Scan(src any) error          { return jsonScan(src, s) }
func (h Holidays) Value() (driver.Value, error) { return jsonValue(h) }
func (h *Holidays) Scan(src any) error          { return jsonScan(src, h) }

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("queues: unsupported jsonb source")
	}
}
