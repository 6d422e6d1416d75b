package campaigns

import (
	"strings"
	"time"
)

// TemplateData feeds Render.
type TemplateData struct {
	Name   string
	Number string
	// LocalNow is the tenant wall clock, used for {{greeting}}.
	LocalNow time.Time
	// Company variables, overridden by Contact variables on the same key.
	Company Variables
	Contact Variables
}

// Greeting is the time-of-day salutation for hour h.
func Greeting(h int) string {
	switch {
	case h >= 5 && h < 12:
		return "Good morning"
	case h >= 12 && h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// Render substitutes {{name}}, {{first_name}}, {{number}}, {{greeting}} and
// free-form {{key}} placeholders. Unknown placeholders are left as is.
func Render(tpl string, d TemplateData) string {
	first := ""
	if f := strings.Fields(d.Name); len(f) > 0 {
		first = f[0]
	}
	pairs := []string{
		"{{name}}", d.Name,
		"{{first_name}}", first,
		"{{number}}", d.Number,
		"{{greeting}}", Greeting(d.LocalNow.Hour()),
	}
	vars := make(map[string]string, len(d.Company)+len(d.Contact))
	for k, v := range d.Company {
		vars[k] = v
	}
	for k, v := range d.Contact {
		vars[k] = v
	}
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
