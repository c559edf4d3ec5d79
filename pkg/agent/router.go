package agent

import (
	"fmt"
	"strings"
	"time"
)

// Variant identifies the specialized handler a turn is dispatched to.
type Variant string

const (
	VariantGmail     Variant = "gmail"
	VariantCalendar  Variant = "calendar"
	VariantWebsearch Variant = "websearch"
	VariantDirect    Variant = "direct"
)

var routeKeywords = map[Variant][]string{
	VariantGmail: {
		"email", "e-mail", "inbox", "gmail", "mail", "unread",
		"reply to", "archive", "compose",
	},
	VariantCalendar: {
		"calendar", "meeting", "appointment", "schedule a", "event",
		"remind me", "agenda", "reschedule", "invite",
	},
	VariantWebsearch: {
		"search", "look up", "google", "news", "weather", "latest",
		"find out", "what's happening", "current",
	},
}

// Route classifies the latest user message into exactly one variant, with
// direct as the catch-all. It is a pure function: total over its input and
// never touching shared state.
func Route(text string) Variant {
	t := strings.ToLower(text)
	for _, v := range []Variant{VariantGmail, VariantCalendar, VariantWebsearch} {
		for _, kw := range routeKeywords[v] {
			if strings.Contains(t, kw) {
				return v
			}
		}
	}
	return VariantDirect
}

// SystemPrompt returns the system prompt for a variant. The direct prompt
// carries the current date and time so the model can answer "what is today".
func SystemPrompt(v Variant, now time.Time) string {
	switch v {
	case VariantGmail:
		return "You are the email assistant. Summarize, triage and draft email on the user's behalf. Be brief and concrete."
	case VariantCalendar:
		return "You are the calendar assistant. Manage events, availability and reminders for the user. Be brief and concrete."
	case VariantWebsearch:
		return "You are the research assistant. Answer using current information from the web, citing dates and sources where relevant."
	default:
		return fmt.Sprintf(
			"You are the user's personal assistant. Current date and time: %s (%s, %s UTC). "+
				"Use this when asked about today, the current date or the current time.",
			now.UTC().Format("Monday, January 2, 2006"),
			now.UTC().Format("2006-01-02"),
			now.UTC().Format("15:04"),
		)
	}
}
