package notifications

import (
	"strings"
	"time"
)

// Notification kinds
const (
	KindInfo    = "info"
	KindCourse  = "course"
	KindPayment = "payment"
	KindSystem  = "system"
)

// Notification is one entry of the identity's inbox. Read is a
// session-scoped annotation owned by the Store; the backend value only seeds
// it on ReplaceAll.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Kind      string    `json:"type,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}

// Filters narrows the inbox. Unread and ReadOnly are mutually exclusive;
// when both are set Unread wins.
type Filters struct {
	Unread   bool   `json:"unread,omitempty"`
	ReadOnly bool   `json:"readOnly,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Search   string `json:"search,omitempty"`
}

// Filter returns the matching notifications, preserving order.
func Filter(items []Notification, f Filters) []Notification {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Notification, 0, len(items))
	for _, n := range items {
		switch {
		case f.Unread && n.Read:
			continue
		case !f.Unread && f.ReadOnly && !n.Read:
			continue
		case f.Kind != "" && !strings.EqualFold(n.Kind, f.Kind):
			continue
		case search != "" &&
			!strings.Contains(strings.ToLower(n.Title), search) &&
			!strings.Contains(strings.ToLower(n.Message), search):
			continue
		}
		out = append(out, n)
	}
	return out
}
