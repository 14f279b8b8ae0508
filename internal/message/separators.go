package message

import "time"

// Item is one entry of the sequence handed to the presentation layer:
// either a message or a synthetic date separator inserted immediately
// before the first message of a new calendar day.
type Item struct {
	Separator bool
	Date      time.Time
	Message   Message
}

// WithDateSeparators annotates a chronologically sorted message slice
// with exactly one separator per day transition. Messages without a
// timestamp share the zero day and get a single leading separator.
func WithDateSeparators(msgs []Message) []Item {
	items := make([]Item, 0, len(msgs))
	var lastDay string
	for _, m := range msgs {
		day := m.CreatedAt.UTC().Format("2006-01-02")
		if day != lastDay {
			items = append(items, Item{Separator: true, Date: m.CreatedAt})
			lastDay = day
		}
		items = append(items, Item{Message: m})
	}
	return items
}
