package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sebastian/internal/alarm"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Message is one alarm notification, rendered once and sent on every channel.
type Message struct {
	AlarmID      string    `json:"alarm_id"`
	Title        string    `json:"title"`
	TimeLabel    string    `json:"time_label"`
	NextFireTime string    `json:"next_fire_time"`
	URL          string    `json:"url,omitempty"`
	Repeating    bool      `json:"repeating"`
	LeadMinutes  int       `json:"lead_minutes"`
	Text         string    `json:"text"`
	At           time.Time `json:"at"`
}

// MessageFor renders the notification for a due alarm.
func MessageFor(a alarm.Alarm, now time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ %s (%s)", a.Title, a.TimeLabel)
	if a.LeadMinutes > 0 {
		fmt.Fprintf(&b, " in %d min", a.LeadMinutes)
	}
	if a.URL != "" {
		b.WriteString("\n")
		b.WriteString(a.URL)
	}
	return Message{
		AlarmID:      a.ID,
		Title:        a.Title,
		TimeLabel:    a.TimeLabel,
		NextFireTime: a.NextFireTime,
		URL:          a.URL,
		Repeating:    a.IsRepeating(),
		LeadMinutes:  a.LeadMinutes,
		Text:         b.String(),
		At:           now,
	}
}

// Deliverer sends a message over one channel.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

// DedupStore persists suppress-until marks across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// DeliveryEvent is published on the event bus after each delivery outcome.
type DeliveryEvent struct {
	Channel string    `json:"channel"`
	AlarmID string    `json:"alarm_id"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
