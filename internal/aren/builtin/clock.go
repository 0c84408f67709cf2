package builtin

import (
	"context"
	"time"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

// Clock answers the time and date skills.
type Clock struct {
	now  func() time.Time
	date bool
}

// NewClock returns the time skill, or the date skill when date is set.
func NewClock(now func() time.Time, date bool) *Clock {
	return &Clock{now: now, date: date}
}

// Invoke implements skills.Invoker.
func (c *Clock) Invoke(_ context.Context, _ skills.Request) (*skills.Result, error) {
	t := c.now()
	if c.date {
		return fields("date", t.Format("Monday, 2 January 2006"), "iso", t.Format("2006-01-02")), nil
	}
	return fields("time", t.Format("3:04 PM"), "iso", t.Format("15:04:05")), nil
}

// PartOfDay buckets an hour into morning, afternoon, evening and night.
func PartOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}
