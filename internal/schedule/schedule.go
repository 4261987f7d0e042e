// Package schedule decides when a price reminder is due.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Everyday matches every weekday.
const Everyday = "Everyday"

// Entry is one user-configured reminder slot. Time is "HH:mm"; only the
// hour takes part in matching because the notifier is triggered hourly.
type Entry struct {
	Day  string `json:"day"`
	Time string `json:"time"`
}

// Default is used when a subscription is created without any entries.
var Default = []Entry{{Day: Everyday, Time: "09:00"}}

// Hour parses the hour component of the entry's time.
func (e Entry) Hour() (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(e.Time), ":", 2)
	if len(parts) == 0 || parts[0] == "" {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	if len(parts) == 2 {
		m, err := strconv.Atoi(parts[1])
		if err != nil || m < 0 || m > 59 {
			return 0, false
		}
	}
	return h, true
}

// MatchesDay reports whether the entry applies on weekday d.
func (e Entry) MatchesDay(d time.Weekday) bool {
	day := strings.TrimSpace(e.Day)
	return strings.EqualFold(day, Everyday) || strings.EqualFold(day, d.String())
}

// Matches reports whether the entry fires at now's weekday and hour.
func (e Entry) Matches(now time.Time) bool {
	h, ok := e.Hour()
	return ok && h == now.Hour() && e.MatchesDay(now.Weekday())
}

// SameDay reports whether a and b fall on the same calendar date in b's location.
func SameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// IsDue decides whether a reminder should be sent at now. A subscription
// notified earlier on now's calendar date is never due again that day unless
// force is set; force also bypasses the schedule match.
func IsDue(entries []Entry, lastNotifiedAt *time.Time, now time.Time, force bool) bool {
	if force {
		return true
	}
	if lastNotifiedAt != nil && SameDay(*lastNotifiedAt, now) {
		return false
	}
	for _, e := range entries {
		if e.Matches(now) {
			return true
		}
	}
	return false
}

// Validate rejects entries with unknown days or malformed times.
func Validate(entries []Entry) error {
	for i, e := range entries {
		if !validDay(e.Day) {
			return fmt.Errorf("schedule %d: unknown day %q", i, e.Day)
		}
		if _, ok := e.Hour(); !ok {
			return fmt.Errorf("schedule %d: invalid time %q", i, e.Time)
		}
	}
	return nil
}

func validDay(day string) bool {
	day = strings.TrimSpace(day)
	if strings.EqualFold(day, Everyday) {
		return true
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(day, d.String()) {
			return true
		}
	}
	return false
}
