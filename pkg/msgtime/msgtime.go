// Package msgtime formats message timestamps the way chat lists show them.
package msgtime

import "time"

const (
	clockLayout     = "3:04 PM"
	dateLayout      = "01/02/2006"
	separatorLayout = "January 2, 2006"
)

// Formatter renders labels in a fixed location.
type Formatter struct {
	Location *time.Location
	// DateLayout is used for timestamps outside the calendar window.
	DateLayout string
}

// NewFormatter returns a Formatter for the named IANA zone. An empty or
// unknown name falls back to UTC.
func NewFormatter(zone string, layout string) Formatter {
	loc := time.UTC
	if zone != "" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		}
	}
	if layout == "" {
		layout = dateLayout
	}
	return Formatter{Location: loc, DateLayout: layout}
}

// Calendar labels t relative to now: "Today at 3:04 PM", "Yesterday at …",
// "Tomorrow at …", the weekday for the last six days, otherwise a date.
func (f Formatter) Calendar(t, now time.Time) string {
	t, now = f.in(t), f.in(now)
	clock := t.Format(clockLayout)
	switch days := dayDiff(t, now); {
	case days == 0:
		return "Today at " + clock
	case days == -1:
		return "Yesterday at " + clock
	case days == 1:
		return "Tomorrow at " + clock
	case days < -1 && days >= -6:
		return t.Weekday().String() + " at " + clock
	default:
		return t.Format(f.layout())
	}
}

// DateSeparator labels the day t falls on: "Today", "Yesterday", or the
// full date.
func (f Formatter) DateSeparator(t, now time.Time) string {
	t, now = f.in(t), f.in(now)
	switch dayDiff(t, now) {
	case 0:
		return "Today"
	case -1:
		return "Yesterday"
	default:
		return t.Format(separatorLayout)
	}
}

// SameDay reports whether a and b fall on the same calendar day.
func (f Formatter) SameDay(a, b time.Time) bool {
	return dayDiff(f.in(a), f.in(b)) == 0
}

// Calendar formats in UTC with the default date layout.
func Calendar(t, now time.Time) string {
	return Formatter{}.Calendar(t, now)
}

// DateSeparator formats in UTC.
func DateSeparator(t, now time.Time) string {
	return Formatter{}.DateSeparator(t, now)
}

func (f Formatter) in(t time.Time) time.Time {
	if f.Location == nil {
		return t.UTC()
	}
	return t.In(f.Location)
}

func (f Formatter) layout() string {
	if f.DateLayout == "" {
		return dateLayout
	}
	return f.DateLayout
}

// dayDiff counts calendar days from now's date to t's date.
func dayDiff(t, now time.Time) int {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	a := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	b := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}
