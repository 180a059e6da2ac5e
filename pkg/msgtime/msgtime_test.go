package msgtime

import (
	"testing"
	"time"
)

var now = time.Date(2024, time.March, 14, 15, 30, 0, 0, time.UTC)

func TestCalendar(t *testing.T) {
	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2024, time.March, 14, 9, 5, 0, 0, time.UTC), "Today at 9:05 AM"},
		{time.Date(2024, time.March, 13, 23, 59, 0, 0, time.UTC), "Yesterday at 11:59 PM"},
		{time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC), "Tomorrow at 12:00 PM"},
		{time.Date(2024, time.March, 10, 8, 0, 0, 0, time.UTC), "Sunday at 8:00 AM"},
		{time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC), "03/01/2024"},
		{time.Date(2024, time.April, 1, 8, 0, 0, 0, time.UTC), "04/01/2024"},
	}
	for _, tc := range cases {
		if got := Calendar(tc.at, now); got != tc.want {
			t.Fatalf("Calendar(%s)=%q, want %q", tc.at, got, tc.want)
		}
	}
}

func TestDateSeparator(t *testing.T) {
	if got := DateSeparator(now.Add(-time.Hour), now); got != "Today" {
		t.Fatalf("DateSeparator=%q, want Today", got)
	}
	if got := DateSeparator(now.Add(-24*time.Hour), now); got != "Yesterday" {
		t.Fatalf("DateSeparator=%q, want Yesterday", got)
	}
	if got := DateSeparator(now.Add(-72*time.Hour), now); got != "March 11, 2024" {
		t.Fatalf("DateSeparator=%q, want March 11, 2024", got)
	}
}

func TestFormatterLocationShiftsDay(t *testing.T) {
	zone := time.FixedZone("UTC+10", 10*3600)
	f := Formatter{Location: zone, DateLayout: "2006-01-02"}
	at := time.Date(2024, time.March, 14, 15, 0, 0, 0, time.UTC)
	current := time.Date(2024, time.March, 14, 13, 0, 0, 0, time.UTC)
	// 01:00 and 23:00 local on different local days.
	if got := f.Calendar(at, current); got != "Tomorrow at 1:00 AM" {
		t.Fatalf("Calendar=%q, want Tomorrow at 1:00 AM", got)
	}
}

func TestNewFormatterUnknownZone(t *testing.T) {
	f := NewFormatter("Not/AZone", "")
	if f.Location != time.UTC {
		t.Fatalf("Location=%v, want UTC", f.Location)
	}
	if f.DateLayout != dateLayout {
		t.Fatalf("DateLayout=%q, want %q", f.DateLayout, dateLayout)
	}
}

func TestSameDay(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*3600)
	a := time.Date(2024, time.March, 14, 2, 0, 0, 0, time.UTC)
	b := time.Date(2024, time.March, 13, 22, 0, 0, 0, time.UTC)
	if (Formatter{}).SameDay(a, b) {
		t.Fatal("SameDay in UTC=true, want false")
	}
	if !(Formatter{Location: zone}).SameDay(a, b) {
		t.Fatal("SameDay in UTC-5=false, want true")
	}
}
