package roster

import (
	"fmt"
	"time"

	"github.com/periop/periop/internal/platform/apperr"
)

const dayLayout = "2006-01-02"

// Day is a civil date in the facility time zone, formatted YYYY-MM-DD.
type Day string

func ParseDay(s string) (Day, error) {
	d := Day(s)
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d, nil
}

// DayOf returns the civil date of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	return Day(t.In(loc).Format(dayLayout))
}

func (d Day) Validate() error {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil || t.Format(dayLayout) != string(d) {
		return apperr.Validation("invalid day %q, want YYYY-MM-DD", string(d))
	}
	return nil
}

// Date is the day as midnight UTC, the form stored in DATE columns.
func (d Day) Date() time.Time {
	t, _ := time.Parse(dayLayout, string(d))
	return t
}

// Window returns the instants [start, end) the day covers in loc.
func (d Day) Window(loc *time.Location) (time.Time, time.Time) {
	t := d.Date()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func (d Day) AddDays(n int) Day {
	return Day(d.Date().AddDate(0, 0, n).Format(dayLayout))
}

func (d Day) String() string { return string(d) }

// Boundaries holds the start of each shift as an offset from local
// midnight. The hours before the morning start belong to the previous
// Day's night shift.
type Boundaries struct {
	loc       *time.Location
	morning   time.Duration
	afternoon time.Duration
	night     time.Duration
}

func NewBoundaries(loc *time.Location, morning, afternoon, night time.Duration) (Boundaries, error) {
	if loc == nil {
		loc = time.UTC
	}
	if morning < 0 || !(morning < afternoon && afternoon < night) || night >= 24*time.Hour {
		return Boundaries{}, fmt.Errorf("shift starts must satisfy 0 <= morning < afternoon < night < 24h, got %s %s %s",
			morning, afternoon, night)
	}
	return Boundaries{loc: loc, morning: morning, afternoon: afternoon, night: night}, nil
}

func (b Boundaries) Location() *time.Location {
	if b.loc == nil {
		return time.UTC
	}
	return b.loc
}

// Active returns the Day and shift in effect at t.
func (b Boundaries) Active(t time.Time) (Day, ShiftKey) {
	local := t.In(b.Location())
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	day := Day(local.Format(dayLayout))

	switch {
	case offset < b.morning:
		return day.AddDays(-1), ShiftNight
	case offset < b.afternoon:
		return day, ShiftMorning
	case offset < b.night:
		return day, ShiftAfternoon
	default:
		return day, ShiftNight
	}
}
