package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeGroup is the bucketing granularity of a time series. TOTAL collapses
// the whole window into a single bucket.
type TimeGroup int

const (
	Total TimeGroup = iota
	Second
	Minute
	Hour
	Day
	Week
	Month
	Quarter
	Year
)

var timeGroupNames = []string{"TOTAL", "SECOND", "MINUTE", "HOUR", "DAY", "WEEK", "MONTH", "QUARTER", "YEAR"}

func (g TimeGroup) String() string {
	if g < 0 || int(g) >= len(timeGroupNames) {
		return fmt.Sprintf("TimeGroup(%d)", int(g))
	}
	return timeGroupNames[g]
}

// Unit is the lower-case unit name used in SQL date functions.
func (g TimeGroup) Unit() string {
	return strings.ToLower(g.String())
}

// ParseTimeGroup looks a time group up by name, ignoring case.
func ParseTimeGroup(name string) (TimeGroup, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range timeGroupNames {
		if n == upper {
			return TimeGroup(i), nil
		}
	}
	return Total, fmt.Errorf("unknown time group %q", name)
}

// TimeWindow is a positive amount of a time group, e.g. 30 DAY.
type TimeWindow struct {
	Value  int
	Period TimeGroup
}

// NewTimeWindow creates a validated window.
func NewTimeWindow(value int, period TimeGroup) (TimeWindow, error) {
	w := TimeWindow{Value: value, Period: period}
	return w, w.Validate()
}

func (w TimeWindow) Validate() error {
	if w.Value <= 0 {
		return NewValidationError("time_window", "value must be > 0, got %d", w.Value)
	}
	if w.Period == Total || w.Period > Year {
		return NewValidationError("time_window", "period %s cannot be used as a window", w.Period)
	}
	return nil
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%d %s", w.Value, w.Period.Unit())
}

// Before returns end moved back by the window.
func (w TimeWindow) Before(end time.Time) time.Time {
	return w.add(end, -w.Value)
}

// After returns start moved forward by the window.
func (w TimeWindow) After(start time.Time) time.Time {
	return w.add(start, w.Value)
}

func (w TimeWindow) add(t time.Time, n int) time.Time {
	switch w.Period {
	case Second:
		return t.Add(time.Duration(n) * time.Second)
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Day:
		return t.AddDate(0, 0, n)
	case Week:
		return t.AddDate(0, 0, 7*n)
	case Month:
		return t.AddDate(0, n, 0)
	case Quarter:
		return t.AddDate(0, 3*n, 0)
	case Year:
		return t.AddDate(n, 0, 0)
	}
	return t
}
