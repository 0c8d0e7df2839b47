package models

import "time"

const dayLayout = "2006-01-02"

// Day is one calendar day in a reference time zone.
type Day struct {
	Date     string
	Location *time.Location
}

func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day{Date: t.In(loc).Format(dayLayout), Location: loc}
}

func (d Day) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout) == d.Date
}

// Start returns midnight of the day in its zone.
func (d Day) Start() time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(dayLayout, d.Date, loc)
	if err != nil {
		return time.Time{}
	}
	return start
}

func (d Day) String() string {
	return d.Date
}
