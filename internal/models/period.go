package models

import (
	"fmt"
	"time"
)

// Period is a statement month.
type Period struct {
	Year  int        `json:"year" yaml:"year"`
	Month time.Month `json:"month" yaml:"month"`
}

// NewPeriod validates the month range.
func NewPeriod(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("invalid month %d", month)
	}
	if year < 1900 || year > 9999 {
		return Period{}, fmt.Errorf("invalid year %d", year)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// ParsePeriod accepts "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q, expected YYYY-MM: %w", s, err)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// First is the first day of the period.
func (p Period) First() time.Time {
	return Date(p.Year, p.Month, 1)
}

// Last is the last day of the period.
func (p Period) Last() time.Time {
	return p.Next().First().AddDate(0, 0, -1)
}

// Next is the following month.
func (p Period) Next() Period {
	return PeriodOf(p.First().AddDate(0, 1, 0))
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// PeriodRange lists every month from from to to inclusive. It returns an
// error when to is before from.
func PeriodRange(from, to Period) ([]Period, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("period range end %s is before start %s", to, from)
	}
	var periods []Period
	for p := from; !to.Before(p); p = p.Next() {
		periods = append(periods, p)
	}
	return periods, nil
}
