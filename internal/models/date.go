package models

import "time"

// Date returns midnight UTC of the given day. All transaction dates are
// normalised this way so that the same statement row always produces the
// same value regardless of the local timezone.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDay drops the time-of-day and location from t.
func TruncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses s with layout and normalises the result.
func ParseDate(layout, s string) (time.Time, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, err
	}
	return TruncateDay(t), nil
}
