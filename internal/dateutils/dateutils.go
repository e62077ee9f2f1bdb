// Package dateutils holds the date layouts used by the providers and the
// CLI, plus a tolerant parser for user input.
package dateutils

import (
	"fmt"
	"strings"
	"time"

	"fjacquet/bankfetch/internal/models"
)

// Provider date layouts.
const (
	LayoutISO        = "2006-01-02"
	LayoutCompact    = "020106"     // ddmmyy, Leumi CSV export
	LayoutShortSlash = "02/01/06"   // dd/mm/yy
	LayoutLongSlash  = "02/01/2006" // dd/mm/yyyy
	LayoutMonthYear  = "012006"     // mmyyyy, Cal option values
)

// CommonFormats are tried in order by ParseDate.
var CommonFormats = []string{
	LayoutISO,
	LayoutLongSlash,
	LayoutShortSlash,
	"02.01.2006",
	"2006/01/02",
}

// ParseDate parses a user supplied date in any of CommonFormats.
func ParseDate(dateStr string) (time.Time, error) {
	dateStr = CleanDateString(dateStr)
	for _, format := range CommonFormats {
		if t, err := models.ParseDate(format, dateStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

// CleanDateString trims whitespace and bidi marks that providers wrap
// around dates.
func CleanDateString(dateStr string) string {
	dateStr = strings.Map(func(r rune) rune {
		if r == '\u200e' || r == '\u200f' {
			return -1
		}
		return r
	}, dateStr)
	return strings.TrimSpace(dateStr)
}

// MonthRange returns the first and last day of the month of p rendered
// with layout.
func MonthRange(p models.Period, layout string) (string, string) {
	return p.First().Format(layout), p.Last().Format(layout)
}
