package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountSettings is the per-backend settings variant stored on an account.
// Only backends with a settings schema have a variant; raw settings are
// turned into one by ParseSettings at the boundary where they are written.
type AccountSettings interface {
	BackendType() BackendType
	Validate() error
}

// RecurringSettings drives the synthetic recurring backend.
type RecurringSettings struct {
	StartDate time.Time
	EndDate   *time.Time
	Amount    decimal.Decimal
}

func (RecurringSettings) BackendType() BackendType { return BackendRecurring }

func (s RecurringSettings) Validate() error {
	if s.StartDate.IsZero() {
		return fmt.Errorf("recurring settings: start_date is required")
	}
	if !s.Amount.IsPositive() {
		return fmt.Errorf("recurring settings: amount must be greater than 0, got %s", s.Amount)
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return fmt.Errorf("recurring settings: end_date %s is before start_date %s",
			s.EndDate.Format(DateLayout), s.StartDate.Format(DateLayout))
	}
	return nil
}

func (s RecurringSettings) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"start_date": s.StartDate.Format(DateLayout),
		"amount":     s.Amount,
	}
	if s.EndDate != nil {
		out["end_date"] = s.EndDate.Format(DateLayout)
	}
	return json.Marshal(out)
}

// MarshalYAML mirrors MarshalJSON.
func (s RecurringSettings) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{
		"start_date": s.StartDate.Format(DateLayout),
		"amount":     s.Amount.InexactFloat64(),
	}
	if s.EndDate != nil {
		out["end_date"] = s.EndDate.Format(DateLayout)
	}
	return out, nil
}

var recurringKeys = map[string]bool{"start_date": true, "end_date": true, "amount": true}

// ParseSettings turns a decoded settings object into the variant for
// backend. Backends without a settings schema reject any settings.
func ParseSettings(backend BackendType, raw map[string]interface{}) (AccountSettings, error) {
	switch backend {
	case BackendRecurring:
		return parseRecurring(raw)
	default:
		return nil, fmt.Errorf("%s: backend type has no settings", backend)
	}
}

func parseRecurring(raw map[string]interface{}) (AccountSettings, error) {
	var unknown []string
	for k := range raw {
		if !recurringKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("recurring settings: unknown keys %s", strings.Join(unknown, ", "))
	}

	var s RecurringSettings
	start, ok := raw["start_date"]
	if !ok {
		return nil, fmt.Errorf("recurring settings: start_date is required")
	}
	var err error
	if s.StartDate, err = settingsDate("start_date", start); err != nil {
		return nil, err
	}
	if end, ok := raw["end_date"]; ok && end != nil {
		t, err := settingsDate("end_date", end)
		if err != nil {
			return nil, err
		}
		s.EndDate = &t
	}
	amount, ok := raw["amount"]
	if !ok {
		return nil, fmt.Errorf("recurring settings: amount is required")
	}
	if s.Amount, err = settingsAmount(amount); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func settingsDate(key string, v interface{}) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return TruncateDay(d), nil
	case string:
		t, err := ParseDate(DateLayout, d)
		if err != nil {
			return time.Time{}, fmt.Errorf("recurring settings: %s must be a YYYY-MM-DD date: %w", key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("recurring settings: %s must be a date, got %T", key, v)
	}
}

func settingsAmount(v interface{}) (decimal.Decimal, error) {
	switch a := v.(type) {
	case int:
		return decimal.NewFromInt(int64(a)), nil
	case int64:
		return decimal.NewFromInt(a), nil
	case float64:
		return decimal.NewFromFloat(a), nil
	case json.Number:
		return decimal.NewFromString(a.String())
	case decimal.Decimal:
		return a, nil
	default:
		return decimal.Zero, fmt.Errorf("recurring settings: amount must be a number, got %T", v)
	}
}
