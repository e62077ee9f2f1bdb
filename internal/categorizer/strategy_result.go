package categorizer

import (
	"fmt"
	"strings"

	"fjacquet/bankfetch/internal/models"
)

// StrategyResult is the outcome of one strategy attempt.
type StrategyResult struct {
	Strategy string
	// Pattern names the rule that matched, if any.
	Pattern  string
	Category models.Category
	Found    bool
	Error    error
}

// StrategyResults aggregates the attempts made for one transaction.
type StrategyResults struct {
	Results []StrategyResult
}

// GetBestResult returns the first successful result.
func (sr StrategyResults) GetBestResult() (StrategyResult, bool) {
	for i := range sr.Results {
		if sr.Results[i].Found && sr.Results[i].Error == nil {
			return sr.Results[i], true
		}
	}
	return StrategyResult{}, false
}

// GetErrors returns all errors encountered during strategy execution
func (sr StrategyResults) GetErrors() []error {
	var errors []error
	for _, result := range sr.Results {
		if result.Error != nil {
			errors = append(errors, fmt.Errorf("%s strategy: %w", result.Strategy, result.Error))
		}
	}
	return errors
}

// Summary returns a human-readable summary of all strategy attempts
func (sr StrategyResults) Summary() string {
	var parts []string
	for _, result := range sr.Results {
		status := "failed"
		if result.Found {
			status = "match"
			if result.Pattern != "" {
				status += "(" + result.Pattern + ")"
			}
		} else if result.Error == nil {
			status = "no_match"
		}
		parts = append(parts, fmt.Sprintf("%s:%s", result.Strategy, status))
	}
	return strings.Join(parts, ", ")
}
