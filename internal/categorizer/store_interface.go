package categorizer

import "fjacquet/bankfetch/internal/rules"

// PatternStore supplies the enabled patterns in their stored order.
type PatternStore interface {
	EnabledPatterns() ([]rules.Pattern, error)
}
