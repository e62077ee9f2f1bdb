package categorizer

import (
	"context"

	"fjacquet/bankfetch/internal/models"
)

// CategorizationStrategy assigns a category to a transaction.
type CategorizationStrategy interface {
	// Categorize returns the category and whether one was found. An error
	// means the strategy could not run, not that nothing matched.
	Categorize(ctx context.Context, tx *models.Transaction) (StrategyResult, error)

	// Name is used in logs.
	Name() string
}
