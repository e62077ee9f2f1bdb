// Package categorizer assigns categories to fetched transactions by running
// them through an ordered list of strategies. The first strategy that finds
// a category wins.
package categorizer

import (
	"context"
	"fmt"

	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// Categorizer runs transactions through its strategies in order.
type Categorizer struct {
	strategies []CategorizationStrategy
	logger     logging.Logger
}

// NewCategorizer builds a categorizer whose only strategy is the
// first-match pattern strategy over store.
func NewCategorizer(store PatternStore, logger logging.Logger) (*Categorizer, error) {
	logger = logging.OrDefault(logger)
	patterns, err := NewPatternStrategy(store, logger)
	if err != nil {
		return nil, err
	}
	return NewCategorizerWithStrategies(logger, patterns), nil
}

// NewCategorizerWithStrategies builds a categorizer over explicit
// strategies, tried in the given order.
func NewCategorizerWithStrategies(logger logging.Logger, strategies ...CategorizationStrategy) *Categorizer {
	return &Categorizer{strategies: strategies, logger: logging.OrDefault(logger)}
}

// Explain runs every strategy and records each outcome without modifying tx.
func (c *Categorizer) Explain(ctx context.Context, tx *models.Transaction) StrategyResults {
	var results StrategyResults
	for _, s := range c.strategies {
		r, err := s.Categorize(ctx, tx)
		r.Strategy = s.Name()
		r.Error = err
		results.Results = append(results.Results, r)
	}
	return results
}

// Classify assigns the first matching category to tx. It reports whether
// a category was assigned; tx is left untouched otherwise.
func (c *Categorizer) Classify(ctx context.Context, tx *models.Transaction) (bool, error) {
	for _, s := range c.strategies {
		r, err := s.Categorize(ctx, tx)
		if err != nil {
			return false, fmt.Errorf("%s strategy: %w", s.Name(), err)
		}
		if r.Found {
			category := r.Category
			tx.Category = &category
			return true, nil
		}
	}
	return false, nil
}

// ClassifyAll classifies every transaction in place and returns how many
// received a category.
func (c *Categorizer) ClassifyAll(ctx context.Context, txs []models.Transaction) (int, error) {
	classified := 0
	for i := range txs {
		found, err := c.Classify(ctx, &txs[i])
		if err != nil {
			return classified, err
		}
		if found {
			classified++
		}
	}
	c.logger.WithFields(
		logging.Field{Key: logging.FieldCount, Value: len(txs)},
		logging.Field{Key: "classified", Value: classified},
	).Info("Classified transactions")
	return classified, nil
}
