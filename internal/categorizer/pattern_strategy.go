package categorizer

import (
	"context"
	"fmt"
	"sync"

	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
	"fjacquet/bankfetch/internal/rules"
)

// PatternStrategy assigns the target of the first pattern whose matcher
// accepts the transaction.
type PatternStrategy struct {
	patterns []rules.Pattern
	store    PatternStore
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewPatternStrategy loads the enabled patterns from store.
func NewPatternStrategy(store PatternStore, logger logging.Logger) (*PatternStrategy, error) {
	s := &PatternStrategy{store: store, logger: logging.OrDefault(logger)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the name of this strategy for logging and debugging.
func (s *PatternStrategy) Name() string {
	return "Pattern"
}

// Reload re-reads the patterns. Disabled patterns are filtered again in
// case the store returns them.
func (s *PatternStrategy) Reload() error {
	if s.store == nil {
		return fmt.Errorf("pattern store is nil")
	}
	loaded, err := s.store.EnabledPatterns()
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}
	patterns := make([]rules.Pattern, 0, len(loaded))
	for _, p := range loaded {
		if !p.Enabled {
			continue
		}
		if err := p.Validate(); err != nil {
			return err
		}
		patterns = append(patterns, p)
	}

	s.mu.Lock()
	s.patterns = patterns
	s.mu.Unlock()

	s.logger.WithField(logging.FieldCount, len(patterns)).Debug("Loaded classification patterns")
	return nil
}

// Patterns returns a copy of the loaded patterns.
func (s *PatternStrategy) Patterns() []rules.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rules.Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Categorize walks the patterns in order and stops at the first match.
func (s *PatternStrategy) Categorize(ctx context.Context, tx *models.Transaction) (StrategyResult, error) {
	result := StrategyResult{Strategy: s.Name()}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.patterns {
		p := &s.patterns[i]
		if !p.Matches(tx) {
			continue
		}
		s.logger.WithFields(
			logging.Field{Key: logging.FieldRule, Value: p.Name},
			logging.Field{Key: logging.FieldCategory, Value: p.Target.Title},
			logging.Field{Key: "description", Value: tx.Description},
		).Debug("Transaction matched pattern")
		result.Pattern = p.Name
		result.Category = p.Target
		result.Found = true
		return result, nil
	}
	return result, nil
}
