package rules

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"fjacquet/bankfetch/internal/models"
)

// Pattern assigns Target to transactions its Matcher accepts.
type Pattern struct {
	Name    string
	Matcher Node
	Target  models.Category
	Enabled bool
}

// patternDoc is the stored form. Enabled defaults to true.
type patternDoc struct {
	Name     string `json:"name" yaml:"name"`
	Matcher  Node   `json:"matcher" yaml:"matcher"`
	Category string `json:"category" yaml:"category"`
	Enabled  *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// NewPattern validates matcher and builds an enabled pattern.
func NewPattern(name string, matcher Node, target models.Category) (Pattern, error) {
	p := Pattern{Name: name, Matcher: matcher, Target: target, Enabled: true}
	if err := p.Validate(); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// Validate checks the name, the target and the rule tree.
func (p *Pattern) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: pattern name is required", ErrInvalidRule)
	}
	if p.Target.Title == "" {
		return fmt.Errorf("%w: pattern %q has no category", ErrInvalidRule, p.Name)
	}
	if err := p.Matcher.Validate(); err != nil {
		return fmt.Errorf("pattern %q: %w", p.Name, err)
	}
	return nil
}

// Matches reports whether the pattern is enabled and accepts tx.
func (p *Pattern) Matches(tx *models.Transaction) bool {
	return p.Enabled && p.Matcher.Evaluate(tx)
}

func (p *Pattern) fromDoc(d patternDoc) error {
	*p = Pattern{Name: d.Name, Matcher: d.Matcher, Target: models.Category{Title: d.Category}, Enabled: true}
	if d.Enabled != nil {
		p.Enabled = *d.Enabled
	}
	return p.Validate()
}

func (p Pattern) toDoc() patternDoc {
	enabled := p.Enabled
	return patternDoc{Name: p.Name, Matcher: p.Matcher, Category: p.Target.Title, Enabled: &enabled}
}

func (p *Pattern) UnmarshalJSON(data []byte) error {
	var d patternDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	return p.fromDoc(d)
}

func (p Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.toDoc())
}

func (p *Pattern) UnmarshalYAML(value *yaml.Node) error {
	var d patternDoc
	if err := value.Decode(&d); err != nil {
		return err
	}
	return p.fromDoc(d)
}

func (p Pattern) MarshalYAML() (interface{}, error) {
	return p.toDoc(), nil
}
