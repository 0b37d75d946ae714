package notebook

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RuleName identifies one of the supported comparison rules.
type RuleName string

// Comparison rule names. The set is closed: a document naming anything else
// is rejected at load time.
const (
	RuleExact            RuleName = "exact"
	RuleNumericTolerance RuleName = "numeric-tolerance"
	RuleSubset           RuleName = "subset"
	RuleSuperset         RuleName = "superset"
	RuleCustom           RuleName = "custom"
)

// ToleranceMode selects how numeric-tolerance interprets eps.
type ToleranceMode string

// ToleranceMode constants
const (
	ModeAbsolute ToleranceMode = "absolute"
	ModeRelative ToleranceMode = "relative"
)

// Predicate is a caller-supplied comparison escape hatch for the custom rule.
// It must be pure: same inputs, same answer.
type Predicate func(actual, expected Value) (bool, string)

// ComparisonRule configures how one expected outcome is matched.
type ComparisonRule struct {
	Name RuleName `yaml:"rule" json:"rule"`

	// Numeric tolerance parameters, meaningful only for numeric-tolerance.
	Eps  float64       `yaml:"eps,omitempty" json:"eps,omitempty"`
	Mode ToleranceMode `yaml:"mode,omitempty" json:"mode,omitempty"`

	// Custom names a predicate registered on the spec, meaningful only for
	// the custom rule.
	Custom string `yaml:"predicate,omitempty" json:"predicate,omitempty"`
}

// ExpectedOutcome is one entry of the answer key: where to look, what to
// expect, and how strictly to compare. Exactly one of CellIndex or Symbol
// must be set.
type ExpectedOutcome struct {
	CellIndex *int           `yaml:"cell,omitempty" json:"cell,omitempty"`
	Symbol    string         `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Expected  Value          `yaml:"expected" json:"expected"`
	Rule      ComparisonRule `yaml:",inline" json:"comparison"`

	// Weight 0 in the document means unset; LoadSolutionSpec substitutes the
	// spec's default weight.
	Weight float64 `yaml:"weight,omitempty" json:"weight"`
}

// Target returns a human-readable name for the outcome's lookup target.
func (e ExpectedOutcome) Target() string {
	if e.Symbol != "" {
		return e.Symbol
	}
	if e.CellIndex != nil {
		return fmt.Sprintf("cell %d", *e.CellIndex)
	}
	return "unbound"
}

// SolutionSpec is the reference answer key for one assignment. Immutable
// once loaded.
type SolutionSpec struct {
	AssignmentID  string            `yaml:"assignment" json:"assignment"`
	Protocol      int               `yaml:"protocol" json:"protocol"`
	DefaultWeight float64           `yaml:"default_weight,omitempty" json:"default_weight"`
	Outcomes      []ExpectedOutcome `yaml:"outcomes" json:"outcomes"`

	predicates map[string]Predicate
}

// GradedSymbols returns the distinct symbol names the spec expects the
// submission to expose, in document order.
func (s *SolutionSpec) GradedSymbols() []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, o := range s.Outcomes {
		if o.Symbol != "" && !seen[o.Symbol] {
			seen[o.Symbol] = true
			symbols = append(symbols, o.Symbol)
		}
	}
	return symbols
}

// Predicate resolves a registered custom predicate by name.
func (s *SolutionSpec) Predicate(name string) (Predicate, bool) {
	p, ok := s.predicates[name]
	return p, ok
}

// LoadOption customizes solution spec loading.
type LoadOption func(*loadOptions)

type loadOptions struct {
	predicates map[string]Predicate
}

// WithPredicate registers a named predicate for the custom rule. A document
// referencing an unregistered predicate fails to load.
func WithPredicate(name string, p Predicate) LoadOption {
	return func(o *loadOptions) {
		o.predicates[name] = p
	}
}

// LoadSolutionSpec parses and validates a YAML solution document. Validation
// is deliberately strict: an unknown rule, a negative eps, or an outcome that
// names no target is an error here, never a silent default during grading.
func LoadSolutionSpec(data []byte, opts ...LoadOption) (*SolutionSpec, error) {
	options := &loadOptions{predicates: make(map[string]Predicate)}
	for _, opt := range opts {
		opt(options)
	}

	var spec SolutionSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse solution spec: %w", err)
	}
	spec.predicates = options.predicates

	if spec.AssignmentID == "" {
		return nil, fmt.Errorf("solution spec is missing an assignment identifier")
	}
	if spec.DefaultWeight < 0 {
		return nil, fmt.Errorf("default_weight must not be negative, got %v", spec.DefaultWeight)
	}
	if spec.DefaultWeight == 0 {
		spec.DefaultWeight = 1
	}

	if len(spec.Outcomes) == 0 {
		return nil, fmt.Errorf("solution spec %q has no expected outcomes", spec.AssignmentID)
	}

	for i := range spec.Outcomes {
		o := &spec.Outcomes[i]
		if err := validateOutcome(o, &spec); err != nil {
			return nil, fmt.Errorf("outcome %d (%s): %w", i, o.Target(), err)
		}
		if o.Weight == 0 {
			o.Weight = spec.DefaultWeight
		}
	}

	return &spec, nil
}

func validateOutcome(o *ExpectedOutcome, spec *SolutionSpec) error {
	if o.CellIndex == nil && o.Symbol == "" {
		return fmt.Errorf("outcome must name a cell index or a symbol")
	}
	if o.CellIndex != nil && o.Symbol != "" {
		return fmt.Errorf("outcome must name a cell index or a symbol, not both")
	}
	if o.CellIndex != nil && *o.CellIndex < 0 {
		return fmt.Errorf("cell index must not be negative, got %d", *o.CellIndex)
	}
	if o.Weight < 0 {
		return fmt.Errorf("weight must not be negative, got %v", o.Weight)
	}
	if err := o.Expected.Validate(); err != nil {
		return fmt.Errorf("invalid expected value: %w", err)
	}

	switch o.Rule.Name {
	case RuleExact:
		return nil
	case RuleNumericTolerance:
		if o.Rule.Eps < 0 {
			return fmt.Errorf("eps must not be negative, got %v", o.Rule.Eps)
		}
		if o.Expected.Kind != KindScalar {
			return fmt.Errorf("numeric-tolerance requires a scalar expected value, got %s", o.Expected.Kind)
		}
		if _, ok := NumericScalar(o.Expected.Scalar); !ok {
			return fmt.Errorf("numeric-tolerance requires a numeric expected value, got %T", o.Expected.Scalar)
		}
		switch o.Rule.Mode {
		case ModeAbsolute, ModeRelative:
			return nil
		case "":
			return fmt.Errorf("numeric-tolerance requires mode 'absolute' or 'relative'")
		default:
			return fmt.Errorf("unknown tolerance mode: %q", o.Rule.Mode)
		}
	case RuleSubset, RuleSuperset:
		if o.Expected.Kind != KindTable {
			return fmt.Errorf("%s rule requires a table expected value, got %s", o.Rule.Name, o.Expected.Kind)
		}
		return nil
	case RuleCustom:
		if o.Rule.Custom == "" {
			return fmt.Errorf("custom rule requires a predicate name")
		}
		if _, ok := spec.predicates[o.Rule.Custom]; !ok {
			return fmt.Errorf("unregistered predicate: %q", o.Rule.Custom)
		}
		return nil
	case "":
		return fmt.Errorf("outcome is missing a comparison rule")
	default:
		return fmt.Errorf("unknown comparison rule: %q", o.Rule.Name)
	}
}
