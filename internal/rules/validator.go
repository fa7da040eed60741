package rules

import (
	"errors"
	"fmt"
)

// Sentinel errors for structural problems in a document.
var (
	ErrInvalidDocument        = errors.New("invalid config document")
	ErrInvalidComparator      = errors.New("invalid comparator")
	ErrInvalidCondition       = errors.New("invalid condition")
	ErrInvalidComparisonValue = errors.New("invalid comparison value")
	ErrInvalidConsequence     = errors.New("invalid targeting rule consequence")
	ErrInvalidSettingValue    = errors.New("invalid setting value")
)

// ValidateRule checks the consequence shape of a targeting rule.
// It is a pure function: it never mutates r.
func ValidateRule(r TargetingRule) error {
	hasServed := r.Served != nil
	hasOptions := len(r.PercentageOptions) > 0
	switch {
	case hasServed && hasOptions:
		return fmt.Errorf("%w: rule defines both a served value and percentage options", ErrInvalidConsequence)
	case !hasServed && !hasOptions:
		return fmt.Errorf("%w: rule defines neither a served value nor percentage options", ErrInvalidConsequence)
	}
	return nil
}

// ValidateUserCondition checks the comparator and that exactly the comparison
// value shape expected by the comparator is present.
func ValidateUserCondition(c *UserCondition) error {
	if c.Attribute == "" {
		return fmt.Errorf("%w: comparison attribute name is missing", ErrInvalidCondition)
	}

	kind, ok := c.Comparator.ValueKind()
	if !ok {
		return fmt.Errorf("%w: user comparator %d is not supported", ErrInvalidComparator, int(c.Comparator))
	}

	present := 0
	if c.StringValue != nil {
		present++
	}
	if c.DoubleValue != nil {
		present++
	}
	if c.StringListValue != nil {
		present++
	}

	var matches bool
	switch kind {
	case KindString:
		matches = c.StringValue != nil
	case KindDouble:
		matches = c.DoubleValue != nil
	case KindStringList:
		matches = c.StringListValue != nil
	}
	if present != 1 || !matches {
		return fmt.Errorf("%w: comparator %q of attribute %q expects a different comparison value", ErrInvalidComparisonValue, c.Comparator, c.Attribute)
	}
	return nil
}
