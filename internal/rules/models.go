// Package rules holds the typed in-memory representation of a downloaded
// configuration document: settings, segments, targeting rules, conditions
// and percentage options.
//
// A parsed Document is never mutated. Evaluation code reads it concurrently
// without locking.
package rules

import (
	"fmt"
	"sort"
)

// SettingType is the value type of a setting.
type SettingType int

const (
	SettingTypeBool   SettingType = 0
	SettingTypeString SettingType = 1
	SettingTypeInt    SettingType = 2
	SettingTypeDouble SettingType = 3

	// SettingTypeUnsupported marks a setting whose value cannot be represented
	// by any of the supported types (e.g. a malformed local override).
	SettingTypeUnsupported SettingType = -1
)

func (t SettingType) String() string {
	switch t {
	case SettingTypeBool:
		return "bool"
	case SettingTypeString:
		return "string"
	case SettingTypeInt:
		return "int"
	case SettingTypeDouble:
		return "double"
	default:
		return "unsupported"
	}
}

// RedirectMode is the data governance instruction published in the document preferences.
type RedirectMode int

const (
	NoRedirect     RedirectMode = 0
	ShouldRedirect RedirectMode = 1
	ForceRedirect  RedirectMode = 2
)

// Document is the root of a configuration document.
type Document struct {
	Preferences *Preferences        `json:"p,omitempty"`
	Segments    []Segment           `json:"s,omitempty"`
	Settings    map[string]*Setting `json:"f,omitempty"`
}

// Preferences carries the data governance routing and the hashing salt.
type Preferences struct {
	BaseURL  string       `json:"u,omitempty"`
	Redirect RedirectMode `json:"r"`
	Salt     string       `json:"s,omitempty"`
}

// Segment is a named, reusable group of user conditions combined with AND.
type Segment struct {
	Name       string          `json:"n"`
	Conditions []UserCondition `json:"r"`
}

// Setting is a single feature flag or configuration value definition.
type Setting struct {
	Type                SettingType        `json:"t"`
	Value               SettingValue       `json:"v"`
	VariationID         string             `json:"i,omitempty"`
	PercentageAttribute string             `json:"a,omitempty"`
	TargetingRules      []TargetingRule    `json:"r,omitempty"`
	PercentageOptions   []PercentageOption `json:"p,omitempty"`
}

// TargetingRule is an ordered AND-group of conditions plus a consequence.
// Exactly one of Served and PercentageOptions must be present.
type TargetingRule struct {
	Conditions        []ConditionContainer `json:"c,omitempty"`
	Served            *ServedValue         `json:"s,omitempty"`
	PercentageOptions []PercentageOption   `json:"p,omitempty"`
}

// ServedValue is the simple value consequence of a targeting rule.
type ServedValue struct {
	Value       SettingValue `json:"v"`
	VariationID string       `json:"i,omitempty"`
}

// PercentageOption is one weighted slot of a percentage rollout.
type PercentageOption struct {
	Percentage  int64        `json:"p"`
	Value       SettingValue `json:"v"`
	VariationID string       `json:"i,omitempty"`
}

// SettingValue holds a setting value in its wire representation.
// Only the field matching the owning setting's type is expected to be set.
type SettingValue struct {
	Bool   *bool    `json:"b,omitempty"`
	String *string  `json:"s,omitempty"`
	Int    *int     `json:"i,omitempty"`
	Double *float64 `json:"d,omitempty"`

	// Unsupported keeps a value of an unsupported type so it can be reported.
	Unsupported any `json:"-"`
}

// Resolve returns the value as the Go type matching t
// (bool, string, int or float64).
func (v SettingValue) Resolve(t SettingType) (any, error) {
	switch t {
	case SettingTypeBool:
		if v.Bool != nil {
			return *v.Bool, nil
		}
	case SettingTypeString:
		if v.String != nil {
			return *v.String, nil
		}
	case SettingTypeInt:
		if v.Int != nil {
			return *v.Int, nil
		}
	case SettingTypeDouble:
		if v.Double != nil {
			return *v.Double, nil
		}
	default:
		if v.Unsupported != nil {
			return nil, fmt.Errorf("%w: value of type %T is not supported", ErrInvalidSettingValue, v.Unsupported)
		}
		return nil, fmt.Errorf("%w: setting type %d is not supported", ErrInvalidSettingValue, int(t))
	}
	return nil, fmt.Errorf("%w: setting value is missing or is not of type %s", ErrInvalidSettingValue, t)
}

// Keys returns the setting keys in lexical order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, len(d.Settings))
	for key := range d.Settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Salt returns the document level hashing salt.
func (d *Document) Salt() string {
	if d == nil || d.Preferences == nil {
		return ""
	}
	return d.Preferences.Salt
}
