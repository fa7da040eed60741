package rules

import "fmt"

// Condition is one of *UserCondition, *SegmentCondition or
// *PrerequisiteFlagCondition. The set is closed: the marker method is unexported.
type Condition interface {
	isCondition()
}

// ConditionContainer is the wire form of a condition; exactly one field is set.
type ConditionContainer struct {
	User         *UserCondition             `json:"u,omitempty"`
	Segment      *SegmentCondition          `json:"s,omitempty"`
	Prerequisite *PrerequisiteFlagCondition `json:"p,omitempty"`
}

// Condition unwraps the container into its single variant.
func (c ConditionContainer) Condition() (Condition, error) {
	var found []Condition
	if c.User != nil {
		found = append(found, c.User)
	}
	if c.Segment != nil {
		found = append(found, c.Segment)
	}
	if c.Prerequisite != nil {
		found = append(found, c.Prerequisite)
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one condition kind, got %d", ErrInvalidCondition, len(found))
	}
	return found[0], nil
}

// UserCondition compares a user attribute with a comparison value.
type UserCondition struct {
	Attribute       string         `json:"a"`
	Comparator      UserComparator `json:"c"`
	StringValue     *string        `json:"s,omitempty"`
	DoubleValue     *float64       `json:"d,omitempty"`
	StringListValue []string       `json:"l,omitempty"`
}

// SegmentCondition checks membership in a segment referenced by index.
type SegmentCondition struct {
	Index      int               `json:"s"`
	Comparator SegmentComparator `json:"c"`
}

// PrerequisiteFlagCondition compares the evaluated value of another setting.
type PrerequisiteFlagCondition struct {
	FlagKey    string                 `json:"f"`
	Comparator PrerequisiteComparator `json:"c"`
	Value      SettingValue           `json:"v"`
}

func (*UserCondition) isCondition()             {}
func (*SegmentCondition) isCondition()          {}
func (*PrerequisiteFlagCondition) isCondition() {}
