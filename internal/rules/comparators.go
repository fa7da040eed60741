package rules

// UserComparator identifies the operator of a UserCondition.
type UserComparator int

// Supported user comparators. The numeric codes are part of the document format.
const (
	IsOneOf          UserComparator = 0
	IsNotOneOf       UserComparator = 1
	ContainsAnyOf    UserComparator = 2
	NotContainsAnyOf UserComparator = 3

	SemVerIsOneOf          UserComparator = 4
	SemVerIsNotOneOf       UserComparator = 5
	SemVerLess             UserComparator = 6
	SemVerLessOrEquals     UserComparator = 7
	SemVerGreater          UserComparator = 8
	SemVerGreaterOrEquals  UserComparator = 9
	NumberEquals           UserComparator = 10
	NumberNotEquals        UserComparator = 11
	NumberLess             UserComparator = 12
	NumberLessOrEquals     UserComparator = 13
	NumberGreater          UserComparator = 14
	NumberGreaterOrEquals  UserComparator = 15
	SensitiveIsOneOf       UserComparator = 16
	SensitiveIsNotOneOf    UserComparator = 17
	DateTimeBefore         UserComparator = 18
	DateTimeAfter          UserComparator = 19
	HashedEquals           UserComparator = 20
	HashedNotEquals        UserComparator = 21
	HashedStartsWithAnyOf  UserComparator = 22
	HashedNotStartsWithAny UserComparator = 23
	HashedEndsWithAnyOf    UserComparator = 24
	HashedNotEndsWithAny   UserComparator = 25
	HashedArrayContains    UserComparator = 26
	HashedArrayNotContains UserComparator = 27
	TextEquals             UserComparator = 28
	TextNotEquals          UserComparator = 29
	TextStartsWithAnyOf    UserComparator = 30
	TextNotStartsWithAnyOf UserComparator = 31
	TextEndsWithAnyOf      UserComparator = 32
	TextNotEndsWithAnyOf   UserComparator = 33
	ArrayContainsAnyOf     UserComparator = 34
	ArrayNotContainsAnyOf  UserComparator = 35
)

// ValueKind is the shape of comparison value a comparator expects.
type ValueKind int

const (
	KindString ValueKind = iota
	KindDouble
	KindStringList
)

type comparatorInfo struct {
	name      string
	kind      ValueKind
	sensitive bool
}

var comparatorTable = map[UserComparator]comparatorInfo{
	IsOneOf:                {"IS ONE OF", KindStringList, false},
	IsNotOneOf:             {"IS NOT ONE OF", KindStringList, false},
	ContainsAnyOf:          {"CONTAINS ANY OF", KindStringList, false},
	NotContainsAnyOf:       {"NOT CONTAINS ANY OF", KindStringList, false},
	SemVerIsOneOf:          {"IS ONE OF", KindStringList, false},
	SemVerIsNotOneOf:       {"IS NOT ONE OF", KindStringList, false},
	SemVerLess:             {"<", KindString, false},
	SemVerLessOrEquals:     {"<=", KindString, false},
	SemVerGreater:          {">", KindString, false},
	SemVerGreaterOrEquals:  {">=", KindString, false},
	NumberEquals:           {"=", KindDouble, false},
	NumberNotEquals:        {"!=", KindDouble, false},
	NumberLess:             {"<", KindDouble, false},
	NumberLessOrEquals:     {"<=", KindDouble, false},
	NumberGreater:          {">", KindDouble, false},
	NumberGreaterOrEquals:  {">=", KindDouble, false},
	SensitiveIsOneOf:       {"IS ONE OF", KindStringList, true},
	SensitiveIsNotOneOf:    {"IS NOT ONE OF", KindStringList, true},
	DateTimeBefore:         {"BEFORE", KindDouble, false},
	DateTimeAfter:          {"AFTER", KindDouble, false},
	HashedEquals:           {"EQUALS", KindString, true},
	HashedNotEquals:        {"NOT EQUALS", KindString, true},
	HashedStartsWithAnyOf:  {"STARTS WITH ANY OF", KindStringList, true},
	HashedNotStartsWithAny: {"NOT STARTS WITH ANY OF", KindStringList, true},
	HashedEndsWithAnyOf:    {"ENDS WITH ANY OF", KindStringList, true},
	HashedNotEndsWithAny:   {"NOT ENDS WITH ANY OF", KindStringList, true},
	HashedArrayContains:    {"ARRAY CONTAINS ANY OF", KindStringList, true},
	HashedArrayNotContains: {"ARRAY NOT CONTAINS ANY OF", KindStringList, true},
	TextEquals:             {"EQUALS", KindString, false},
	TextNotEquals:          {"NOT EQUALS", KindString, false},
	TextStartsWithAnyOf:    {"STARTS WITH ANY OF", KindStringList, false},
	TextNotStartsWithAnyOf: {"NOT STARTS WITH ANY OF", KindStringList, false},
	TextEndsWithAnyOf:      {"ENDS WITH ANY OF", KindStringList, false},
	TextNotEndsWithAnyOf:   {"NOT ENDS WITH ANY OF", KindStringList, false},
	ArrayContainsAnyOf:     {"ARRAY CONTAINS ANY OF", KindStringList, false},
	ArrayNotContainsAnyOf:  {"ARRAY NOT CONTAINS ANY OF", KindStringList, false},
}

// Known reports whether c is a supported comparator.
func (c UserComparator) Known() bool {
	_, ok := comparatorTable[c]
	return ok
}

// String returns the operator text used in evaluation traces.
func (c UserComparator) String() string {
	if info, ok := comparatorTable[c]; ok {
		return info.name
	}
	return "<invalid operator>"
}

// ValueKind returns the comparison value shape c expects.
func (c UserComparator) ValueKind() (ValueKind, bool) {
	info, ok := comparatorTable[c]
	return info.kind, ok
}

// IsSensitive reports whether comparison values of c are salted hashes.
func (c UserComparator) IsSensitive() bool {
	return comparatorTable[c].sensitive
}

// SegmentComparator identifies the polarity of a SegmentCondition.
type SegmentComparator int

const (
	IsInSegment    SegmentComparator = 0
	IsNotInSegment SegmentComparator = 1
)

func (c SegmentComparator) String() string {
	switch c {
	case IsInSegment:
		return "IS IN SEGMENT"
	case IsNotInSegment:
		return "IS NOT IN SEGMENT"
	default:
		return "<invalid operator>"
	}
}

// PrerequisiteComparator identifies the operator of a PrerequisiteFlagCondition.
type PrerequisiteComparator int

const (
	PrerequisiteEquals    PrerequisiteComparator = 0
	PrerequisiteNotEquals PrerequisiteComparator = 1
)

func (c PrerequisiteComparator) String() string {
	switch c {
	case PrerequisiteEquals:
		return "EQUALS"
	case PrerequisiteNotEquals:
		return "NOT EQUALS"
	default:
		return "<invalid operator>"
	}
}
