package trace

import (
	"strconv"
	"testing"

	"github.com/TimurManjosov/flagship-go/internal/rules"
)

func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestBuilder_Indentation(t *testing.T) {
	b := New()
	b.NewLine("Evaluating 'flag'").
		IncreaseIndent().
		NewLine("- IF x").Append(" => true").
		IncreaseIndent().
		NewLine("AND y").
		DecreaseIndent().
		DecreaseIndent().
		DecreaseIndent().
		NewLine("Returning 'v'.")

	want := "Evaluating 'flag'\n  - IF x => true\n    AND y\nReturning 'v'."
	if got := b.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuilder_NilSafe(t *testing.T) {
	var b *Builder
	b.NewLine("x").Append("y").IncreaseIndent().DecreaseIndent()
	if b.Enabled() {
		t.Error("nil builder should not be enabled")
	}
	if b.String() != "" {
		t.Errorf("nil builder rendered %q", b.String())
	}
}

func TestUserCondition(t *testing.T) {
	tests := []struct {
		name string
		cond rules.UserCondition
		want string
	}{
		{
			name: "cleartext list",
			cond: rules.UserCondition{Attribute: "Email", Comparator: rules.ContainsAnyOf, StringListValue: []string{"@test.com"}},
			want: "User.Email CONTAINS ANY OF ['@test.com']",
		},
		{
			name: "hashed list",
			cond: rules.UserCondition{Attribute: "Email", Comparator: rules.SensitiveIsOneOf, StringListValue: []string{"a", "b"}},
			want: "User.Email IS ONE OF [<2 hashed values>]",
		},
		{
			name: "single hashed list item",
			cond: rules.UserCondition{Attribute: "Email", Comparator: rules.HashedArrayContains, StringListValue: []string{"a"}},
			want: "User.Email ARRAY CONTAINS ANY OF [<1 hashed value>]",
		},
		{
			name: "hashed string",
			cond: rules.UserCondition{Attribute: "Id", Comparator: rules.HashedEquals, StringValue: strPtr("abc")},
			want: "User.Id EQUALS '<hashed value>'",
		},
		{
			name: "number",
			cond: rules.UserCondition{Attribute: "Age", Comparator: rules.NumberGreaterOrEquals, DoubleValue: floatPtr(18)},
			want: "User.Age >= '18'",
		},
		{
			name: "date",
			cond: rules.UserCondition{Attribute: "Created", Comparator: rules.DateTimeBefore, DoubleValue: floatPtr(1700000000)},
			want: "User.Created BEFORE '1700000000' (2023-11-14T22:13:20.000Z UTC)",
		},
		{
			name: "missing name",
			cond: rules.UserCondition{Comparator: rules.TextEquals, StringValue: strPtr("x")},
			want: "User.<invalid name> EQUALS 'x'",
		},
		{
			name: "invalid operator",
			cond: rules.UserCondition{Attribute: "Email", Comparator: 77, StringValue: strPtr("x")},
			want: "User.Email <invalid operator> <invalid value>",
		},
		{
			name: "missing value",
			cond: rules.UserCondition{Attribute: "Email", Comparator: rules.TextEquals},
			want: "User.Email EQUALS <invalid value>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserCondition(&tt.cond); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestList_Truncation(t *testing.T) {
	items := make([]string, 13)
	for i := range items {
		items[i] = strconv.Itoa(i)
	}
	want := "['0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ... 3 more values]"
	if got := List(items); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := List(items[:11]); got != "['0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ... 1 more value]" {
		t.Errorf("single overflow: got %q", got)
	}
}

func TestSegmentAndPrerequisite(t *testing.T) {
	doc := &rules.Document{
		Segments: []rules.Segment{{Name: "Beta users"}},
		Settings: map[string]*rules.Setting{"main": {Type: rules.SettingTypeString}},
	}

	if got := SegmentCondition(&rules.SegmentCondition{Index: 0, Comparator: rules.IsNotInSegment}, doc); got != "User IS NOT IN SEGMENT 'Beta users'" {
		t.Errorf("segment: got %q", got)
	}
	if got := SegmentCondition(&rules.SegmentCondition{Index: 4}, doc); got != "User IS IN SEGMENT <invalid reference>" {
		t.Errorf("bad segment: got %q", got)
	}

	on := "on"
	prereq := &rules.PrerequisiteFlagCondition{FlagKey: "main", Value: rules.SettingValue{String: &on}}
	if got := PrerequisiteCondition(prereq, doc); got != "Flag 'main' EQUALS 'on'" {
		t.Errorf("prerequisite: got %q", got)
	}
	missing := &rules.PrerequisiteFlagCondition{FlagKey: "gone", Comparator: rules.PrerequisiteNotEquals}
	if got := PrerequisiteCondition(missing, doc); got != "Flag 'gone' NOT EQUALS <invalid value>" {
		t.Errorf("missing prerequisite: got %q", got)
	}
}
