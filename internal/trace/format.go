package trace

import (
	"fmt"
	"strings"
	"time"

	"github.com/TimurManjosov/flagship-go/internal/rules"
)

// Placeholders rendered in place of malformed document parts.
const (
	InvalidName      = "<invalid name>"
	InvalidReference = "<invalid reference>"
	InvalidOperator  = "<invalid operator>"
	InvalidValue     = "<invalid value>"
)

// MaxListItems is the number of list items rendered before truncation.
const MaxListItems = 10

// Quote renders a value the way traces print values: in single quotes using
// the canonical text form.
func Quote(v any) string {
	return "'" + rules.FormatValue(v) + "'"
}

// SettingValue renders a raw setting value of the given type.
func SettingValue(v rules.SettingValue, t rules.SettingType) string {
	resolved, err := v.Resolve(t)
	if err != nil {
		return InvalidValue
	}
	return Quote(resolved)
}

// UserCondition renders e.g. "User.Email CONTAINS ANY OF ['@example.com']".
func UserCondition(c *rules.UserCondition) string {
	attr := c.Attribute
	if attr == "" {
		attr = InvalidName
	}
	return fmt.Sprintf("User.%s %s %s", attr, c.Comparator, comparisonValue(c))
}

func comparisonValue(c *rules.UserCondition) string {
	kind, ok := c.Comparator.ValueKind()
	if !ok {
		return InvalidValue
	}
	sensitive := c.Comparator.IsSensitive()

	switch kind {
	case rules.KindString:
		if c.StringValue == nil {
			return InvalidValue
		}
		if sensitive {
			return "'<hashed value>'"
		}
		return Quote(*c.StringValue)

	case rules.KindDouble:
		if c.DoubleValue == nil {
			return InvalidValue
		}
		if c.Comparator == rules.DateTimeBefore || c.Comparator == rules.DateTimeAfter {
			ms := int64(*c.DoubleValue * 1000)
			date := time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
			return fmt.Sprintf("'%s' (%s UTC)", rules.FormatNumber(*c.DoubleValue), date)
		}
		return Quote(*c.DoubleValue)

	default:
		if c.StringListValue == nil {
			return InvalidValue
		}
		if sensitive {
			return hashedCount(len(c.StringListValue))
		}
		return List(c.StringListValue)
	}
}

func hashedCount(n int) string {
	if n == 1 {
		return "[<1 hashed value>]"
	}
	return fmt.Sprintf("[<%d hashed values>]", n)
}

// List renders a quoted, comma separated list truncated after MaxListItems.
func List(items []string) string {
	shown := items
	if len(items) > MaxListItems {
		shown = items[:MaxListItems]
	}

	quoted := make([]string, len(shown))
	for i, item := range shown {
		quoted[i] = Quote(item)
	}
	out := strings.Join(quoted, ", ")

	if rest := len(items) - len(shown); rest > 0 {
		noun := "values"
		if rest == 1 {
			noun = "value"
		}
		out += fmt.Sprintf(", ... %d more %s", rest, noun)
	}
	return "[" + out + "]"
}

// SegmentCondition renders e.g. "User IS IN SEGMENT 'Beta users'".
func SegmentCondition(c *rules.SegmentCondition, doc *rules.Document) string {
	ref := InvalidReference
	if doc != nil && c.Index >= 0 && c.Index < len(doc.Segments) {
		ref = segmentName(doc.Segments[c.Index].Name)
	}
	return fmt.Sprintf("User %s %s", c.Comparator, ref)
}

func segmentName(name string) string {
	if name == "" {
		return InvalidName
	}
	return "'" + name + "'"
}

// PrerequisiteCondition renders e.g. "Flag 'main' EQUALS 'on'". The comparison
// value is rendered with the type of the referenced setting when it is known.
func PrerequisiteCondition(c *rules.PrerequisiteFlagCondition, doc *rules.Document) string {
	value := InvalidValue
	if doc != nil {
		if setting, ok := doc.Settings[c.FlagKey]; ok {
			value = SettingValue(c.Value, setting.Type)
		}
	}
	key := c.FlagKey
	if key == "" {
		key = InvalidName
	} else {
		key = "'" + key + "'"
	}
	return fmt.Sprintf("Flag %s %s %s", key, c.Comparator, value)
}

// Outcome renders a condition or rule result.
func Outcome(matched bool) string {
	if matched {
		return "true"
	}
	return "false"
}
