package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/TimurManjosov/flagship-go/internal/rules"
)

func toText(v any) string {
	return rules.FormatValue(v)
}

// toNumber accepts numeric types and numeric strings, with ',' allowed as the
// decimal separator.
func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return parseNumber(string(n))
	case string:
		return parseNumber(n)
	default:
		return 0, fmt.Errorf("%w: %T is not a number", errCannotEvaluate, v)
	}
}

func parseNumber(s string) (float64, error) {
	// ParseFloat also accepts NaN, Infinity and -Infinity.
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid decimal number", errCannotEvaluate, s)
	}
	return f, nil
}

// toUnixSeconds accepts time.Time, numeric epoch seconds and numeric strings.
func toUnixSeconds(v any) (float64, error) {
	if t, ok := v.(time.Time); ok {
		return rules.UnixSeconds(t), nil
	}
	f, err := toNumber(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid Unix timestamp", errCannotEvaluate, toText(v))
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("%w: timestamp is NaN", errCannotEvaluate)
	}
	return f, nil
}

// toStringList accepts []string, []any of strings, a JSON array string or a
// comma separated string.
func toStringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: list item of type %T is not a string", errCannotEvaluate, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(list)
		if strings.HasPrefix(trimmed, "[") {
			var out []string
			if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
				return nil, fmt.Errorf("%w: %q is not a valid string array", errCannotEvaluate, list)
			}
			return out, nil
		}
		var out []string
		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a string array", errCannotEvaluate, v)
	}
}

func toSemver(v any) (*semver.Version, error) {
	text := strings.TrimSpace(toText(v))
	ver, err := semver.StrictNewVersion(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid semantic version", errCannotEvaluate, text)
	}
	return ver, nil
}
