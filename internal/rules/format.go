package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatNumber renders a float the same way for comparisons and for traces:
// integers have no fraction, very small or very large magnitudes use the
// exponent form and the special values render as NaN, Infinity and -Infinity.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	s := strconv.FormatFloat(f, 'e', -1, 64)
	i := strings.IndexByte(s, 'e')
	mantissa, exp := s[:i], s[i+1:]
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + digits
}

// UnixSeconds converts t to fractional Unix seconds with millisecond precision.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// FormatValue converts an attribute or setting value to its canonical text form.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return FormatNumber(float64(val))
	case float64:
		return FormatNumber(val)
	case time.Time:
		return FormatNumber(UnixSeconds(val))
	case []string:
		b, _ := json.Marshal(val)
		return string(b)
	case []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
