// Package rollout provides deterministic user bucketing for percentage options.
// A user is assigned a scale in [0,100) derived from the setting key and the
// value of the bucketing attribute. This ensures:
//   - Same user always gets the same option for a setting (deterministic)
//   - Even distribution across the population
//   - Consistency with other SDKs evaluating the same document
//   - Assignments only change when the option list itself changes
package rollout

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"

	"github.com/TimurManjosov/flagship-go/internal/rules"
)

// hashPrefixLen is the number of hex digits of the digest used for the scale.
const hashPrefixLen = 7

// Scale returns a deterministic bucket (0-99) for the given setting key and
// bucketing attribute value.
//
// Algorithm:
//  1. SHA-1(key + attrValue) → hex digest
//  2. first 7 hex digits → integer
//  3. integer % 100 → scale
func Scale(key, attrValue string) int {
	sum := sha1.Sum([]byte(key + attrValue))
	prefix := hex.EncodeToString(sum[:])[:hashPrefixLen]
	n, _ := strconv.ParseInt(prefix, 16, 64) // 7 hex digits always fit
	return int(n % 100)
}

// Select picks the option a user with the given scale is assigned to.
//
// Options are walked in order accumulating their percentages; the first option
// whose cumulative percentage exceeds scale wins.
//
// Example: options = [A:50, B:30, C:20]
//   - scale 0-49  → A
//   - scale 50-79 → B
//   - scale 80-99 → C
//
// Returns false when the options do not cover scale (the weights sum to less
// than 100 or the list is empty).
func Select(options []rules.PercentageOption, scale int) (int, bool) {
	var bucket int64
	for i, option := range options {
		bucket += option.Percentage
		if int64(scale) < bucket {
			return i, true
		}
	}
	return -1, false
}
