package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/TimurManjosov/flagship-go/internal/rules"
)

// errCannotEvaluate marks operands that make a single condition unusable.
// The condition is treated as not matching and evaluation continues.
var errCannotEvaluate = errors.New("cannot evaluate condition")

// comparison is the input of a comparator handler.
type comparison struct {
	attr        any
	cond        *rules.UserCondition
	docSalt     string
	contextSalt string
}

func (c comparison) hash(text string) string {
	sum := sha256.Sum256([]byte(text + c.docSalt + c.contextSalt))
	return hex.EncodeToString(sum[:])
}

// comparatorHandler evaluates one user comparator.
type comparatorHandler interface {
	Check(c comparison) (bool, error)
}

var comparatorHandlers = map[rules.UserComparator]comparatorHandler{
	rules.IsOneOf:          textListHandler{match: equalsAny},
	rules.IsNotOneOf:       negated{textListHandler{match: equalsAny}},
	rules.ContainsAnyOf:    textListHandler{match: containsAny},
	rules.NotContainsAnyOf: negated{textListHandler{match: containsAny}},

	rules.SemVerIsOneOf:         semverListHandler{},
	rules.SemVerIsNotOneOf:      negated{semverListHandler{}},
	rules.SemVerLess:            semverCompareHandler{cmp: func(r int) bool { return r < 0 }},
	rules.SemVerLessOrEquals:    semverCompareHandler{cmp: func(r int) bool { return r <= 0 }},
	rules.SemVerGreater:         semverCompareHandler{cmp: func(r int) bool { return r > 0 }},
	rules.SemVerGreaterOrEquals: semverCompareHandler{cmp: func(r int) bool { return r >= 0 }},

	rules.NumberEquals:          numberHandler{cmp: func(a, b float64) bool { return a == b }},
	rules.NumberNotEquals:       numberHandler{cmp: func(a, b float64) bool { return a != b }},
	rules.NumberLess:            numberHandler{cmp: func(a, b float64) bool { return a < b }},
	rules.NumberLessOrEquals:    numberHandler{cmp: func(a, b float64) bool { return a <= b }},
	rules.NumberGreater:         numberHandler{cmp: func(a, b float64) bool { return a > b }},
	rules.NumberGreaterOrEquals: numberHandler{cmp: func(a, b float64) bool { return a >= b }},

	rules.SensitiveIsOneOf:    hashedListHandler{},
	rules.SensitiveIsNotOneOf: negated{hashedListHandler{}},

	rules.DateTimeBefore: dateHandler{cmp: func(a, b float64) bool { return a < b }},
	rules.DateTimeAfter:  dateHandler{cmp: func(a, b float64) bool { return a > b }},

	rules.HashedEquals:           hashedTextHandler{},
	rules.HashedNotEquals:        negated{hashedTextHandler{}},
	rules.HashedStartsWithAnyOf:  hashedAffixHandler{},
	rules.HashedNotStartsWithAny: negated{hashedAffixHandler{}},
	rules.HashedEndsWithAnyOf:    hashedAffixHandler{suffix: true},
	rules.HashedNotEndsWithAny:   negated{hashedAffixHandler{suffix: true}},
	rules.HashedArrayContains:    hashedArrayHandler{},
	rules.HashedArrayNotContains: negated{hashedArrayHandler{}},

	rules.TextEquals:             textHandler{},
	rules.TextNotEquals:          negated{textHandler{}},
	rules.TextStartsWithAnyOf:    textListHandler{match: hasPrefixAny},
	rules.TextNotStartsWithAnyOf: negated{textListHandler{match: hasPrefixAny}},
	rules.TextEndsWithAnyOf:      textListHandler{match: hasSuffixAny},
	rules.TextNotEndsWithAnyOf:   negated{textListHandler{match: hasSuffixAny}},

	rules.ArrayContainsAnyOf:    arrayHandler{},
	rules.ArrayNotContainsAnyOf: negated{arrayHandler{}},
}

func getComparatorHandler(c rules.UserComparator) (comparatorHandler, bool) {
	h, ok := comparatorHandlers[c]
	return h, ok
}

// negated inverts a successful check. Errors are passed through unchanged so an
// unusable operand never turns into a match.
type negated struct {
	inner comparatorHandler
}

func (n negated) Check(c comparison) (bool, error) {
	matched, err := n.inner.Check(c)
	if err != nil {
		return false, err
	}
	return !matched, nil
}

type textListHandler struct {
	match func(text string, items []string) bool
}

func (h textListHandler) Check(c comparison) (bool, error) {
	return h.match(toText(c.attr), c.cond.StringListValue), nil
}

func equalsAny(text string, items []string) bool {
	return slices.Contains(items, text)
}

func containsAny(text string, items []string) bool {
	return slices.ContainsFunc(items, func(item string) bool { return strings.Contains(text, item) })
}

func hasPrefixAny(text string, items []string) bool {
	return slices.ContainsFunc(items, func(item string) bool { return strings.HasPrefix(text, item) })
}

func hasSuffixAny(text string, items []string) bool {
	return slices.ContainsFunc(items, func(item string) bool { return strings.HasSuffix(text, item) })
}

type textHandler struct{}

func (textHandler) Check(c comparison) (bool, error) {
	return toText(c.attr) == *c.cond.StringValue, nil
}

type semverListHandler struct{}

func (semverListHandler) Check(c comparison) (bool, error) {
	user, err := toSemver(c.attr)
	if err != nil {
		return false, err
	}
	matched := false
	for _, item := range c.cond.StringListValue {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ver, err := semver.StrictNewVersion(item)
		if err != nil {
			return false, fmt.Errorf("%w: comparison value %q is not a valid semantic version", errCannotEvaluate, item)
		}
		if user.Equal(ver) {
			matched = true
		}
	}
	return matched, nil
}

type semverCompareHandler struct {
	cmp func(result int) bool
}

func (h semverCompareHandler) Check(c comparison) (bool, error) {
	user, err := toSemver(c.attr)
	if err != nil {
		return false, err
	}
	want := strings.TrimSpace(*c.cond.StringValue)
	ver, err := semver.StrictNewVersion(want)
	if err != nil {
		return false, fmt.Errorf("%w: comparison value %q is not a valid semantic version", errCannotEvaluate, want)
	}
	return h.cmp(user.Compare(ver)), nil
}

type numberHandler struct {
	cmp func(a, b float64) bool
}

func (h numberHandler) Check(c comparison) (bool, error) {
	user, err := toNumber(c.attr)
	if err != nil {
		return false, err
	}
	return h.cmp(user, *c.cond.DoubleValue), nil
}

type dateHandler struct {
	cmp func(a, b float64) bool
}

func (h dateHandler) Check(c comparison) (bool, error) {
	user, err := toUnixSeconds(c.attr)
	if err != nil {
		return false, err
	}
	return h.cmp(user, *c.cond.DoubleValue), nil
}

type hashedListHandler struct{}

func (hashedListHandler) Check(c comparison) (bool, error) {
	return slices.Contains(c.cond.StringListValue, c.hash(toText(c.attr))), nil
}

type hashedTextHandler struct{}

func (hashedTextHandler) Check(c comparison) (bool, error) {
	return c.hash(toText(c.attr)) == *c.cond.StringValue, nil
}

// hashedAffixHandler matches items of the form "<byte length>_<hash>" against
// the hash of the attribute's prefix or suffix of that length.
type hashedAffixHandler struct {
	suffix bool
}

func (h hashedAffixHandler) Check(c comparison) (bool, error) {
	text := toText(c.attr)
	for _, item := range c.cond.StringListValue {
		lengthText, hash, ok := strings.Cut(item, "_")
		if !ok {
			return false, fmt.Errorf("%w: hashed comparison value %q has no length prefix", ErrInvalidConfigModel, item)
		}
		n, err := strconv.Atoi(strings.TrimSpace(lengthText))
		if err != nil || n < 0 {
			return false, fmt.Errorf("%w: hashed comparison value %q has an invalid length prefix", ErrInvalidConfigModel, item)
		}
		if len(text) < n {
			continue
		}
		part := text[:n]
		if h.suffix {
			part = text[len(text)-n:]
		}
		if c.hash(part) == hash {
			return true, nil
		}
	}
	return false, nil
}

type hashedArrayHandler struct{}

func (hashedArrayHandler) Check(c comparison) (bool, error) {
	values, err := toStringList(c.attr)
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if slices.Contains(c.cond.StringListValue, c.hash(v)) {
			return true, nil
		}
	}
	return false, nil
}

type arrayHandler struct{}

func (arrayHandler) Check(c comparison) (bool, error) {
	values, err := toStringList(c.attr)
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if slices.Contains(c.cond.StringListValue, v) {
			return true, nil
		}
	}
	return false, nil
}
