// Package engine evaluates settings of a configuration document against a
// user. Evaluation is pure over an immutable *rules.Document and safe for
// concurrent use.
package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-go/internal/rollout"
	"github.com/TimurManjosov/flagship-go/internal/rules"
	"github.com/TimurManjosov/flagship-go/internal/trace"
)

// Log event ids emitted by the evaluator.
const (
	eventUserMissing           = 3001
	eventPercentageAttrMissing = 3003
	eventConditionSkipped      = 3004
	eventTrace                 = 5000
)

// Evaluator evaluates settings. The zero value is not usable; use NewEvaluator.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator returns an evaluator logging through log.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{log: log.With().Str("component", "engine").Logger()}
}

// state is the per-setting evaluation frame. Prerequisite evaluation creates a
// new frame sharing the document, user and trace.
type state struct {
	doc     *rules.Document
	key     string
	setting *rules.Setting
	user    *User
	visited []string
	trace   *trace.Builder
}

// Evaluate computes the value of key for user. A structural problem in the
// document aborts the evaluation of that key: Result.Err is set and
// Result.ErrorCode explains the failure.
func (e *Evaluator) Evaluate(doc *rules.Document, key string, user *User) Result {
	var tb *trace.Builder
	if e.traceLogging() {
		tb = trace.New()
	}
	res := e.evaluate(doc, key, user, tb)
	if tb != nil {
		e.log.Info().Int("event_id", eventTrace).Str("key", key).Msg(tb.String())
	}
	return res
}

// EvaluateWithTrace is Evaluate that always builds and returns the trace.
func (e *Evaluator) EvaluateWithTrace(doc *rules.Document, key string, user *User) (Result, string) {
	tb := trace.New()
	res := e.evaluate(doc, key, user, tb)
	return res, tb.String()
}

func (e *Evaluator) traceLogging() bool {
	return e.log.GetLevel() <= zerolog.InfoLevel && zerolog.GlobalLevel() <= zerolog.InfoLevel
}

func (e *Evaluator) evaluate(doc *rules.Document, key string, user *User, tb *trace.Builder) Result {
	if doc == nil {
		return errorResult(key, ErrorCodeConfigNotAvailable, ErrConfigNotAvailable)
	}
	setting, ok := doc.Settings[key]
	if !ok {
		err := fmt.Errorf("%w: %q (available keys: %s)", ErrSettingKeyMissing, key, strings.Join(doc.Keys(), ", "))
		return errorResult(key, ErrorCodeSettingKeyMissing, err)
	}

	tb.NewLine(fmt.Sprintf("Evaluating '%s'", key))
	if user != nil {
		tb.Append(fmt.Sprintf(" for User '%s'", user))
	}
	tb.IncreaseIndent()

	res, err := e.evaluateSetting(&state{
		doc:     doc,
		key:     key,
		setting: setting,
		user:    user,
		visited: []string{key},
		trace:   tb,
	})
	if err != nil {
		tb.NewLine("Evaluation failed: " + err.Error())
		code := ErrorCodeInvalidConfigModel
		if !errors.Is(err, ErrInvalidConfigModel) {
			code = ErrorCodeUnexpected
		}
		return errorResult(key, code, err)
	}
	tb.NewLine(fmt.Sprintf("Returning %s.", trace.Quote(res.Value)))
	return res
}

func errorResult(key string, code ErrorCode, err error) Result {
	return Result{Key: key, Reason: ReasonError, ErrorCode: code, Err: err}
}

func structural(err error) error {
	if errors.Is(err, ErrInvalidConfigModel) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfigModel, err)
}

func (e *Evaluator) evaluateSetting(st *state) (Result, error) {
	s := st.setting
	if st.user == nil && (len(s.TargetingRules) > 0 || len(s.PercentageOptions) > 0) {
		e.log.Warn().
			Int("event_id", eventUserMissing).
			Str("key", st.key).
			Msg("cannot evaluate targeting rules and % options (User Object is missing); pass a User to the getter to make targeting work")
		st.trace.NewLine("Skipping targeting rules and % options because the User Object is missing.")
		return e.defaultResult(st)
	}

	if len(s.TargetingRules) > 0 {
		st.trace.NewLine("Evaluating targeting rules and applying the first match if any:")
	}
	for i := range s.TargetingRules {
		rule := &s.TargetingRules[i]
		if err := rules.ValidateRule(*rule); err != nil {
			return Result{}, structural(err)
		}

		matched, err := e.matchAll(st, len(rule.Conditions), func(j int) (bool, error) {
			return e.matchCondition(st, rule.Conditions[j])
		})
		if err != nil {
			return Result{}, err
		}

		st.trace.IncreaseIndent().NewLine("THEN " + consequence(rule, s.Type))
		if !matched {
			st.trace.Append(" => no match").DecreaseIndent()
			continue
		}
		st.trace.Append(" => MATCH, applying rule").DecreaseIndent()

		if rule.Served != nil {
			value, err := rule.Served.Value.Resolve(s.Type)
			if err != nil {
				return Result{}, structural(err)
			}
			return Result{
				Key:         st.key,
				Value:       value,
				VariationID: rule.Served.VariationID,
				Reason:      ReasonTargetingMatch,
				MatchedRule: rule,
			}, nil
		}

		st.trace.IncreaseIndent()
		res, ok, err := e.evaluatePercentage(st, rule.PercentageOptions)
		st.trace.DecreaseIndent()
		if err != nil {
			return Result{}, err
		}
		if ok {
			res.MatchedRule = rule
			return res, nil
		}
		st.trace.NewLine("The current targeting rule is ignored and the evaluation continues with the next rule.")
	}

	if len(s.PercentageOptions) > 0 {
		res, ok, err := e.evaluatePercentage(st, s.PercentageOptions)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}
	}
	return e.defaultResult(st)
}

func (e *Evaluator) defaultResult(st *state) (Result, error) {
	value, err := st.setting.Value.Resolve(st.setting.Type)
	if err != nil {
		return Result{}, structural(err)
	}
	return Result{
		Key:         st.key,
		Value:       value,
		VariationID: st.setting.VariationID,
		Reason:      ReasonDefault,
	}, nil
}

func consequence(rule *rules.TargetingRule, t rules.SettingType) string {
	if rule.Served != nil {
		return trace.SettingValue(rule.Served.Value, t)
	}
	return "% options"
}

// matchAll ANDs n conditions in order and stops at the first one that does not match.
func (e *Evaluator) matchAll(st *state, n int, match func(i int) (bool, error)) (bool, error) {
	for i := 0; i < n; i++ {
		if i == 0 {
			st.trace.NewLine("- IF ")
		} else {
			st.trace.IncreaseIndent().NewLine("AND ")
		}

		matched, err := match(i)
		if i > 0 {
			st.trace.DecreaseIndent()
		}
		if err != nil {
			return false, err
		}

		st.trace.Append(" => " + trace.Outcome(matched))
		if !matched {
			if i < n-1 {
				st.trace.Append(", skipping the remaining AND conditions")
			}
			return false, nil
		}
	}
	return true, nil
}

func (e *Evaluator) matchCondition(st *state, container rules.ConditionContainer) (bool, error) {
	cond, err := container.Condition()
	if err != nil {
		return false, structural(err)
	}

	switch c := cond.(type) {
	case *rules.UserCondition:
		st.trace.Append(trace.UserCondition(c))
		return e.matchUserCondition(st, c, st.key)
	case *rules.SegmentCondition:
		return e.matchSegment(st, c)
	case *rules.PrerequisiteFlagCondition:
		return e.matchPrerequisite(st, c)
	default:
		return false, fmt.Errorf("%w: unknown condition type %T", ErrInvalidConfigModel, cond)
	}
}

// matchUserCondition evaluates c; contextSalt is the setting key for setting
// conditions and the segment name for segment conditions.
func (e *Evaluator) matchUserCondition(st *state, c *rules.UserCondition, contextSalt string) (bool, error) {
	if err := rules.ValidateUserCondition(c); err != nil {
		return false, structural(err)
	}
	handler, ok := getComparatorHandler(c.Comparator)
	if !ok {
		return false, fmt.Errorf("%w: comparator %d has no handler", ErrInvalidConfigModel, int(c.Comparator))
	}

	attr, ok := st.user.Attribute(c.Attribute)
	if !ok {
		e.warnCondition(st, c, fmt.Sprintf("the User.%s attribute is missing", c.Attribute))
		return false, nil
	}

	matched, err := handler.Check(comparison{
		attr:        attr,
		cond:        c,
		docSalt:     st.doc.Salt(),
		contextSalt: contextSalt,
	})
	if err != nil {
		if errors.Is(err, errCannotEvaluate) {
			e.warnCondition(st, c, err.Error())
			return false, nil
		}
		return false, structural(err)
	}
	return matched, nil
}

func (e *Evaluator) warnCondition(st *state, c *rules.UserCondition, reason string) {
	e.log.Warn().
		Int("event_id", eventConditionSkipped).
		Str("key", st.key).
		Str("condition", trace.UserCondition(c)).
		Msg("cannot evaluate condition, skipping it: " + reason)
}

func (e *Evaluator) matchSegment(st *state, c *rules.SegmentCondition) (bool, error) {
	description := trace.SegmentCondition(c, st.doc)
	st.trace.Append(description)

	if c.Index < 0 || c.Index >= len(st.doc.Segments) {
		return false, fmt.Errorf("%w: segment index %d is out of range", ErrInvalidConfigModel, c.Index)
	}
	if c.Comparator != rules.IsInSegment && c.Comparator != rules.IsNotInSegment {
		return false, fmt.Errorf("%w: segment comparator %d is not supported", ErrInvalidConfigModel, int(c.Comparator))
	}
	segment := &st.doc.Segments[c.Index]

	st.trace.IncreaseIndent().NewLine("(").IncreaseIndent()
	st.trace.NewLine(fmt.Sprintf("Evaluating segment '%s':", segment.Name))

	inSegment, err := e.matchAll(st, len(segment.Conditions), func(i int) (bool, error) {
		cond := &segment.Conditions[i]
		st.trace.Append(trace.UserCondition(cond))
		return e.matchUserCondition(st, cond, segment.Name)
	})
	if err != nil {
		return false, err
	}

	result := inSegment
	if c.Comparator == rules.IsNotInSegment {
		result = !inSegment
	}

	membership := rules.IsInSegment
	if !inSegment {
		membership = rules.IsNotInSegment
	}
	st.trace.NewLine(fmt.Sprintf("Segment evaluation result: User %s.", membership))
	st.trace.NewLine(fmt.Sprintf("Condition (%s) evaluates to %s.", description, trace.Outcome(result)))
	st.trace.DecreaseIndent().NewLine(")").DecreaseIndent()
	return result, nil
}

func (e *Evaluator) matchPrerequisite(st *state, c *rules.PrerequisiteFlagCondition) (bool, error) {
	description := trace.PrerequisiteCondition(c, st.doc)
	st.trace.Append(description)

	prerequisite, ok := st.doc.Settings[c.FlagKey]
	if c.FlagKey == "" || !ok {
		return false, fmt.Errorf("%w: prerequisite flag %q is missing", ErrInvalidConfigModel, c.FlagKey)
	}
	if c.Comparator != rules.PrerequisiteEquals && c.Comparator != rules.PrerequisiteNotEquals {
		return false, fmt.Errorf("%w: prerequisite comparator %d is not supported", ErrInvalidConfigModel, int(c.Comparator))
	}
	expected, err := c.Value.Resolve(prerequisite.Type)
	if err != nil {
		return false, fmt.Errorf("%w: comparison value of prerequisite flag %q does not match its type: %w", ErrInvalidConfigModel, c.FlagKey, err)
	}
	if slices.Contains(st.visited, c.FlagKey) {
		chain := append(slices.Clone(st.visited), c.FlagKey)
		return false, fmt.Errorf("%w: circular dependency detected between prerequisite flags: %s", ErrInvalidConfigModel, strings.Join(chain, " -> "))
	}

	st.trace.IncreaseIndent().NewLine("(").IncreaseIndent()
	st.trace.NewLine(fmt.Sprintf("Evaluating prerequisite flag '%s':", c.FlagKey))

	res, err := e.evaluateSetting(&state{
		doc:     st.doc,
		key:     c.FlagKey,
		setting: prerequisite,
		user:    st.user,
		visited: append(slices.Clone(st.visited), c.FlagKey),
		trace:   st.trace,
	})
	if err != nil {
		return false, err
	}

	result := res.Value == expected
	if c.Comparator == rules.PrerequisiteNotEquals {
		result = !result
	}

	st.trace.NewLine(fmt.Sprintf("Prerequisite flag evaluation result: %s.", trace.Quote(res.Value)))
	st.trace.NewLine(fmt.Sprintf("Condition (%s) evaluates to %s.", description, trace.Outcome(result)))
	st.trace.DecreaseIndent().NewLine(")").DecreaseIndent()
	return result, nil
}

func (e *Evaluator) evaluatePercentage(st *state, options []rules.PercentageOption) (Result, bool, error) {
	attrName := st.setting.PercentageAttribute
	if attrName == "" {
		attrName = AttrIdentifier
	}

	attr, ok := st.user.Attribute(attrName)
	if !ok {
		e.log.Warn().
			Int("event_id", eventPercentageAttrMissing).
			Str("key", st.key).
			Str("attribute", attrName).
			Msg("cannot evaluate % options (the User." + attrName + " attribute is missing)")
		st.trace.NewLine(fmt.Sprintf("Skipping %% options because the User.%s attribute is missing.", attrName))
		return Result{}, false, nil
	}

	st.trace.NewLine(fmt.Sprintf("Evaluating %% options based on the User.%s attribute:", attrName))
	scale := rollout.Scale(st.key, toText(attr))
	st.trace.NewLine(fmt.Sprintf("- Computing hash in the [0..99] range from User.%s => %d (this value is sticky and consistent across all SDKs)", attrName, scale))

	idx, ok := rollout.Select(options, scale)
	if !ok {
		return Result{}, false, nil
	}
	option := &options[idx]
	value, err := option.Value.Resolve(st.setting.Type)
	if err != nil {
		return Result{}, false, structural(err)
	}
	st.trace.NewLine(fmt.Sprintf("- Hash value %d selects %% option %d (%d%%), %s.", scale, idx+1, option.Percentage, trace.Quote(value)))

	return Result{
		Key:           st.key,
		Value:         value,
		VariationID:   option.VariationID,
		Reason:        ReasonPercentageRollout,
		MatchedOption: option,
	}, true, nil
}
