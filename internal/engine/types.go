package engine

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/TimurManjosov/flagship-go/internal/rules"
)

// Reason represents why an evaluation produced its value.
type Reason string

const (
	ReasonDefault           Reason = "DEFAULT"
	ReasonTargetingMatch    Reason = "TARGETING_MATCH"
	ReasonPercentageRollout Reason = "PERCENTAGE_ROLLOUT"
	ReasonError             Reason = "ERROR"
)

// ErrorCode is the discrete reason reported for a failed evaluation.
type ErrorCode string

const (
	ErrorCodeNone                ErrorCode = ""
	ErrorCodeConfigNotAvailable  ErrorCode = "CONFIG_JSON_NOT_AVAILABLE"
	ErrorCodeSettingKeyMissing   ErrorCode = "SETTING_KEY_MISSING"
	ErrorCodeInvalidConfigModel  ErrorCode = "INVALID_CONFIG_MODEL"
	ErrorCodeSettingTypeMismatch ErrorCode = "SETTING_VALUE_TYPE_MISMATCH"
	ErrorCodeUnexpected          ErrorCode = "UNEXPECTED_ERROR"
)

var (
	ErrConfigNotAvailable = errors.New("config document is not available")
	ErrSettingKeyMissing  = errors.New("setting key is missing")
	ErrInvalidConfigModel = errors.New("invalid config model")
	ErrTypeMismatch       = errors.New("setting value type mismatch")
)

// Predefined user attribute names.
const (
	AttrIdentifier = "Identifier"
	AttrEmail      = "Email"
	AttrCountry    = "Country"
)

// User is the evaluation context. Custom values may be strings, numbers,
// bools, []string, []any of strings or time.Time.
type User struct {
	Identifier string
	Email      string
	Country    string
	Custom     map[string]any
}

// Attribute looks up an attribute by name. Identifier is always present;
// Email and Country are present when non-empty.
func (u *User) Attribute(name string) (any, bool) {
	if u == nil {
		return nil, false
	}
	switch name {
	case AttrIdentifier:
		return u.Identifier, true
	case AttrEmail:
		if u.Email == "" {
			return nil, false
		}
		return u.Email, true
	case AttrCountry:
		if u.Country == "" {
			return nil, false
		}
		return u.Country, true
	}
	v, ok := u.Custom[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String renders the user as a JSON object for diagnostics.
func (u *User) String() string {
	if u == nil {
		return "null"
	}
	attrs := make(map[string]any, len(u.Custom)+3)
	for k, v := range u.Custom {
		attrs[k] = v
	}
	attrs[AttrIdentifier] = u.Identifier
	if u.Email != "" {
		attrs[AttrEmail] = u.Email
	}
	if u.Country != "" {
		attrs[AttrCountry] = u.Country
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "{\"Identifier\":\"" + u.Identifier + "\"}"
	}
	return string(b)
}

// Result is the outcome of evaluating one setting.
type Result struct {
	Key           string
	Value         any
	VariationID   string
	Reason        Reason
	MatchedRule   *rules.TargetingRule
	MatchedOption *rules.PercentageOption
	ErrorCode     ErrorCode
	Err           error
}

// Details describes an evaluation as reported to hooks and callers.
type Details struct {
	Key            string                  `json:"key"`
	Value          any                     `json:"value"`
	VariationID    string                  `json:"variationId,omitempty"`
	Reason         Reason                  `json:"reason"`
	IsDefaultValue bool                    `json:"isDefaultValue"`
	ErrorCode      ErrorCode               `json:"errorCode,omitempty"`
	Err            error                   `json:"-"`
	ErrorMessage   string                  `json:"errorMessage,omitempty"`
	FetchTime      time.Time               `json:"fetchTime"`
	User           *User                   `json:"-"`
	MatchedRule    *rules.TargetingRule    `json:"-"`
	MatchedOption  *rules.PercentageOption `json:"-"`
}
