package flagship

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-go/internal/cache"
	"github.com/TimurManjosov/flagship-go/internal/engine"
	"github.com/TimurManjosov/flagship-go/internal/fetch"
	"github.com/TimurManjosov/flagship-go/internal/hooks"
	"github.com/TimurManjosov/flagship-go/internal/override"
	"github.com/TimurManjosov/flagship-go/internal/rules"
	"github.com/TimurManjosov/flagship-go/internal/snapshot"
	"github.com/TimurManjosov/flagship-go/internal/store"
)

// Version is reported to the CDN in the user agent header.
const Version = "1.0.0"

type (
	// User is the evaluation context.
	User = engine.User
	// EvaluationDetails describes one evaluation.
	EvaluationDetails = engine.Details
	// ErrorCode explains a failed evaluation.
	ErrorCode = engine.ErrorCode
	// Reason explains where an evaluated value came from.
	Reason = engine.Reason
	// Hooks holds lifecycle callbacks. The zero value is ready to use.
	Hooks = hooks.Hooks
	// RefreshResult reports the outcome of ForceRefresh.
	RefreshResult = cache.RefreshResult
	// PollingMode selects when the configuration is downloaded.
	PollingMode = cache.PollingMode
	// DataGovernance selects the CDN region of the first request.
	DataGovernance = fetch.DataGovernance
	// ConfigCache is a persistent cache shared between SDK instances.
	// Get returns (nil, nil) for absent keys.
	ConfigCache = store.Store
	// Doer sends HTTP requests; *http.Client satisfies it.
	Doer = fetch.Doer
	// Overrides holds local setting values.
	Overrides = override.Source
	// OverrideBehaviour decides how local values combine with remote ones.
	OverrideBehaviour = override.Behaviour
	// Snapshot is an immutable downloaded configuration.
	Snapshot = snapshot.Entry
	// Document is a parsed configuration, as passed to config changed hooks.
	Document = rules.Document
)

const (
	AutoPoll = cache.AutoPoll
	LazyLoad = cache.LazyLoad
	Manual   = cache.Manual
)

const (
	Global = fetch.Global
	EUOnly = fetch.EUOnly
)

const (
	LocalOnly       = override.LocalOnly
	LocalOverRemote = override.LocalOverRemote
	RemoteOverLocal = override.RemoteOverLocal
)

// OverridesFromMap builds overrides from plain bool, string, integer and float values.
func OverridesFromMap(values map[string]any, b OverrideBehaviour) *Overrides {
	return override.FromMap(values, b)
}

// OverridesFromFile reads overrides from a YAML or JSON file.
func OverridesFromFile(path string, b OverrideBehaviour) (*Overrides, error) {
	return override.FromFile(path, b)
}

// Options configures a Client. The zero value polls the global CDN every
// 60 seconds and keeps the configuration in memory only.
type Options struct {
	PollingMode PollingMode
	// PollInterval is the AutoPoll interval or the LazyLoad cache TTL.
	PollInterval time.Duration
	// MaxInitWait bounds how long AutoPoll evaluations wait for the first download.
	MaxInitWait time.Duration

	// BaseURL replaces the CDN endpoint. Only forced redirects override it.
	BaseURL        string
	DataGovernance DataGovernance
	HTTPClient     Doer
	// Timeout applies to the default HTTP client.
	Timeout time.Duration

	Cache       ConfigCache
	Offline     bool
	DefaultUser *User
	Overrides   *Overrides
	// Hooks receive events raised during construction too, such as client ready.
	// They may be shared between clients; each client logs callback panics
	// through its own Logger.
	Hooks  *Hooks
	Logger *zerolog.Logger
}

// ValidationError reports an invalid option passed to NewClient.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid client options [%s]: %s", e.Field, e.Message)
}

func (o *Options) validate(sdkKey string) error {
	if strings.TrimSpace(sdkKey) == "" {
		return ValidationError{Field: "SDKKey", Message: "SDK key cannot be empty"}
	}
	if o.PollInterval < 0 {
		return ValidationError{Field: "PollInterval", Message: fmt.Sprintf("must not be negative, got %v", o.PollInterval)}
	}
	if o.MaxInitWait < 0 {
		return ValidationError{Field: "MaxInitWait", Message: fmt.Sprintf("must not be negative, got %v", o.MaxInitWait)}
	}
	if !o.PollingMode.Valid() {
		return ValidationError{Field: "PollingMode", Message: fmt.Sprintf("unknown polling mode %d", int(o.PollingMode))}
	}
	if o.BaseURL != "" {
		u, err := url.Parse(o.BaseURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return ValidationError{Field: "BaseURL", Message: fmt.Sprintf("must be an absolute URL, got %q", o.BaseURL)}
		}
	}
	return nil
}
