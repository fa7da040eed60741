// Package flagship is a client for remotely managed feature flags and settings.
//
// The client downloads a configuration document from the CDN, keeps it in
// memory and optionally in a shared persistent cache, and evaluates settings
// locally against a User:
//   - evaluation never performs network calls
//   - a failed evaluation returns the caller's default value with details
//   - all methods are safe for concurrent use
package flagship

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-go/internal/cache"
	"github.com/TimurManjosov/flagship-go/internal/engine"
	"github.com/TimurManjosov/flagship-go/internal/fetch"
	"github.com/TimurManjosov/flagship-go/internal/hooks"
	"github.com/TimurManjosov/flagship-go/internal/override"
	"github.com/TimurManjosov/flagship-go/internal/rules"
	"github.com/TimurManjosov/flagship-go/internal/telemetry"
)

// Log event ids.
const (
	eventConfigNotAvailable = 1000
	eventSettingMissing     = 1001
	eventEvaluationError    = 1002
	eventVariationNotFound  = 2011
	eventHookPanicked       = 3500
)

// ErrLocalOnly is returned by ForceRefresh when overrides replace the remote configuration.
var ErrLocalOnly = errors.New("client uses local-only overrides")

// Client evaluates feature flags. Create it with NewClient and release it with Close.
type Client struct {
	log          zerolog.Logger
	fetcher      *fetch.Fetcher
	orchestrator *cache.Orchestrator
	evaluator    *engine.Evaluator
	hooks        *hooks.Hooks
	userHooks    *hooks.Hooks
	overrides    *override.Source
	defaultUser  atomic.Pointer[User]
	closeOnce    sync.Once
}

// NewClient validates opts and starts a client. In AutoPoll mode the first
// download starts immediately in the background.
func NewClient(sdkKey string, opts Options) (*Client, error) {
	if err := opts.validate(sdkKey); err != nil {
		return nil, err
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	log = log.With().Str("component", "client").Logger()

	h := opts.Hooks
	if h == nil {
		h = &Hooks{}
	}
	onPanic := func(event string, recovered any) {
		log.Error().Err(hooks.PanicError(recovered)).Int("event_id", eventHookPanicked).Str("hook", event).Msg("hook callback panicked")
	}

	c := &Client{
		log:       log,
		evaluator: engine.NewEvaluator(log),
		hooks:     h.WithPanicHandler(onPanic),
		userHooks: h,
		overrides: opts.Overrides,
	}
	if opts.DefaultUser != nil {
		c.defaultUser.Store(opts.DefaultUser)
	}

	c.fetcher = fetch.New(fetch.Options{
		SDKKey:         sdkKey,
		BaseURL:        opts.BaseURL,
		DataGovernance: opts.DataGovernance,
		Mode:           opts.PollingMode.Code(),
		Version:        Version,
		Client:         opts.HTTPClient,
		Timeout:        opts.Timeout,
		Logger:         log,
	})

	offline := opts.Offline
	if c.localOnly() {
		offline = true
	}
	c.orchestrator = cache.New(cache.Options{
		SDKKey:      sdkKey,
		Mode:        opts.PollingMode,
		Fetcher:     c.fetcher,
		Store:       opts.Cache,
		Interval:    opts.PollInterval,
		MaxInitWait: opts.MaxInitWait,
		Offline:     offline,
		Hooks:       c.hooks,
		Logger:      log,
	})
	return c, nil
}

func (c *Client) localOnly() bool {
	return c.overrides != nil && c.overrides.Behaviour() == override.LocalOnly
}

// ---- evaluation ----

// GetValue returns the value of key for user, or defaultValue when the
// evaluation fails. A non-nil defaultValue must match the setting's type.
func (c *Client) GetValue(ctx context.Context, key string, defaultValue any, user *User) any {
	return c.GetValueDetails(ctx, key, defaultValue, user).Value
}

func (c *Client) GetBoolValue(ctx context.Context, key string, defaultValue bool, user *User) bool {
	v, _ := c.GetValueDetails(ctx, key, defaultValue, user).Value.(bool)
	return v
}

func (c *Client) GetStringValue(ctx context.Context, key string, defaultValue string, user *User) string {
	v, _ := c.GetValueDetails(ctx, key, defaultValue, user).Value.(string)
	return v
}

func (c *Client) GetIntValue(ctx context.Context, key string, defaultValue int, user *User) int {
	v, _ := c.GetValueDetails(ctx, key, defaultValue, user).Value.(int)
	return v
}

func (c *Client) GetFloatValue(ctx context.Context, key string, defaultValue float64, user *User) float64 {
	v, _ := c.GetValueDetails(ctx, key, defaultValue, user).Value.(float64)
	return v
}

// GetValueDetails is GetValue returning how the value was produced.
// A nil user falls back to the default user.
func (c *Client) GetValueDetails(ctx context.Context, key string, defaultValue any, user *User) EvaluationDetails {
	doc, fetchTime := c.document(ctx)
	return c.evaluate(doc, fetchTime, key, defaultValue, c.userOrDefault(user))
}

// GetAllKeys returns the setting keys in lexical order.
func (c *Client) GetAllKeys(ctx context.Context) []string {
	doc, _ := c.document(ctx)
	if doc == nil {
		c.log.Error().Int("event_id", eventConfigNotAvailable).Msg("config JSON is not present, returning empty key list")
		return nil
	}
	return doc.Keys()
}

// GetAllValues evaluates every setting; settings that fail to evaluate are omitted.
func (c *Client) GetAllValues(ctx context.Context, user *User) map[string]any {
	details := c.GetAllValueDetails(ctx, user)
	values := make(map[string]any, len(details))
	for _, d := range details {
		if d.Err == nil {
			values[d.Key] = d.Value
		}
	}
	return values
}

// GetAllValueDetails evaluates every setting, ordered by key.
func (c *Client) GetAllValueDetails(ctx context.Context, user *User) []EvaluationDetails {
	doc, fetchTime := c.document(ctx)
	if doc == nil {
		c.log.Error().Int("event_id", eventConfigNotAvailable).Msg("config JSON is not present, returning empty result")
		return nil
	}
	user = c.userOrDefault(user)

	keys := doc.Keys()
	out := make([]EvaluationDetails, 0, len(keys))
	for _, key := range keys {
		out = append(out, c.evaluate(doc, fetchTime, key, nil, user))
	}
	return out
}

// GetKeyAndValue finds the setting key and value that a variation ID belongs to.
func (c *Client) GetKeyAndValue(ctx context.Context, variationID string) (string, any, bool) {
	doc, _ := c.document(ctx)
	if doc == nil {
		c.log.Error().Int("event_id", eventConfigNotAvailable).Msg("config JSON is not present")
		return "", nil, false
	}

	keys := doc.Keys()
	for _, key := range keys {
		setting := doc.Settings[key]
		if v, ok := variationValue(setting, variationID); ok {
			return key, v, true
		}
	}

	c.log.Error().Int("event_id", eventVariationNotFound).Str("variation_id", variationID).
		Msg("could not find the setting for the specified variation ID")
	return "", nil, false
}

func variationValue(s *rules.Setting, id string) (any, bool) {
	match := func(vid string, v rules.SettingValue) (any, bool) {
		if vid != id {
			return nil, false
		}
		resolved, err := v.Resolve(s.Type)
		return resolved, err == nil
	}

	if v, ok := match(s.VariationID, s.Value); ok {
		return v, true
	}
	for _, rule := range s.TargetingRules {
		if rule.Served != nil {
			if v, ok := match(rule.Served.VariationID, rule.Served.Value); ok {
				return v, true
			}
		}
		for _, opt := range rule.PercentageOptions {
			if v, ok := match(opt.VariationID, opt.Value); ok {
				return v, true
			}
		}
	}
	for _, opt := range s.PercentageOptions {
		if v, ok := match(opt.VariationID, opt.Value); ok {
			return v, true
		}
	}
	return nil, false
}

func (c *Client) evaluate(doc *rules.Document, fetchTime time.Time, key string, defaultValue any, user *User) EvaluationDetails {
	res := c.evaluator.Evaluate(doc, key, user)
	if res.Err == nil && defaultValue != nil && !sameKind(res.Value, defaultValue) {
		res = engine.Result{
			Key:       key,
			Reason:    engine.ReasonError,
			ErrorCode: engine.ErrorCodeSettingTypeMismatch,
			Err: fmt.Errorf("%w: setting %q is of type %T but the default value is of type %T",
				engine.ErrTypeMismatch, key, res.Value, defaultValue),
		}
	}

	d := EvaluationDetails{
		Key:           key,
		Value:         res.Value,
		VariationID:   res.VariationID,
		Reason:        res.Reason,
		ErrorCode:     res.ErrorCode,
		Err:           res.Err,
		FetchTime:     fetchTime,
		User:          user,
		MatchedRule:   res.MatchedRule,
		MatchedOption: res.MatchedOption,
	}
	if res.Err != nil {
		d.Value = defaultValue
		d.IsDefaultValue = true
		d.ErrorMessage = res.Err.Error()
		c.log.Error().Err(res.Err).Int("event_id", errorEvent(res.ErrorCode)).Str("key", key).
			Str("error_code", string(res.ErrorCode)).Msg("failed to evaluate setting, returning the default value")
		c.hooks.EmitError(fmt.Sprintf("failed to evaluate setting '%s' (%s), returning the default value", key, res.ErrorCode), res.Err)
	}

	telemetry.RecordEvaluation(string(d.Reason))
	c.hooks.EmitFlagEvaluated(d)
	return d
}

func errorEvent(code engine.ErrorCode) int {
	switch code {
	case engine.ErrorCodeConfigNotAvailable:
		return eventConfigNotAvailable
	case engine.ErrorCodeSettingKeyMissing:
		return eventSettingMissing
	default:
		return eventEvaluationError
	}
}

// sameKind reports whether an evaluated value can be returned for a default
// value of the given dynamic type.
func sameKind(value, defaultValue any) bool {
	switch defaultValue.(type) {
	case bool:
		_, ok := value.(bool)
		return ok
	case string:
		_, ok := value.(string)
		return ok
	case int:
		_, ok := value.(int)
		return ok
	case float64:
		_, ok := value.(float64)
		return ok
	}
	return false
}

// document returns the document to evaluate with overrides applied, and its fetch time.
func (c *Client) document(ctx context.Context) (*rules.Document, time.Time) {
	if c.localOnly() {
		return c.overrides.Document(), time.Time{}
	}
	entry := c.orchestrator.CurrentEntry(ctx)
	doc := entry.Document
	if c.overrides != nil {
		doc = c.overrides.Apply(doc)
	}
	return doc, entry.FetchTime
}

// ---- state ----

// ForceRefresh downloads the configuration now.
func (c *Client) ForceRefresh(ctx context.Context) RefreshResult {
	if c.localOnly() {
		return RefreshResult{Err: ErrLocalOnly}
	}
	return c.orchestrator.ForceRefresh(ctx)
}

// SetOnline resumes network activity. It has no effect with local-only overrides.
func (c *Client) SetOnline() {
	if c.localOnly() {
		c.log.Warn().Msg("client uses local-only overrides, staying offline")
		return
	}
	c.orchestrator.SetOnline()
}

// SetOffline stops all network activity; evaluations use the cached configuration.
func (c *Client) SetOffline() {
	c.orchestrator.SetOffline()
}

func (c *Client) IsOffline() bool {
	return c.orchestrator.IsOffline()
}

// SetDefaultUser sets the user used by evaluations that pass a nil user.
func (c *Client) SetDefaultUser(user *User) {
	c.defaultUser.Store(user)
}

func (c *Client) ClearDefaultUser() {
	c.defaultUser.Store(nil)
}

func (c *Client) userOrDefault(user *User) *User {
	if user != nil {
		return user
	}
	return c.defaultUser.Load()
}

// Hooks returns the client's hooks for registering callbacks.
func (c *Client) Hooks() *Hooks {
	return c.userHooks
}

// Subscribe returns a channel receiving each newly downloaded configuration.
func (c *Client) Subscribe() (<-chan *Snapshot, func()) {
	return c.orchestrator.Subscribe()
}

// Ready is closed once the first configuration is available or the first download failed.
func (c *Client) Ready() <-chan struct{} {
	return c.orchestrator.Ready()
}

// Snapshot returns the current downloaded configuration without overrides.
func (c *Client) Snapshot(ctx context.Context) *Snapshot {
	return c.orchestrator.CurrentEntry(ctx)
}

// Close stops polling and releases idle connections. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.orchestrator.Close()
		c.fetcher.CloseIdleConnections()
	})
}
