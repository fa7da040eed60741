// Package cache keeps the current configuration entry up to date.
//
// The Orchestrator decides when to download, shares the result with other SDK
// instances through a persistent store and tells subscribers about changes:
//   - AutoPoll refreshes from a background goroutine on a fixed interval
//   - LazyLoad refreshes on read once the entry is older than the interval
//   - Manual refreshes only on ForceRefresh
//
// At most one download is in flight at any time.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/TimurManjosov/flagship-go/internal/fetch"
	"github.com/TimurManjosov/flagship-go/internal/hooks"
	"github.com/TimurManjosov/flagship-go/internal/snapshot"
	"github.com/TimurManjosov/flagship-go/internal/store"
	"github.com/TimurManjosov/flagship-go/internal/telemetry"
)

// Log event ids.
const eventCacheError = 2200

const (
	DefaultPollInterval = 60 * time.Second
	DefaultCacheTTL     = 60 * time.Second
	DefaultMaxInitWait  = 5 * time.Second

	// pollTolerance lets a tick refresh an entry that is slightly younger than
	// the interval, since the entry is stamped after the download completes.
	pollTolerance = 500 * time.Millisecond
)

var (
	ErrOffline            = errors.New("client is in offline mode")
	ErrUnknownPollingMode = errors.New("unknown polling mode")
)

// PollingMode selects when the orchestrator downloads.
type PollingMode int

const (
	AutoPoll PollingMode = iota
	LazyLoad
	Manual
)

func (m PollingMode) String() string {
	switch m {
	case AutoPoll:
		return "auto"
	case LazyLoad:
		return "lazy"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("PollingMode(%d)", int(m))
	}
}

// Code is the short mode identifier reported in the user agent.
func (m PollingMode) Code() string {
	switch m {
	case LazyLoad:
		return "l"
	case Manual:
		return "m"
	default:
		return "a"
	}
}

// Valid reports whether m is one of the known modes.
func (m PollingMode) Valid() bool {
	return m >= AutoPoll && m <= Manual
}

// ParsePollingMode accepts "auto", "lazy" and "manual" (case insensitive).
func ParsePollingMode(s string) (PollingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "autopoll", "":
		return AutoPoll, nil
	case "lazy", "lazyload":
		return LazyLoad, nil
	case "manual":
		return Manual, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPollingMode, s)
}

// Key returns the persistent cache key for an SDK key. Other SDK instances
// using the same key share the stored entry.
func Key(sdkKey string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String("go_config_v6.json_"+sdkKey))
}

// Fetcher downloads the configuration. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, etag string) fetch.Outcome
}

// RefreshResult reports the outcome of ForceRefresh.
type RefreshResult struct {
	Success bool
	Err     error
}

// Options configures an Orchestrator.
type Options struct {
	SDKKey  string
	Mode    PollingMode
	Fetcher Fetcher
	// Store is optional; nil keeps the entry in memory only.
	Store store.Store
	// Interval is the poll interval in AutoPoll mode and the entry TTL in LazyLoad mode.
	Interval time.Duration
	// MaxInitWait bounds how long AutoPoll reads wait for the first download.
	MaxInitWait time.Duration
	Offline     bool
	Hooks       *hooks.Hooks
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Orchestrator owns the current snapshot.Entry.
type Orchestrator struct {
	key         string
	mode        PollingMode
	interval    time.Duration
	maxInitWait time.Duration
	fetcher     Fetcher
	store       store.Store
	hooks       *hooks.Hooks
	log         zerolog.Logger
	now         func() time.Time

	current  atomic.Pointer[snapshot.Entry]
	offline  atomic.Bool
	group    singleflight.Group
	notifier snapshot.Notifier

	// lastPayload is the last payload read from or written to the store.
	mu          sync.Mutex
	lastPayload string

	ready     chan struct{}
	readyOnce sync.Once

	// ctx bounds shared downloads and the poll loop; Close cancels it.
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an orchestrator. In AutoPoll mode it starts the polling
// goroutine, which runs until Close.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		key:         Key(opts.SDKKey),
		mode:        opts.Mode,
		interval:    opts.Interval,
		maxInitWait: opts.MaxInitWait,
		fetcher:     opts.Fetcher,
		store:       opts.Store,
		hooks:       opts.Hooks,
		log:         opts.Logger.With().Str("component", "cache").Logger(),
		now:         opts.Now,
		ready:       make(chan struct{}),
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.interval <= 0 {
		o.interval = DefaultPollInterval
		if o.mode == LazyLoad {
			o.interval = DefaultCacheTTL
		}
	}
	if o.maxInitWait <= 0 {
		o.maxInitWait = DefaultMaxInitWait
	}
	o.current.Store(snapshot.Empty)
	o.offline.Store(opts.Offline)
	o.ctx, o.cancel = context.WithCancel(context.Background())

	if o.mode != AutoPoll {
		o.markReady()
		return o
	}

	o.done = make(chan struct{})
	go o.poll(o.ctx)
	return o
}

// CurrentEntry returns the entry evaluations should use, refreshing first
// when the mode and the entry's age require it. It never returns nil.
func (o *Orchestrator) CurrentEntry(ctx context.Context) *snapshot.Entry {
	entry := o.syncFromStore(ctx)

	switch o.mode {
	case LazyLoad:
		if !o.IsOffline() && entry.IsExpired(o.interval, o.now()) {
			o.refresh(ctx)
		}
	case AutoPoll:
		o.waitReady(ctx)
	}
	return o.current.Load()
}

// ForceRefresh downloads the configuration now, regardless of mode.
func (o *Orchestrator) ForceRefresh(ctx context.Context) RefreshResult {
	if o.IsOffline() {
		return RefreshResult{Err: ErrOffline}
	}
	return o.refresh(ctx)
}

// Subscribe returns a channel receiving every new entry whose document changed.
func (o *Orchestrator) Subscribe() (<-chan *snapshot.Entry, func()) {
	return o.notifier.Subscribe()
}

func (o *Orchestrator) SetOnline() {
	if o.offline.CompareAndSwap(true, false) {
		o.log.Info().Msg("switched to online mode")
	}
}

func (o *Orchestrator) SetOffline() {
	if o.offline.CompareAndSwap(false, true) {
		o.log.Info().Msg("switched to offline mode")
	}
}

func (o *Orchestrator) IsOffline() bool {
	return o.offline.Load()
}

// Ready is closed once the first configuration is available or the first
// download attempt has finished.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// Close stops polling. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancel()
		if o.done != nil {
			<-o.done
		}
	})
}

// ---- refresh ----

// refresh joins the download in flight or starts one. The download runs on
// the orchestrator's context; ctx only bounds how long this caller waits.
func (o *Orchestrator) refresh(ctx context.Context) RefreshResult {
	ch := o.group.DoChan("refresh", func() (any, error) {
		return o.download(o.ctx), nil
	})
	select {
	case r := <-ch:
		return r.Val.(RefreshResult)
	case <-ctx.Done():
		return RefreshResult{Err: ctx.Err()}
	}
}

func (o *Orchestrator) download(ctx context.Context) RefreshResult {
	prev := o.syncFromStore(ctx)

	start := time.Now()
	out := o.fetcher.Fetch(ctx, prev.ETag)
	telemetry.RecordFetch(out.Status.String(), time.Since(start))

	defer o.markReady()

	switch out.Status {
	case fetch.Fetched:
		o.apply(out.Entry)
		o.persist(ctx, out.Entry)
		return RefreshResult{Success: true}

	case fetch.NotModified:
		if prev.IsEmpty() {
			return RefreshResult{Err: errors.New("config not modified but no entry is cached")}
		}
		bumped := prev.WithFetchTime(o.now())
		o.current.Store(bumped)
		o.persist(ctx, bumped)
		return RefreshResult{Success: true}

	default:
		err := out.Err
		if err == nil {
			err = errors.New("config download failed")
		}
		o.hooks.EmitError("Failed to download the config JSON", err)
		return RefreshResult{Err: err}
	}
}

// apply makes e current and announces it when its document differs.
func (o *Orchestrator) apply(e *snapshot.Entry) {
	o.announce(o.current.Swap(e), e)
}

// adopt makes e current only if old still is.
func (o *Orchestrator) adopt(old, e *snapshot.Entry) bool {
	if !o.current.CompareAndSwap(old, e) {
		return false
	}
	o.announce(old, e)
	return true
}

func (o *Orchestrator) announce(old, e *snapshot.Entry) {
	if !old.IsEmpty() && old.RawText == e.RawText {
		return
	}

	telemetry.ConfigChanges.Inc()
	telemetry.SnapshotSettings.Set(float64(len(e.Document.Settings)))
	o.log.Debug().Str("etag", e.ETag).Int("settings", len(e.Document.Settings)).Msg("config changed")

	o.hooks.EmitConfigChanged(e.Document)
	o.notifier.Publish(e)
}

// ---- persistence ----

// syncFromStore adopts a persisted entry written by another instance when it
// is newer than the current one, and returns the current entry.
func (o *Orchestrator) syncFromStore(ctx context.Context) *snapshot.Entry {
	current := o.current.Load()
	if o.store == nil {
		return current
	}

	payload, err := o.store.Get(ctx, o.key)
	if err != nil {
		o.cacheError("read", err)
		return current
	}
	if payload == nil {
		return current
	}

	text := string(payload)
	o.mu.Lock()
	unchanged := text == o.lastPayload
	o.lastPayload = text
	o.mu.Unlock()
	if unchanged {
		return current
	}

	entry, err := snapshot.Deserialize(text)
	if err != nil {
		o.cacheError("read", err)
		return current
	}
	if !current.IsEmpty() && !entry.FetchTime.After(current.FetchTime) {
		return current
	}

	if !o.adopt(current, entry) {
		return o.current.Load()
	}
	o.markReady()
	return entry
}

func (o *Orchestrator) persist(ctx context.Context, e *snapshot.Entry) {
	if o.store == nil {
		return
	}
	payload := e.Serialize()
	if err := o.store.Set(ctx, o.key, []byte(payload)); err != nil {
		o.cacheError("write", err)
		return
	}
	o.mu.Lock()
	o.lastPayload = payload
	o.mu.Unlock()
}

func (o *Orchestrator) cacheError(op string, err error) {
	telemetry.RecordCacheError(op)
	o.log.Error().Err(err).Int("event_id", eventCacheError).Str("op", op).
		Msg("error occurred while accessing the config cache")
}

// ---- lifecycle ----

func (o *Orchestrator) poll(ctx context.Context) {
	defer close(o.done)

	o.pollOnce(ctx)
	o.markReady()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollOnce(ctx)
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context) {
	entry := o.syncFromStore(ctx)
	if o.IsOffline() {
		return
	}
	if entry.IsExpired(o.interval-pollTolerance, o.now()) {
		o.refresh(ctx)
	}
}

func (o *Orchestrator) markReady() {
	o.readyOnce.Do(func() {
		close(o.ready)
		o.hooks.EmitClientReady()
	})
}

func (o *Orchestrator) waitReady(ctx context.Context) {
	select {
	case <-o.ready:
		return
	default:
	}

	timer := time.NewTimer(o.maxInitWait)
	defer timer.Stop()
	select {
	case <-o.ready:
	case <-timer.C:
		o.log.Warn().Dur("max_init_wait", o.maxInitWait).Msg("config not downloaded within the initial wait time")
	case <-ctx.Done():
	}
}
