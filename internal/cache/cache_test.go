package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/flagship-go/internal/fetch"
	"github.com/TimurManjosov/flagship-go/internal/hooks"
	"github.com/TimurManjosov/flagship-go/internal/rules"
	"github.com/TimurManjosov/flagship-go/internal/snapshot"
	"github.com/TimurManjosov/flagship-go/internal/store"
)

const (
	sdkKey = "test-sdk-key"
	docV1  = `{"f":{"flag":{"t":0,"v":{"b":true}}}}`
	docV2  = `{"f":{"flag":{"t":0,"v":{"b":false}},"other":{"t":1,"v":{"s":"x"}}}}`
)

// ---- helpers ----

type fakeFetcher struct {
	mu       sync.Mutex
	outcomes []fetch.Outcome
	etags    []string
	block    chan struct{}

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// Fetch returns the queued outcomes in order and repeats the last one.
func (f *fakeFetcher) Fetch(ctx context.Context, etag string) fetch.Outcome {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return fetch.Outcome{Status: fetch.Failed, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.etags = append(f.etags, etag)
	out := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	return out
}

func (f *fakeFetcher) seenETags() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.etags...)
}

func entry(t *testing.T, raw, etag string, at time.Time) *snapshot.Entry {
	t.Helper()
	doc, err := rules.Parse([]byte(raw))
	require.NoError(t, err)
	return snapshot.NewEntry(raw, doc, etag, at)
}

func fetched(e *snapshot.Entry) fetch.Outcome {
	return fetch.Outcome{Status: fetch.Fetched, Entry: e}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("store down") }
func (failingStore) Set(context.Context, string, []byte) error   { return errors.New("store down") }

// racingStore runs beforeGet once, ahead of the first read.
type racingStore struct {
	store.Store
	once      sync.Once
	beforeGet func()
}

func (s *racingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.once.Do(s.beforeGet)
	return s.Store.Get(ctx, key)
}

// ---- key & modes ----

func TestKey(t *testing.T) {
	k := Key(sdkKey)
	assert.Len(t, k, 16)
	assert.Equal(t, k, Key(sdkKey))
	assert.NotEqual(t, k, Key("other-key"))
}

func TestParsePollingMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PollingMode
		wantErr bool
	}{
		{"auto", AutoPoll, false},
		{"", AutoPoll, false},
		{"LAZY", LazyLoad, false},
		{"manual", Manual, false},
		{"sometimes", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePollingMode(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownPollingMode, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.Equal(t, "a", AutoPoll.Code())
	assert.Equal(t, "l", LazyLoad.Code())
	assert.Equal(t, "m", Manual.Code())
	assert.False(t, PollingMode(9).Valid())
}

// ---- manual mode ----

func TestManual_ForceRefreshLoadsEntry(t *testing.T) {
	e1 := entry(t, docV1, "etag-1", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1)}}

	h := hooks.New(nil)
	var changed []*rules.Document
	h.OnConfigChanged(func(d *rules.Document) { changed = append(changed, d) })

	o := New(Options{SDKKey: sdkKey, Mode: Manual, Fetcher: f, Hooks: h})
	defer o.Close()

	ch, unsub := o.Subscribe()
	defer unsub()

	assert.True(t, o.CurrentEntry(context.Background()).IsEmpty())
	assert.Zero(t, f.calls.Load(), "manual mode never fetches on read")

	res := o.ForceRefresh(context.Background())
	require.True(t, res.Success)
	require.NoError(t, res.Err)

	assert.Same(t, e1, o.CurrentEntry(context.Background()))
	require.Len(t, changed, 1)
	assert.Same(t, e1.Document, changed[0])

	select {
	case got := <-ch:
		assert.Same(t, e1, got)
	default:
		t.Fatal("subscriber was not notified")
	}
}

func TestNotModified_BumpsFetchTimeOnly(t *testing.T) {
	t0 := time.Now().Add(-time.Hour)
	t1 := time.Now()
	e1 := entry(t, docV1, "etag-1", t0)
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1), {Status: fetch.NotModified}}}

	changes := 0
	h := hooks.New(nil)
	h.OnConfigChanged(func(*rules.Document) { changes++ })

	o := New(Options{SDKKey: sdkKey, Mode: Manual, Fetcher: f, Hooks: h, Now: func() time.Time { return t1 }})
	defer o.Close()

	require.True(t, o.ForceRefresh(context.Background()).Success)
	require.True(t, o.ForceRefresh(context.Background()).Success)

	got := o.CurrentEntry(context.Background())
	assert.Same(t, e1.Document, got.Document, "document pointer is reused")
	assert.Equal(t, t1.UnixMilli(), got.FetchTime.UnixMilli())
	assert.Equal(t, "etag-1", got.ETag)
	assert.Equal(t, []string{"", "etag-1"}, f.seenETags())
	assert.Equal(t, 1, changes)
}

func TestFailure_KeepsPreviousEntry(t *testing.T) {
	e1 := entry(t, docV1, "etag-1", time.Now())
	boom := errors.New("HTTP 502")
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1), {Status: fetch.Failed, Err: boom}}}

	var reported error
	h := hooks.New(nil)
	h.OnError(func(_ string, err error) { reported = err })

	o := New(Options{SDKKey: sdkKey, Mode: Manual, Fetcher: f, Hooks: h})
	defer o.Close()

	require.True(t, o.ForceRefresh(context.Background()).Success)
	res := o.ForceRefresh(context.Background())

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, boom)
	assert.ErrorIs(t, reported, boom)
	assert.Same(t, e1, o.CurrentEntry(context.Background()))
}

func TestNotModified_WithoutEntryFails(t *testing.T) {
	f := &fakeFetcher{outcomes: []fetch.Outcome{{Status: fetch.NotModified}}}
	o := New(Options{SDKKey: sdkKey, Mode: Manual, Fetcher: f})
	defer o.Close()

	res := o.ForceRefresh(context.Background())
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
	assert.True(t, o.CurrentEntry(context.Background()).IsEmpty())
}

func TestForceRefresh_SingleInFlight(t *testing.T) {
	e1 := entry(t, docV1, "etag-1", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1)}, block: make(chan struct{})}

	o := New(Options{SDKKey: sdkKey, Mode: Manual, Fetcher: f})
	defer o.Close()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]RefreshResult, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.ForceRefresh(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.block)
	wg.Wait()

	assert.Equal(t, int32(1), f.maxInFlight.Load())
	for _, r := range results {
		assert.True(t, r.Success)
	}
}

func TestForceRefresh_CancelledCallerDoesNotFailOthers(t *testing.T) {
	e1 := entry(t, docV1, "etag-1", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1)}, block: make(chan struct{})}

	reported := 0
	h := hooks.New(nil)
	h.OnError(func(string, error) { reported++ })

	o := New(Options{SDKKey: sdkKey, Mode: Manual, Fetcher: f, Hooks: h})
	defer o.Close()

	first, cancel := context.WithCancel(context.Background())
	firstRes := make(chan RefreshResult, 1)
	go func() { firstRes <- o.ForceRefresh(first) }()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	secondRes := make(chan RefreshResult, 1)
	go func() { secondRes <- o.ForceRefresh(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	res := <-firstRes
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)

	close(f.block)
	res = <-secondRes
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Zero(t, reported)
	assert.Same(t, e1, o.CurrentEntry(context.Background()))
}

// ---- persistence ----

func TestPersist_WritesSerializedEntry(t *testing.T) {
	e1 := entry(t, docV1, "etag-1", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1)}}
	st := store.NewMemoryStore()

	o := New(Options{SDKKey: sdkKey, Mode: Manual, Fetcher: f, Store: st})
	defer o.Close()
	require.True(t, o.ForceRefresh(context.Background()).Success)

	payload, err := st.Get(context.Background(), Key(sdkKey))
	require.NoError(t, err)
	assert.Equal(t, e1.Serialize(), string(payload))
}

func TestLazyLoad_ReusesFreshPersistedEntry(t *testing.T) {
	st := store.NewMemoryStore()
	persisted := entry(t, docV1, "etag-shared", time.Now())
	require.NoError(t, st.Set(context.Background(), Key(sdkKey), []byte(persisted.Serialize())))

	f := &fakeFetcher{outcomes: []fetch.Outcome{{Status: fetch.Failed, Err: errors.New("unused")}}}
	o := New(Options{SDKKey: sdkKey, Mode: LazyLoad, Interval: time.Minute, Fetcher: f, Store: st})
	defer o.Close()

	got := o.CurrentEntry(context.Background())
	require.False(t, got.IsEmpty())
	assert.Equal(t, "etag-shared", got.ETag)
	assert.Zero(t, f.calls.Load())
}

func TestLazyLoad_RefreshesStalePersistedEntry(t *testing.T) {
	st := store.NewMemoryStore()
	stale := entry(t, docV1, "etag-old", time.Now().Add(-2*time.Minute))
	require.NoError(t, st.Set(context.Background(), Key(sdkKey), []byte(stale.Serialize())))

	fresh := entry(t, docV2, "etag-new", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(fresh)}}
	o := New(Options{SDKKey: sdkKey, Mode: LazyLoad, Interval: time.Minute, Fetcher: f, Store: st})
	defer o.Close()

	got := o.CurrentEntry(context.Background())
	assert.Same(t, fresh, got)
	assert.Equal(t, []string{"etag-old"}, f.seenETags())

	// a second read within the TTL does not fetch again
	o.CurrentEntry(context.Background())
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestPersistenceErrors_DegradeToCacheMiss(t *testing.T) {
	var buf bytes.Buffer
	e1 := entry(t, docV1, "etag-1", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1)}}

	o := New(Options{SDKKey: sdkKey, Mode: LazyLoad, Fetcher: f, Store: failingStore{}, Logger: zerolog.New(&buf)})
	defer o.Close()

	got := o.CurrentEntry(context.Background())
	assert.Same(t, e1, got)
	assert.Contains(t, buf.String(), `"event_id":2200`)
	assert.Contains(t, buf.String(), `"op":"read"`)
	assert.Contains(t, buf.String(), `"op":"write"`)
}

func TestSyncFromStore_KeepsNewerEntryLoadedMeanwhile(t *testing.T) {
	older := entry(t, docV1, "etag-1", time.Now().Add(-time.Hour))
	newer := entry(t, docV2, "etag-2", time.Now())

	mem := store.NewMemoryStore()
	require.NoError(t, mem.Set(context.Background(), Key(sdkKey), []byte(older.Serialize())))

	var o *Orchestrator
	st := &racingStore{Store: mem, beforeGet: func() { o.apply(newer) }}
	o = New(Options{SDKKey: sdkKey, Mode: Manual, Fetcher: &fakeFetcher{}, Store: st})
	defer o.Close()

	assert.Same(t, newer, o.CurrentEntry(context.Background()))
	assert.Same(t, newer, o.CurrentEntry(context.Background()))
}

func TestCorruptPayload_IsIgnored(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(context.Background(), Key(sdkKey), []byte("not a payload")))

	e1 := entry(t, docV1, "etag-1", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1)}}
	o := New(Options{SDKKey: sdkKey, Mode: LazyLoad, Fetcher: f, Store: st, Logger: zerolog.Nop()})
	defer o.Close()

	assert.Same(t, e1, o.CurrentEntry(context.Background()))
	assert.Equal(t, []string{""}, f.seenETags())
}

// ---- offline ----

func TestOffline_SuppressesNetwork(t *testing.T) {
	st := store.NewMemoryStore()
	stale := entry(t, docV1, "etag-old", time.Now().Add(-time.Hour))
	require.NoError(t, st.Set(context.Background(), Key(sdkKey), []byte(stale.Serialize())))

	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(entry(t, docV2, "etag-new", time.Now()))}}
	o := New(Options{SDKKey: sdkKey, Mode: LazyLoad, Interval: time.Minute, Fetcher: f, Store: st, Offline: true})
	defer o.Close()

	assert.True(t, o.IsOffline())
	assert.Equal(t, "etag-old", o.CurrentEntry(context.Background()).ETag)

	res := o.ForceRefresh(context.Background())
	assert.ErrorIs(t, res.Err, ErrOffline)
	assert.Zero(t, f.calls.Load())

	o.SetOnline()
	assert.False(t, o.IsOffline())
	assert.Equal(t, "etag-new", o.CurrentEntry(context.Background()).ETag)
}

// ---- auto poll ----

func TestAutoPoll_PollsUntilClosed(t *testing.T) {
	e1 := entry(t, docV1, "etag-1", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1), {Status: fetch.NotModified}}}

	ready := make(chan struct{})
	h := hooks.New(nil)
	h.OnClientReady(func() { close(ready) })

	o := New(Options{SDKKey: sdkKey, Mode: AutoPoll, Interval: 10 * time.Millisecond, Fetcher: f, Hooks: h})

	got := o.CurrentEntry(context.Background())
	assert.Equal(t, "etag-1", got.ETag)

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("client ready hook did not fire")
	}

	require.Eventually(t, func() bool { return f.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	o.Close()
	o.Close()
	calls := f.calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, f.calls.Load(), "no polling after Close")
}

func TestAutoPoll_MaxInitWait(t *testing.T) {
	e1 := entry(t, docV1, "etag-1", time.Now())
	f := &fakeFetcher{outcomes: []fetch.Outcome{fetched(e1)}, block: make(chan struct{})}

	o := New(Options{SDKKey: sdkKey, Mode: AutoPoll, Interval: time.Minute, MaxInitWait: 20 * time.Millisecond, Fetcher: f, Logger: zerolog.Nop()})
	defer o.Close()

	start := time.Now()
	got := o.CurrentEntry(context.Background())
	assert.True(t, got.IsEmpty())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	close(f.block)
	<-o.Ready()
	assert.Same(t, e1, o.CurrentEntry(context.Background()))
}

func TestAutoPoll_CloseCancelsInFlightFetch(t *testing.T) {
	f := &fakeFetcher{outcomes: []fetch.Outcome{{Status: fetch.NotModified}}, block: make(chan struct{})}
	o := New(Options{SDKKey: sdkKey, Mode: AutoPoll, Interval: time.Minute, Fetcher: f})

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on an in-flight fetch")
	}
}
