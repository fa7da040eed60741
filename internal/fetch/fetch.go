// Package fetch downloads configuration documents with conditional requests
// and follows data governance redirects with a bounded number of hops.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-go/internal/rules"
	"github.com/TimurManjosov/flagship-go/internal/snapshot"
)

// Base URLs of the two data governance regions.
const (
	GlobalBaseURL = "https://cdn-global.goflagship.io"
	EUBaseURL     = "https://cdn-eu.goflagship.io"
)

// DataGovernance selects the region the first request goes to.
type DataGovernance int

const (
	Global DataGovernance = iota
	EUOnly
)

// BaseURL returns the default base URL of the region.
func (d DataGovernance) BaseURL() string {
	if d == EUOnly {
		return EUBaseURL
	}
	return GlobalBaseURL
}

// UserAgentHeader identifies the SDK to the backing service.
const UserAgentHeader = "X-Flagship-UserAgent"

// maxRedirects bounds the additional requests made for one Fetch.
const maxRedirects = 2

// Log event ids.
const (
	eventFetchFailed        = 1100
	eventInvalidSDKKey      = 1101
	eventUnexpectedStatus   = 1102
	eventTransportError     = 1103
	eventParseError         = 1105
	eventGovernanceMismatch = 2001
	eventRedirectLoop       = 2002
)

var (
	ErrInvalidSDKKey    = errors.New("invalid SDK key")
	ErrUnexpectedStatus = errors.New("unexpected HTTP response")
	ErrTransport        = errors.New("request failed")
	ErrInvalidBody      = errors.New("invalid config document in response")
)

// Status is the kind of a fetch outcome.
type Status int

const (
	Fetched Status = iota
	NotModified
	Failed
)

func (s Status) String() string {
	switch s {
	case Fetched:
		return "fetched"
	case NotModified:
		return "not_modified"
	default:
		return "failed"
	}
}

// Outcome is the result of one Fetch. Entry is set only when Status is Fetched,
// Err only when it is Failed.
type Outcome struct {
	Status Status
	Entry  *snapshot.Entry
	Err    error
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Fetcher.
type Options struct {
	SDKKey string
	// BaseURL pins a custom endpoint; only FORCE redirects override it.
	BaseURL        string
	DataGovernance DataGovernance
	// Mode and Version are reported in the user agent header.
	Mode    string
	Version string
	// Client defaults to an *http.Client with Timeout.
	Client  Doer
	Timeout time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Fetcher performs conditional GETs of the configuration document.
// It is safe for concurrent use, though the cache orchestrator never runs
// two fetches at once.
type Fetcher struct {
	sdkKey    string
	pinned    bool
	userAgent string
	client    Doer
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	baseURL string
}

// New creates a fetcher.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		sdkKey:    opts.SDKKey,
		pinned:    opts.BaseURL != "",
		userAgent: fmt.Sprintf("FlagshipGoSDK/%s/%s", opts.Mode, opts.Version),
		client:    opts.Client,
		log:       opts.Logger.With().Str("component", "fetch").Logger(),
		now:       opts.Now,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
	}
	if f.baseURL == "" {
		f.baseURL = opts.DataGovernance.BaseURL()
	}
	if f.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		f.client = &http.Client{Timeout: timeout}
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// BaseURL returns the endpoint the next fetch will use.
func (f *Fetcher) BaseURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseURL
}

func (f *Fetcher) setBaseURL(u string) {
	f.mu.Lock()
	f.baseURL = u
	f.mu.Unlock()
}

// CloseIdleConnections releases idle transport connections when the client supports it.
func (f *Fetcher) CloseIdleConnections() {
	if c, ok := f.client.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// Fetch downloads the document. etag is the validator of the entry currently
// held by the caller, empty when there is none. Redirects declared by the
// document preferences are followed at most maxRedirects times; when the
// bound is hit the last fetched document is returned.
func (f *Fetcher) Fetch(ctx context.Context, etag string) Outcome {
	baseURL := f.BaseURL()
	for hop := 0; ; hop++ {
		out := f.fetchOnce(ctx, baseURL, etag)
		if out.Status != Fetched {
			return out
		}

		prefs := out.Entry.Document.Preferences
		if prefs == nil || prefs.BaseURL == "" {
			return out
		}
		next := strings.TrimRight(prefs.BaseURL, "/")
		if next == baseURL {
			return out
		}
		if f.pinned && prefs.Redirect != rules.ForceRedirect {
			return out
		}

		f.setBaseURL(next)
		switch prefs.Redirect {
		case rules.NoRedirect:
			return out
		case rules.ShouldRedirect:
			f.log.Warn().
				Int("event_id", eventGovernanceMismatch).
				Str("base_url", next).
				Msg("the data governance setting of the client does not match the dashboard preferences; set DataGovernance to the region of the dashboard to avoid redirects")
		}

		if hop >= maxRedirects {
			f.log.Error().
				Int("event_id", eventRedirectLoop).
				Str("base_url", next).
				Msg("redirection loop encountered while fetching the config; using the last fetched document")
			return out
		}
		baseURL = next
		// The validator belongs to the previous endpoint's content.
		etag = ""
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, baseURL, etag string) Outcome {
	url := baseURL + "/configuration-files/" + f.sdkKey + "/config_v6.json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return f.failed(eventFetchFailed, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set(UserAgentHeader, f.userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return f.failed(eventTransportError, fmt.Errorf("%w: request timed out: %v", ErrTransport, err))
		}
		return f.failed(eventTransportError, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return f.failed(eventTransportError, fmt.Errorf("%w: reading body: %v", ErrTransport, err))
		}
		doc, err := rules.Parse(body)
		if err != nil {
			return f.failed(eventParseError, fmt.Errorf("%w: %w", ErrInvalidBody, err))
		}
		entry := snapshot.NewEntry(string(body), doc, resp.Header.Get("ETag"), f.now())
		return Outcome{Status: Fetched, Entry: entry}

	case resp.StatusCode == http.StatusNotModified:
		return Outcome{Status: NotModified}

	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return f.failed(eventInvalidSDKKey, fmt.Errorf("%w: your SDK key seems to be wrong (status %d); double-check the key in the dashboard", ErrInvalidSDKKey, resp.StatusCode))

	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return f.failed(eventUnexpectedStatus, fmt.Errorf("%w (status %d): %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
}

func (f *Fetcher) failed(eventID int, err error) Outcome {
	f.log.Error().Int("event_id", eventID).Err(err).Msg("failed to download config")
	return Outcome{Status: Failed, Err: err}
}
