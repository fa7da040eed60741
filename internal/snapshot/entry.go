// Package snapshot holds the immutable cache entry produced by each refresh
// and the change notifications published when it is replaced.
package snapshot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/TimurManjosov/flagship-go/internal/rules"
)

// ErrInvalidPayload is returned when a persisted entry cannot be decoded.
var ErrInvalidPayload = errors.New("invalid cache payload")

// Entry is an immutable snapshot of a downloaded configuration. A refresh
// produces a new Entry; an existing one is never modified.
type Entry struct {
	RawText   string
	Document  *rules.Document
	ETag      string
	FetchTime time.Time
}

// Empty represents "nothing fetched yet".
var Empty = &Entry{}

// NewEntry builds an entry with the fetch time truncated to milliseconds, the
// precision kept by the serialized form.
func NewEntry(raw string, doc *rules.Document, etag string, fetchTime time.Time) *Entry {
	return &Entry{
		RawText:   raw,
		Document:  doc,
		ETag:      etag,
		FetchTime: time.UnixMilli(fetchTime.UnixMilli()),
	}
}

// IsEmpty reports whether e holds no document.
func (e *Entry) IsEmpty() bool {
	return e == nil || e.Document == nil
}

// IsExpired reports whether e is older than maxAge at now.
func (e *Entry) IsExpired(maxAge time.Duration, now time.Time) bool {
	if e.IsEmpty() {
		return true
	}
	return now.Sub(e.FetchTime) >= maxAge
}

// WithFetchTime returns a copy of e sharing its document, with a new fetch time.
func (e *Entry) WithFetchTime(t time.Time) *Entry {
	return NewEntry(e.RawText, e.Document, e.ETag, t)
}

// Serialize encodes e as "{fetchTimeMillis}\n{etag}\n{rawText}".
func (e *Entry) Serialize() string {
	return strconv.FormatInt(e.FetchTime.UnixMilli(), 10) + "\n" + e.ETag + "\n" + e.RawText
}

// Deserialize decodes a payload produced by Serialize and re-parses the document.
func Deserialize(payload string) (*Entry, error) {
	timeText, rest, ok := strings.Cut(payload, "\n")
	if !ok {
		return nil, fmt.Errorf("%w: fetch time separator is missing", ErrInvalidPayload)
	}
	etag, raw, ok := strings.Cut(rest, "\n")
	if !ok {
		return nil, fmt.Errorf("%w: etag separator is missing", ErrInvalidPayload)
	}

	ms, err := strconv.ParseInt(timeText, 10, 64)
	if err != nil || ms <= 0 {
		return nil, fmt.Errorf("%w: invalid fetch time %q", ErrInvalidPayload, timeText)
	}

	doc, err := rules.Parse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return &Entry{RawText: raw, Document: doc, ETag: etag, FetchTime: time.UnixMilli(ms)}, nil
}
