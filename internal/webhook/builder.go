package webhook

import (
	"reflect"
	"time"

	"github.com/TimurManjosov/flagship-go/internal/rules"
	"github.com/TimurManjosov/flagship-go/internal/snapshot"
)

// EventBuilder provides a fluent API for constructing config change events.
//
// Usage:
//
//	event := webhook.NewEventBuilder(now).
//		Between(previous, current).
//		Build()
//
//	dispatcher.Dispatch(event)
type EventBuilder struct {
	event Event
}

// NewEventBuilder creates a config changed event stamped with now.
func NewEventBuilder(now time.Time) *EventBuilder {
	return &EventBuilder{
		event: Event{
			Type:      EventConfigChanged,
			Timestamp: now.UTC(),
		},
	}
}

// Between fills the event from the current entry and lists the setting keys
// that were added, removed or modified since previous. A nil or empty previous
// entry reports every key as added.
func (b *EventBuilder) Between(previous, current *snapshot.Entry) *EventBuilder {
	d := &b.event.Data
	d.ETag = current.ETag
	d.FetchTime = current.FetchTime.UTC()
	d.Keys = current.Document.Keys()
	if d.Keys == nil {
		d.Keys = []string{}
	}

	var before *rules.Document
	if previous != nil {
		before = previous.Document
	}
	after := current.Document

	for _, key := range d.Keys {
		old, ok := settings(before)[key]
		switch {
		case !ok:
			d.Added = append(d.Added, key)
		case !reflect.DeepEqual(old, after.Settings[key]):
			d.Modified = append(d.Modified, key)
		}
	}
	for _, key := range before.Keys() {
		if _, ok := settings(after)[key]; !ok {
			d.Removed = append(d.Removed, key)
		}
	}
	return b
}

func settings(doc *rules.Document) map[string]*rules.Setting {
	if doc == nil {
		return nil
	}
	return doc.Settings
}

// Build returns the constructed Event.
func (b *EventBuilder) Build() Event {
	return b.event
}
