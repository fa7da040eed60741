package webhook

import "time"

// EventConfigChanged is sent when a new configuration document is downloaded.
const EventConfigChanged = "config.changed"

// Event is the JSON body delivered to every endpoint.
type Event struct {
	Type      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// EventData describes the new configuration and how it differs from the previous one.
type EventData struct {
	ETag      string    `json:"etag,omitempty"`
	FetchTime time.Time `json:"fetchTime"`
	Keys      []string  `json:"keys"`
	Added     []string  `json:"added,omitempty"`
	Removed   []string  `json:"removed,omitempty"`
	Modified  []string  `json:"modified,omitempty"`
}

// Endpoint is a subscriber URL. Deliveries are signed with Secret when it is set.
type Endpoint struct {
	URL    string
	Secret string
}
