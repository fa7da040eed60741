package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-go/internal/telemetry"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 100

	// maxResponseBodySize limits how much of the response body is logged
	maxResponseBodySize = 1024
)

// Log event ids.
const (
	eventQueueFull       = 4100
	eventDeliveryFailed  = 4101
	eventDeliveryDropped = 4102
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Dispatcher.
type Options struct {
	// Client defaults to an *http.Client without timeout; Timeout bounds each attempt.
	Client     Doer
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles on each further attempt.
	Backoff time.Duration
	Logger  zerolog.Logger
}

// Dispatcher delivers config change events to a fixed set of endpoints.
type Dispatcher struct {
	endpoints  []Endpoint
	client     Doer
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(endpoints []Endpoint, opts Options) *Dispatcher {
	d := &Dispatcher{
		endpoints:  endpoints,
		client:     opts.Client,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		log:        opts.Logger.With().Str("component", "webhook").Logger(),
		queue:      make(chan Event, queueSize),
		done:       make(chan struct{}),
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	if d.backoff <= 0 {
		d.backoff = time.Second
	}
	go d.worker()
	return d
}

// Close stops accepting events and waits for queued deliveries to finish.
// Close is safe to call multiple times.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return nil
}

// Dispatch queues an event for delivery without blocking. Events are dropped
// when the queue is full or the dispatcher is closed.
func (d *Dispatcher) Dispatch(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn().Int("event_id", eventDeliveryDropped).Str("event", event.Type).Msg("dispatcher closed, dropping event")
		return
	}

	select {
	case d.queue <- event:
		d.log.Debug().Str("event", event.Type).Int("queue_size", len(d.queue)).Msg("event queued")
	default:
		d.log.Error().Int("event_id", eventQueueFull).Str("event", event.Type).Int("queue_size", queueSize).Msg("queue full, dropping event")
		telemetry.RecordWebhookDelivery("dropped")
	}
}

// worker processes events from the queue
func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		payload, err := json.Marshal(event)
		if err != nil {
			d.log.Error().Err(err).Str("event", event.Type).Msg("failed to marshal event payload")
			continue
		}
		for _, ep := range d.endpoints {
			d.deliverWithRetry(ep, event.Type, payload)
		}
	}
}

// deliverWithRetry posts the payload until a 2xx response or the retries run out.
func (d *Dispatcher) deliverWithRetry(ep Endpoint, eventType string, payload []byte) bool {
	deliveryID := uuid.NewString()
	log := d.log.With().Str("url", ep.URL).Str("delivery_id", deliveryID).Logger()

	backoff := d.backoff
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		start := time.Now()
		status, body, err := d.post(ep, eventType, deliveryID, payload)
		took := time.Since(start)

		if err == nil && status >= 200 && status < 300 {
			log.Debug().Int("status", status).Dur("took", took).Int("attempt", attempt+1).Msg("delivery succeeded")
			telemetry.RecordWebhookDelivery("success")
			return true
		}

		var ev *zerolog.Event
		if attempt == d.maxRetries {
			ev = log.Error().Int("event_id", eventDeliveryFailed)
		} else {
			ev = log.Warn()
		}
		ev.Err(err).Int("status", status).Str("response", body).Int("attempt", attempt+1).Msg("delivery failed")

		if attempt < d.maxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	telemetry.RecordWebhookDelivery("failure")
	return false
}

func (d *Dispatcher) post(ep Endpoint, eventType, deliveryID string, payload []byte) (int, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flagship-Event", eventType)
	req.Header.Set("X-Flagship-Delivery", deliveryID)
	if ep.Secret != "" {
		req.Header.Set(SignatureHeader, ComputeHMAC(payload, ep.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	return resp.StatusCode, string(bodyBytes), nil
}
