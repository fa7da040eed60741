// Package hooks dispatches SDK lifecycle events to host callbacks.
// Callbacks run synchronously in registration order; a panicking callback is
// recovered so the remaining callbacks still run.
package hooks

import (
	"fmt"
	"sync"

	"github.com/TimurManjosov/flagship-go/internal/engine"
	"github.com/TimurManjosov/flagship-go/internal/rules"
)

// Hooks holds registered callbacks. The zero value is ready to use and all
// methods are safe on a nil *Hooks.
type Hooks struct {
	mu              sync.RWMutex
	onClientReady   []func()
	onConfigChanged []func(*rules.Document)
	onFlagEvaluated []func(engine.Details)
	onError         []func(message string, err error)

	// panicHandler observes recovered callback panics; used for logging.
	panicHandler func(event string, recovered any)
	// shared holds the callbacks of a view made by WithPanicHandler.
	shared *Hooks
}

// New returns an empty set of hooks. onPanic may be nil.
func New(onPanic func(event string, recovered any)) *Hooks {
	return &Hooks{panicHandler: onPanic}
}

// WithPanicHandler returns a view of h that shares its callbacks but reports
// recovered panics to fn. h keeps its own handler.
func (h *Hooks) WithPanicHandler(fn func(event string, recovered any)) *Hooks {
	return &Hooks{shared: h.registry(), panicHandler: fn}
}

func (h *Hooks) registry() *Hooks {
	if h.shared != nil {
		return h.shared
	}
	return h
}

// OnClientReady registers fn to run once the first configuration is available.
func (h *Hooks) OnClientReady(fn func()) {
	r := h.registry()
	r.mu.Lock()
	r.onClientReady = append(r.onClientReady, fn)
	r.mu.Unlock()
}

// OnConfigChanged registers fn to run whenever a new document is loaded.
func (h *Hooks) OnConfigChanged(fn func(*rules.Document)) {
	r := h.registry()
	r.mu.Lock()
	r.onConfigChanged = append(r.onConfigChanged, fn)
	r.mu.Unlock()
}

// OnFlagEvaluated registers fn to run after every evaluation.
func (h *Hooks) OnFlagEvaluated(fn func(engine.Details)) {
	r := h.registry()
	r.mu.Lock()
	r.onFlagEvaluated = append(r.onFlagEvaluated, fn)
	r.mu.Unlock()
}

// OnError registers fn to run when the SDK reports an error.
func (h *Hooks) OnError(fn func(message string, err error)) {
	r := h.registry()
	r.mu.Lock()
	r.onError = append(r.onError, fn)
	r.mu.Unlock()
}

func (h *Hooks) EmitClientReady() {
	if h == nil {
		return
	}
	r := h.registry()
	r.mu.RLock()
	fns := r.onClientReady
	r.mu.RUnlock()
	for _, fn := range fns {
		h.safely("client_ready", fn)
	}
}

func (h *Hooks) EmitConfigChanged(doc *rules.Document) {
	if h == nil {
		return
	}
	r := h.registry()
	r.mu.RLock()
	fns := r.onConfigChanged
	r.mu.RUnlock()
	for _, fn := range fns {
		h.safely("config_changed", func() { fn(doc) })
	}
}

func (h *Hooks) EmitFlagEvaluated(d engine.Details) {
	if h == nil {
		return
	}
	r := h.registry()
	r.mu.RLock()
	fns := r.onFlagEvaluated
	r.mu.RUnlock()
	for _, fn := range fns {
		h.safely("flag_evaluated", func() { fn(d) })
	}
}

func (h *Hooks) EmitError(message string, err error) {
	if h == nil {
		return
	}
	r := h.registry()
	r.mu.RLock()
	fns := r.onError
	r.mu.RUnlock()
	for _, fn := range fns {
		h.safely("error", func() { fn(message, err) })
	}
}

func (h *Hooks) safely(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil && h.panicHandler != nil {
			h.panicHandler(event, r)
		}
	}()
	fn()
}

// PanicError converts a recovered value into an error.
func PanicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("hook panicked: %w", err)
	}
	return fmt.Errorf("hook panicked: %v", recovered)
}
