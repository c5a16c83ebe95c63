package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrHandlerPanic is wrapped by the error EmitSync reports for a handler
// that panicked.
var ErrHandlerPanic = errors.New("event handler panicked")

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

type subscriber struct {
	name string
	fn   HandlerFunc
}

// EventBus fans lifecycle events out to named subscribers. Every handler call
// gets its own goroutine; a panic is recovered and logged.
//
// The subscriber lists are replaced, never mutated, so a dispatch works on
// the list it read even while Subscribe or Unsubscribe run.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[EventType][]subscriber
	closed  bool
	stopCh  chan struct{}
	running sync.WaitGroup
	logger  zerolog.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:   make(map[EventType][]subscriber),
		stopCh: make(chan struct{}),
		logger: log.With().Str("component", "events").Logger(),
	}
}

// Subscribe adds fn to eventType under name. Names need not be unique;
// Unsubscribe drops all entries sharing one.
func (eb *EventBus) Subscribe(eventType EventType, name string, fn HandlerFunc) {
	eb.mu.Lock()
	current := eb.subs[eventType]
	next := make([]subscriber, len(current), len(current)+1)
	copy(next, current)
	eb.subs[eventType] = append(next, subscriber{name: name, fn: fn})
	eb.mu.Unlock()

	eb.logger.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed")
}

// Unsubscribe removes every handler registered under name for eventType and
// returns how many were removed.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) int {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	current := eb.subs[eventType]
	next := slices.DeleteFunc(slices.Clone(current), func(s subscriber) bool { return s.name == name })
	if len(next) == 0 {
		delete(eb.subs, eventType)
	} else {
		eb.subs[eventType] = next
	}
	return len(current) - len(next)
}

// HandlerCount returns the number of handlers for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}

// Emit starts every handler of event.Type and returns at once. A nil or
// stopped bus drops the event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if eb == nil {
		return
	}

	// running.Add happens under the read lock so Stop never waits on a
	// partial count.
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	subs := eb.subs[event.Type]
	if len(subs) == 0 {
		return
	}

	eb.logger.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(subs)).
		Msg("emit")

	eb.running.Add(len(subs))
	for _, sub := range subs {
		go func() {
			defer eb.running.Done()
			eb.call(ctx, sub, event)
		}()
	}
}

// EmitSync runs every handler of event.Type concurrently and waits for all of
// them. The result joins the handler errors; a panic contributes an error
// wrapping ErrHandlerPanic.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	if eb == nil {
		return nil
	}

	eb.mu.RLock()
	closed, subs := eb.closed, eb.subs[event.Type]
	eb.mu.RUnlock()
	if closed || len(subs) == 0 {
		return nil
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	wg.Add(len(subs))
	for i, sub := range subs {
		go func() {
			defer wg.Done()
			errs[i] = eb.call(ctx, sub, event)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (eb *EventBus) call(ctx context.Context, sub subscriber, event Event) (err error) {
	entry := eb.logger.With().Str("event", string(event.Type)).Str("handler", sub.name).Logger()
	defer func() {
		if r := recover(); r != nil {
			entry.Error().Interface("panic", r).Msg("handler panicked")
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, sub.name, r)
		}
	}()

	if err = sub.fn(ctx, event); err != nil {
		entry.Error().Err(err).Msg("handler failed")
	}
	return err
}

// Stop refuses further events and waits for handlers started by Emit.
// Calling it again is a no-op.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.running.Wait()
	eb.logger.Info().Msg("event bus stopped")
}

// StopCh is closed once Stop has been called.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}
