package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitReachesSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	got := make(chan Event, 2)
	bus.Subscribe(EventRoomStarted, "a", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})
	bus.Subscribe(EventRoomStarted, "b", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})

	bus.Emit(context.Background(), NewEvent(EventRoomStarted, "test", RoomPayload{RoomID: 7}))

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			if p, ok := e.Payload.(RoomPayload); !ok || p.RoomID != 7 {
				t.Errorf("payload = %#v", e.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("handler %d not called", i)
		}
	}
	bus.Stop()
}

func TestEmitSyncJoinsHandlerErrorsAndPanics(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	boom := errors.New("boom")
	var calls atomic.Int32
	bus.Subscribe(EventShutdown, "fails", func(context.Context, Event) error {
		calls.Add(1)
		return boom
	})
	bus.Subscribe(EventShutdown, "panics", func(context.Context, Event) error {
		calls.Add(1)
		panic("handler bug")
	})

	err := bus.EmitSync(context.Background(), NewEvent(EventShutdown, "test", nil))
	if !errors.Is(err, boom) {
		t.Errorf("EmitSync() error = %v, want %v", err, boom)
	}
	if !errors.Is(err, ErrHandlerPanic) {
		t.Errorf("EmitSync() error = %v, want the panic reported", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestUnsubscribeAndStop(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	var calls atomic.Int32
	handler := func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}
	bus.Subscribe(EventPlayerConnected, "keep", handler)
	bus.Subscribe(EventPlayerConnected, "drop", handler)
	if n := bus.Unsubscribe(EventPlayerConnected, "drop"); n != 1 {
		t.Errorf("Unsubscribe() = %d, want 1", n)
	}
	if n := bus.Unsubscribe(EventPlayerConnected, "drop"); n != 0 {
		t.Errorf("second Unsubscribe() = %d, want 0", n)
	}

	if n := bus.HandlerCount(EventPlayerConnected); n != 1 {
		t.Fatalf("HandlerCount() = %d, want 1", n)
	}

	bus.EmitSync(context.Background(), NewEvent(EventPlayerConnected, "test", nil))
	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), NewEvent(EventPlayerConnected, "test", nil))

	select {
	case <-bus.StopCh():
	default:
		t.Error("StopCh() not closed")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestNilBusIsInert(t *testing.T) {
	t.Parallel()

	var bus *EventBus
	bus.Emit(context.Background(), NewEvent(EventShutdown, "test", nil))
	if err := bus.EmitSync(context.Background(), NewEvent(EventShutdown, "test", nil)); err != nil {
		t.Errorf("EmitSync() on nil bus = %v", err)
	}
}
