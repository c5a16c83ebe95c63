package lobby

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/serpent-project/serpent/internal/config"
	"github.com/serpent-project/serpent/internal/events"
	"github.com/serpent-project/serpent/internal/game"
)

type fakeConn struct {
	mu     sync.Mutex
	routes []string
	kicked string
}

func (c *fakeConn) Push(route string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, route)
	return nil
}

func (c *fakeConn) Kick(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kicked = reason
	return nil
}

func (c *fakeConn) pushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.routes)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Game.Width = 5
	cfg.Game.Height = 8
	cfg.Game.TickMS = int(time.Hour / time.Millisecond)
	cfg.Game.MatchSize = 2
	cfg.Game.FoodTarget = 1
	return cfg
}

func newTestManager(t *testing.T, bus *events.EventBus) *Manager {
	t.Helper()
	m, err := NewManager(testConfig(), bus)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func join(m *Manager, id uint32) (*game.Player, *fakeConn) {
	conn := &fakeConn{}
	p := game.NewPlayer(id, "", conn)
	m.register(p)
	m.queue.Enqueue(p)
	return p, conn
}

func TestMatchOnceStartsRoom(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if room := m.MatchOnce(ctx); room != nil {
		t.Fatal("MatchOnce() on an empty queue started a room")
	}

	_, connA := join(m, 1)
	_, connB := join(m, 2)
	join(m, 3)

	room := m.MatchOnce(ctx)
	if room == nil {
		t.Fatal("MatchOnce() did not start a room")
	}
	if got := room.PlayerIDs(); !reflect.DeepEqual(got, []uint32{1, 2}) {
		t.Errorf("room players = %v, want [1 2]", got)
	}
	if room.Status() != game.RoomPlaying {
		t.Errorf("room status = %s", room.Status())
	}
	if connA.pushes() != 1 || connB.pushes() != 1 {
		t.Errorf("initial snapshot pushes = %d, %d", connA.pushes(), connB.pushes())
	}
	if got := m.QueueIDs(); !reflect.DeepEqual(got, []uint32{3}) {
		t.Errorf("queue = %v, want [3]", got)
	}
	if s := m.Stats(); s.Rooms != 1 || s.RoomsStarted != 1 || s.Players != 3 {
		t.Errorf("stats = %+v", s)
	}
	if m.MatchOnce(ctx) != nil {
		t.Error("MatchOnce() started a room with one waiting player")
	}
}

func TestMatchOnceSkipsDisconnected(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	join(m, 1)
	gone, _ := join(m, 2)
	join(m, 3)
	m.unregister(gone.ID)

	if room := m.MatchOnce(ctx); room != nil {
		t.Fatal("MatchOnce() started a room with a disconnected player")
	}
	if got := m.QueueIDs(); !reflect.DeepEqual(got, []uint32{1, 3}) {
		t.Errorf("queue = %v, want survivors first [1 3]", got)
	}

	room := m.MatchOnce(ctx)
	if room == nil {
		t.Fatal("MatchOnce() did not start a room")
	}
	if got := room.PlayerIDs(); !reflect.DeepEqual(got, []uint32{1, 3}) {
		t.Errorf("room players = %v, want [1 3]", got)
	}
}

func TestCleanupRetiresFinishedRooms(t *testing.T) {
	t.Parallel()

	bus := events.NewEventBus()
	finished := make(chan events.RoomPayload, 1)
	bus.Subscribe(events.EventRoomFinished, "test", func(_ context.Context, e events.Event) error {
		finished <- e.Payload.(events.RoomPayload)
		return nil
	})

	m := newTestManager(t, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	join(m, 1)
	join(m, 2)
	room := m.MatchOnce(ctx)
	if room == nil {
		t.Fatal("MatchOnce() did not start a room")
	}

	watch, stop, err := m.Spectate(room.ID())
	if err != nil {
		t.Fatalf("Spectate() error = %v", err)
	}
	defer stop()

	if n := m.CleanupOnce(); n != 0 {
		t.Fatalf("CleanupOnce() retired %d running rooms", n)
	}

	// On a five-wide board both snakes spawn at x=2 facing Right and hit
	// the wall on the third tick.
	for i := 0; i < 3 && !room.Finished(); i++ {
		room.Tick()
	}
	if !room.Finished() {
		t.Fatal("room did not finish")
	}
	if snap := <-watch; snap.RoomID != room.ID() {
		t.Errorf("spectator got room %d", snap.RoomID)
	}

	if n := m.CleanupOnce(); n != 1 {
		t.Fatalf("CleanupOnce() = %d, want 1", n)
	}
	if _, ok := m.RoomSnapshot(room.ID()); ok {
		t.Error("retired room still registered")
	}
	if got := m.QueueIDs(); !reflect.DeepEqual(got, []uint32{1, 2}) {
		t.Errorf("queue = %v, want both players requeued", got)
	}
	for _, info := range m.Players() {
		if info.Status != game.StatusMatching {
			t.Errorf("player %d status = %s", info.ID, info.Status)
		}
	}
	if s := m.Stats(); s.Rooms != 0 || s.RoomsFinished != 1 || s.Spectators != 0 {
		t.Errorf("stats = %+v", s)
	}

	// Drain snapshots until the hub closes the channel.
	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, open = <-watch:
		case <-deadline:
			t.Fatal("spectator channel not closed")
		}
	}

	select {
	case p := <-finished:
		if p.RoomID != room.ID() || !reflect.DeepEqual(p.Players, []uint32{1, 2}) {
			t.Errorf("room finished payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Error("no room finished event")
	}
	bus.Stop()
}

func TestCleanupRequeuesAheadOfWaitingPlayers(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	join(m, 1)
	join(m, 2)
	first := m.MatchOnce(ctx)
	join(m, 3)
	join(m, 4)
	second := m.MatchOnce(ctx)
	if first == nil || second == nil {
		t.Fatal("MatchOnce() did not start both rooms")
	}
	join(m, 5)

	for _, room := range []*game.Room{first, second} {
		for i := 0; i < 3 && !room.Finished(); i++ {
			room.Tick()
		}
		if !room.Finished() {
			t.Fatalf("room %d did not finish", room.ID())
		}
	}

	if n := m.CleanupOnce(); n != 2 {
		t.Fatalf("CleanupOnce() = %d, want 2", n)
	}
	want := []uint32{1, 2, 3, 4, 5}
	if got := m.QueueIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("queue = %v, want %v", got, want)
	}
}

func TestKick(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	_, conn := join(m, 7)

	if err := m.Kick(7, "idle"); err != nil {
		t.Fatalf("Kick() error = %v", err)
	}
	conn.mu.Lock()
	reason := conn.kicked
	conn.mu.Unlock()
	if reason != "idle" {
		t.Errorf("kick reason = %q", reason)
	}

	if err := m.Kick(99, "x"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("Kick(unknown) error = %v", err)
	}
}

func TestSteerRequiresRoom(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	join(m, 1)

	if m.steer(1, game.Down) {
		t.Error("steer() succeeded for a queued player")
	}
	if m.steer(42, game.Down) {
		t.Error("steer() succeeded for an unknown player")
	}
}

func TestSpectatorHub(t *testing.T) {
	t.Parallel()

	h := NewSpectatorHub()
	id, ch := h.Subscribe(1, 1)
	_, other := h.Subscribe(2, 1)

	h.Publish(game.Snapshot{RoomID: 1, Tick: 1})
	h.Publish(game.Snapshot{RoomID: 1, Tick: 2})

	if snap := <-ch; snap.Tick != 1 {
		t.Errorf("tick = %d, want the first snapshot", snap.Tick)
	}
	select {
	case snap := <-other:
		t.Errorf("room 2 watcher got %+v", snap)
	default:
	}
	if h.Count() != 2 {
		t.Errorf("Count() = %d", h.Count())
	}

	h.Unsubscribe(1, id)
	h.Unsubscribe(1, id)
	if _, open := <-ch; open {
		t.Error("unsubscribed channel still open")
	}

	h.CloseRoom(2)
	if _, open := <-other; open {
		t.Error("channel still open after CloseRoom")
	}
	if h.Count() != 0 {
		t.Errorf("Count() = %d after close", h.Count())
	}
}
