package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/serpent-project/serpent/internal/events"
	"github.com/serpent-project/serpent/internal/game"
	"github.com/serpent-project/serpent/internal/lobby"
)

type fakeLobby struct {
	kicked map[uint32]string
}

func (f *fakeLobby) Stats() lobby.Stats {
	return lobby.Stats{Players: 3, Queued: 1, Rooms: 1, RoomsStarted: 4, Uptime: 90 * time.Second}
}

func (f *fakeLobby) Rooms() []lobby.RoomInfo {
	return []lobby.RoomInfo{{ID: 7, Status: game.RoomPlaying, Tick: 12, Players: []uint32{1, 2}, Alive: 2}}
}

func (f *fakeLobby) RoomSnapshot(id uint32) (game.Snapshot, bool) {
	if id != 7 {
		return game.Snapshot{}, false
	}
	return game.Snapshot{
		RoomID: 7,
		Tick:   12,
		Status: game.RoomPlaying,
		Width:  5,
		Height: 3,
		Foods:  []game.Pos{{X: 4, Y: 2}},
		Players: []game.PlayerState{
			{ID: 1, Alive: true, Direction: game.Right, Segments: []game.Pos{{X: 2, Y: 0}, {X: 1, Y: 0}}},
		},
	}, true
}

func (f *fakeLobby) Players() []game.PlayerInfo {
	return []game.PlayerInfo{{ID: 1, Name: "alice", Status: game.StatusInGame, RoomID: 7, JoinedAt: time.Now()}}
}

func (f *fakeLobby) QueueIDs() []uint32 { return []uint32{3} }

func (f *fakeLobby) Kick(id uint32, reason string) error {
	if id != 1 {
		return lobby.ErrPlayerNotFound
	}
	f.kicked[id] = reason
	return nil
}

func newTestCLI() (*CLI, *fakeLobby, *bytes.Buffer, *events.EventBus) {
	lb := &fakeLobby{kicked: make(map[uint32]string)}
	out := &bytes.Buffer{}
	bus := events.NewEventBus()
	return NewCLI(lb, bus, out), lb, out, bus
}

func TestListings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  string
		args []string
		want []string
	}{
		{"status", nil, []string{"Players", "Rooms started", "1m30s"}},
		{"rooms", nil, []string{"playing", "1,2"}},
		{"queue", nil, []string{"POSITION", "3"}},
		{"players", nil, []string{"alice", "in_game"}},
		{"help", nil, []string{"kick <id> [reason]"}},
		{"bogus", nil, []string{"Unknown command: 'bogus'"}},
	}

	for _, tt := range tests {
		c, _, out, _ := newTestCLI()
		quit, err := c.Execute(context.Background(), tt.cmd, tt.args)
		if err != nil || quit {
			t.Fatalf("Execute(%s) = %v, %v", tt.cmd, quit, err)
		}
		for _, want := range tt.want {
			if !strings.Contains(out.String(), want) {
				t.Errorf("Execute(%s) output missing %q:\n%s", tt.cmd, want, out.String())
			}
		}
	}
}

func TestRoomBoard(t *testing.T) {
	t.Parallel()

	c, _, out, _ := newTestCLI()
	if _, err := c.Execute(context.Background(), "room", []string{"7"}); err != nil {
		t.Fatalf("room 7: %v", err)
	}
	if !strings.Contains(out.String(), ".o1..\n.....\n....*\n") {
		t.Errorf("unexpected board:\n%s", out.String())
	}

	if _, err := c.Execute(context.Background(), "room", []string{"8"}); err == nil {
		t.Error("room 8 should not be found")
	}
	if _, err := c.Execute(context.Background(), "room", []string{"x"}); err == nil {
		t.Error("room x should be rejected")
	}
}

func TestKick(t *testing.T) {
	t.Parallel()

	c, lb, _, _ := newTestCLI()
	if _, err := c.Execute(context.Background(), "kick", []string{"1", "too", "slow"}); err != nil {
		t.Fatalf("kick 1: %v", err)
	}
	if lb.kicked[1] != "too slow" {
		t.Errorf("kick reason = %q", lb.kicked[1])
	}
	if _, err := c.Execute(context.Background(), "kick", []string{"2"}); err == nil {
		t.Error("kicking an unknown player should fail")
	}
	if _, err := c.Execute(context.Background(), "kick", nil); err == nil {
		t.Error("kick without an id should fail")
	}
}

func TestStartQuitEmitsShutdown(t *testing.T) {
	t.Parallel()

	c, _, out, bus := newTestCLI()
	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventShutdown, "test", func(_ context.Context, e events.Event) error {
		got <- e
		return nil
	})

	done := make(chan struct{})
	go func() {
		c.Start(context.Background(), strings.NewReader("\nstatus\nquit\nrooms\n"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after quit")
	}
	select {
	case e := <-got:
		if e.Source != "cli" {
			t.Errorf("shutdown source = %s", e.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no shutdown event")
	}
	if strings.Contains(out.String(), "playing") {
		t.Errorf("commands after quit were executed:\n%s", out.String())
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newTestCLI()
	ctx, cancel := context.WithCancel(context.Background())
	r, w := io.Pipe()
	defer w.Close()

	done := make(chan struct{})
	go func() {
		c.Start(ctx, r)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
