package lobby

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/serpent-project/serpent/internal/client"
	"github.com/serpent-project/serpent/internal/game"
	"github.com/serpent-project/serpent/internal/network"
)

func startLobby(t *testing.T, m *Manager) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	l := network.NewTCPListener("127.0.0.1:0", time.Second, m, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not start")
	}
	return l.Addr().String()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type stateRecorder chan game.Snapshot

func (r stateRecorder) onPush(route string, body []byte) {
	if route != RouteState {
		return
	}
	var snap game.Snapshot
	if err := json.Unmarshal(body, &snap); err == nil {
		r <- snap
	}
}

func dialPlayer(t *testing.T, ctx context.Context, addr, name string) (*client.Client, stateRecorder) {
	t.Helper()
	rec := make(stateRecorder, 32)
	c, err := client.Dial(ctx, client.Options{Addr: addr, Name: name, OnPush: rec.onPush})
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", name, err)
	}
	t.Cleanup(func() { c.Close() })
	return c, rec
}

type helloResponse struct {
	Code int            `json:"code"`
	Msg  map[string]any `json:"msg"`
}

func TestLobbyOverTCP(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Game.Width = 32
	cfg.Game.Height = 18
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	addr := startLobby(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, aliceStates := dialPlayer(t, ctx, addr, "alice")
	bob, _ := dialPlayer(t, ctx, addr, "")

	user := alice.User()
	if alice.UserID() == 0 || user["width"] != float64(32) || user["height"] != float64(18) {
		t.Errorf("handshake user = %v", user)
	}
	if alice.UserID() == bob.UserID() {
		t.Errorf("players share id %d", alice.UserID())
	}

	t.Run("hello", func(t *testing.T) {
		for i, route := range []string{RouteHello, RouteHelloShort} {
			var resp helloResponse
			if err := alice.Request(ctx, route, map[string]string{"data": "ping"}, &resp); err != nil {
				t.Fatalf("Request(%s) error = %v", route, err)
			}
			if resp.Code != 0 || resp.Msg["data"] != "ping" || resp.Msg["serverReqId"] != float64(i+1) {
				t.Errorf("Request(%s) = %+v", route, resp)
			}
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		var resp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := alice.Request(ctx, "nope.handler", nil, &resp); err != nil {
			t.Fatalf("Request() error = %v", err)
		}
		if resp.Code != 404 || resp.Msg != "Route not found: nope.handler" {
			t.Errorf("response = %+v", resp)
		}
	})

	eventually(t, "both players queued", func() bool { return m.Stats().Queued == 2 })

	players := m.Players()
	if len(players) != 2 || players[0].Name != "alice" || players[1].Name != "Player2" {
		t.Errorf("players = %+v", players)
	}

	room := m.MatchOnce(ctx)
	if room == nil {
		t.Fatal("MatchOnce() did not start a room")
	}

	select {
	case snap := <-aliceStates:
		if snap.Tick != 0 || snap.Status != game.RoomPlaying || len(snap.Players) != 2 {
			t.Errorf("initial snapshot = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot pushed")
	}

	if err := alice.Notify(RouteMove, map[string]string{"dir": "Down"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	// A request on the same connection is handled after the notify.
	if err := alice.Request(ctx, RouteHello, nil, nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	snap, _ := room.Tick()
	for _, p := range snap.Players {
		if p.ID == alice.UserID() && p.Direction != game.Down {
			t.Errorf("alice direction = %s, want Down", p.Direction)
		}
	}

	bob.Close()
	eventually(t, "bob removed", func() bool { return m.Stats().Players == 1 && room.PlayerCount() == 1 })

	room.Tick()
	if !room.Finished() {
		t.Fatal("room with one player left did not finish")
	}
	if n := m.CleanupOnce(); n != 1 {
		t.Fatalf("CleanupOnce() = %d, want 1", n)
	}
	if got := m.QueueIDs(); len(got) != 1 || got[0] != alice.UserID() {
		t.Errorf("queue = %v, want alice requeued", got)
	}

	if err := m.Kick(alice.UserID(), "maintenance"); err != nil {
		t.Fatalf("Kick() error = %v", err)
	}
	select {
	case <-alice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("kicked client still connected")
	}
	eventually(t, "alice removed", func() bool { return m.Stats().Players == 0 && m.Stats().Queued == 0 })
}
