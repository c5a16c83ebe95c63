package lobby

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/serpent-project/serpent/internal/events"
	"github.com/serpent-project/serpent/internal/game"
)

// Run drives the matchmaking and cleanup loops until ctx is cancelled, then
// waits for every room loop to return.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.RunMatchLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		m.RunCleanupLoop(ctx)
	}()
	wg.Wait()

	m.roomWG.Wait()
	m.logger.Info().Msg("lobby stopped")
}

// RunMatchLoop starts rooms from the queue every match poll interval.
func (m *Manager) RunMatchLoop(ctx context.Context) {
	m.every(ctx, m.game.MatchPoll(), func() {
		for m.MatchOnce(ctx) != nil {
		}
	})
}

// RunCleanupLoop retires finished rooms every cleanup poll interval.
func (m *Manager) RunCleanupLoop(ctx context.Context) {
	m.every(ctx, m.game.CleanupPoll(), func() {
		m.CleanupOnce()
	})
}

func (m *Manager) every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// MatchOnce takes one group from the queue and starts a room for it. Matched
// players that disconnected in the meantime are skipped; when too few remain
// the survivors go back to the front of the queue and no room is created.
// The room loop runs until ctx is cancelled or the game ends.
func (m *Manager) MatchOnce(ctx context.Context) *game.Room {
	batch := m.queue.TryMatch()
	if batch == nil {
		return nil
	}

	live := make([]*game.Player, 0, len(batch))
	for _, p := range batch {
		if _, ok := m.player(p.ID); ok {
			live = append(live, p)
		}
	}
	if len(live) < m.queue.MatchSize() {
		m.queue.Requeue(live)
		m.logger.Debug().
			Int("matched", len(batch)).
			Int("connected", len(live)).
			Msg("matched players left before the room started, requeued")
		return nil
	}

	room := game.NewRoom(m.nextRoomID.Add(1), game.RoomConfig{
		Width:        m.game.Width,
		Height:       m.game.Height,
		TickInterval: m.game.TickInterval(),
		FoodTarget:   m.game.FoodTarget,
		Capacity:     m.queue.MatchSize(),
	})
	for _, p := range live {
		if err := room.AddPlayer(p); err != nil {
			m.logger.Warn().Err(err).Uint32("player", p.ID).Uint32("room", room.ID()).Msg("failed to seat player")
		}
	}
	room.SetObserver(m.spectators.Publish)

	m.roomsMu.Lock()
	m.rooms[room.ID()] = room
	m.roomsMu.Unlock()

	if err := room.StartGame(); err != nil {
		m.logger.Error().Err(err).Uint32("room", room.ID()).Msg("failed to start room")
		m.roomsMu.Lock()
		delete(m.rooms, room.ID())
		m.roomsMu.Unlock()
		m.queue.Requeue(live)
		return nil
	}
	m.roomsStarted.Add(1)

	m.roomWG.Add(1)
	go func() {
		defer m.roomWG.Done()
		room.Run(ctx)
	}()

	ids := room.PlayerIDs()
	m.logger.Info().Uint32("room", room.ID()).Interface("players", ids).Msg("room started")
	m.emit(events.EventRoomStarted, events.RoomPayload{RoomID: room.ID(), Players: ids})

	return room
}

// CleanupOnce retires every finished room and puts its still-connected
// players back at the front of the queue, lowest room id first. It returns
// the number of rooms retired.
func (m *Manager) CleanupOnce() int {
	m.roomsMu.Lock()
	var finished []*game.Room
	for id, room := range m.rooms {
		if room.Finished() {
			finished = append(finished, room)
			delete(m.rooms, id)
		}
	}
	m.roomsMu.Unlock()

	sort.Slice(finished, func(i, j int) bool { return finished[i].ID() < finished[j].ID() })

	var back []*game.Player
	for _, room := range finished {
		snap := room.Snapshot()
		m.spectators.CloseRoom(room.ID())

		requeued := 0
		for _, id := range snap.PlayerIDs() {
			if p, ok := m.player(id); ok && p.RoomID() == room.ID() {
				back = append(back, p)
				requeued++
			}
		}

		m.roomsFinished.Add(1)
		evt := m.logger.Info().Uint32("room", room.ID()).Uint64("tick", snap.Tick).Int("requeued", requeued)
		if snap.Winner != nil {
			evt = evt.Uint32("winner", *snap.Winner)
		}
		evt.Msg("room retired")

		m.emit(events.EventRoomFinished, events.RoomPayload{
			RoomID:  room.ID(),
			Players: snap.PlayerIDs(),
			Tick:    snap.Tick,
			Winner:  snap.Winner,
		})
	}
	if len(back) > 0 {
		m.queue.Requeue(back)
	}
	return len(finished)
}
