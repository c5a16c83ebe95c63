package lobby

import (
	"sync"

	"github.com/google/uuid"

	"github.com/serpent-project/serpent/internal/game"
)

// DefaultSpectatorBuffer is the number of snapshots queued per spectator.
const DefaultSpectatorBuffer = 16

// SpectatorHub fans room snapshots out to read-only watchers. A watcher that
// falls behind misses snapshots instead of slowing the room down.
type SpectatorHub struct {
	mu    sync.RWMutex
	rooms map[uint32]map[string]chan game.Snapshot
}

// NewSpectatorHub creates an empty hub.
func NewSpectatorHub() *SpectatorHub {
	return &SpectatorHub{rooms: make(map[uint32]map[string]chan game.Snapshot)}
}

// Subscribe registers a watcher for roomID. The channel is closed when the
// room is retired or the watcher unsubscribes.
func (h *SpectatorHub) Subscribe(roomID uint32, buffer int) (string, <-chan game.Snapshot) {
	if buffer <= 0 {
		buffer = DefaultSpectatorBuffer
	}
	id := uuid.NewString()
	ch := make(chan game.Snapshot, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	watchers, ok := h.rooms[roomID]
	if !ok {
		watchers = make(map[string]chan game.Snapshot)
		h.rooms[roomID] = watchers
	}
	watchers[id] = ch
	return id, ch
}

// Unsubscribe removes a watcher and closes its channel.
func (h *SpectatorHub) Unsubscribe(roomID uint32, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	watchers := h.rooms[roomID]
	ch, ok := watchers[id]
	if !ok {
		return
	}
	delete(watchers, id)
	close(ch)
	if len(watchers) == 0 {
		delete(h.rooms, roomID)
	}
}

// Publish delivers snap to the watchers of its room without blocking.
func (h *SpectatorHub) Publish(snap game.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.rooms[snap.RoomID] {
		select {
		case ch <- snap:
		default:
		}
	}
}

// CloseRoom drops every watcher of roomID.
func (h *SpectatorHub) CloseRoom(roomID uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.rooms[roomID] {
		close(ch)
	}
	delete(h.rooms, roomID)
}

// Count returns the number of watchers across all rooms.
func (h *SpectatorHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, watchers := range h.rooms {
		n += len(watchers)
	}
	return n
}
