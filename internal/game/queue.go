package game

import "sync"

// MatchQueue is the FIFO waiting room of players looking for a game.
// It holds each player at most once.
type MatchQueue struct {
	mu        sync.Mutex
	matchSize int
	players   []*Player
}

// NewMatchQueue creates a queue that matches groups of matchSize players.
func NewMatchQueue(matchSize int) *MatchQueue {
	if matchSize < 1 {
		matchSize = 1
	}
	return &MatchQueue{matchSize: matchSize}
}

// MatchSize returns the group size.
func (q *MatchQueue) MatchSize() int {
	return q.matchSize
}

// Enqueue appends p unless a player with the same id is already waiting.
// It marks p as Matching and reports whether p was added.
func (q *MatchQueue) Enqueue(p *Player) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(p.ID) >= 0 {
		return false
	}
	q.players = append(q.players, p)
	p.setMatching()
	return true
}

// Requeue puts players back at the front of the queue in the given order,
// skipping any already waiting.
func (q *MatchQueue) Requeue(players []*Player) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := make([]*Player, 0, len(players))
	for _, p := range players {
		if q.indexLocked(p.ID) >= 0 || containsID(front, p.ID) {
			continue
		}
		p.setMatching()
		front = append(front, p)
	}
	q.players = append(front, q.players...)
}

// TryMatch removes and returns exactly MatchSize players from the front of
// the queue, oldest first. With fewer waiting it returns nil and leaves the
// queue untouched.
func (q *MatchQueue) TryMatch() []*Player {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.players) < q.matchSize {
		return nil
	}

	matched := make([]*Player, q.matchSize)
	copy(matched, q.players[:q.matchSize])

	rest := make([]*Player, len(q.players)-q.matchSize)
	copy(rest, q.players[q.matchSize:])
	q.players = rest

	return matched
}

// Remove deletes the player with p's id, keeping the order of the rest.
func (q *MatchQueue) Remove(p *Player) bool {
	return q.RemoveID(p.ID)
}

// RemoveID deletes the player with the given id, keeping the order of the rest.
func (q *MatchQueue) RemoveID(id uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	q.players = append(q.players[:i:i], q.players[i+1:]...)
	return true
}

// Len returns the number of waiting players.
func (q *MatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.players)
}

// IDs returns the waiting player ids in queue order.
func (q *MatchQueue) IDs() []uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]uint32, len(q.players))
	for i, p := range q.players {
		ids[i] = p.ID
	}
	return ids
}

func (q *MatchQueue) indexLocked(id uint32) int {
	for i, p := range q.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func containsID(players []*Player, id uint32) bool {
	for _, p := range players {
		if p.ID == id {
			return true
		}
	}
	return false
}
