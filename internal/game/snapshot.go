package game

// PlayerState is one player as seen in a snapshot.
type PlayerState struct {
	ID        uint32    `json:"id"`
	Name      string    `json:"name"`
	Alive     bool      `json:"alive"`
	Score     int       `json:"score"`
	Direction Direction `json:"direction"`
	Segments  []Pos     `json:"segments"`
}

// Snapshot is the room state pushed on StateRoute after every tick.
type Snapshot struct {
	RoomID  uint32        `json:"roomId"`
	Tick    uint64        `json:"tick"`
	Status  RoomStatus    `json:"status"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`
	Foods   []Pos         `json:"foods"`
	Players []PlayerState `json:"players"`
	Winner  *uint32       `json:"winner,omitempty"`
}

// Snapshot returns the current room state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// snapshotLocked deep-copies the state so it can be serialized after the
// lock is released.
func (r *Room) snapshotLocked() Snapshot {
	foods := make([]Pos, len(r.foods))
	copy(foods, r.foods)

	players := make([]PlayerState, 0, len(r.players))
	for _, id := range r.sortedIDsLocked() {
		p := r.players[id]
		segments := make([]Pos, len(p.Segments))
		copy(segments, p.Segments)
		players = append(players, PlayerState{
			ID:        p.ID,
			Name:      p.Name,
			Alive:     p.Alive,
			Score:     p.Score,
			Direction: p.Direction,
			Segments:  segments,
		})
	}

	var winner *uint32
	if r.winner != nil {
		w := *r.winner
		winner = &w
	}

	return Snapshot{
		RoomID:  r.id,
		Tick:    r.tick,
		Status:  r.status,
		Width:   r.cfg.Width,
		Height:  r.cfg.Height,
		Foods:   foods,
		Players: players,
		Winner:  winner,
	}
}

// PlayerIDs returns the ids of the players in the snapshot, ascending.
func (s Snapshot) PlayerIDs() []uint32 {
	ids := make([]uint32, len(s.Players))
	for i, p := range s.Players {
		ids[i] = p.ID
	}
	return ids
}
