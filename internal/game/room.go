package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StateRoute is the push route carrying room snapshots.
const StateRoute = "snake.state"

const (
	spawnAttempts  = 100
	spawnMargin    = 2
	initialSegment = 3
)

var (
	ErrRoomNotWaiting = errors.New("room is not waiting for players")
	ErrRoomFull       = errors.New("room is full")
	ErrPlayerInRoom   = errors.New("player already in room")
)

// RoomConfig holds the parameters of a room.
type RoomConfig struct {
	Width        int
	Height       int
	TickInterval time.Duration
	// FoodTarget is the number of food cells kept on the board.
	FoodTarget int
	// Capacity caps the number of players; zero means unlimited.
	Capacity int
	// Rand drives spawn and food placement. Nil uses a random seed.
	Rand *rand.Rand
}

// Room is one game instance with its own tick loop.
type Room struct {
	id     uint32
	cfg    RoomConfig
	logger zerolog.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	status    RoomStatus
	started   bool
	finished  bool
	tick      uint64
	winner    *uint32
	players   map[uint32]*Player
	foods     []Pos
	observer  func(Snapshot)
	createdAt time.Time
}

// NewRoom creates a room in the Waiting state.
func NewRoom(id uint32, cfg RoomConfig) *Room {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Room{
		id:        id,
		cfg:       cfg,
		rng:       rng,
		status:    RoomWaiting,
		players:   make(map[uint32]*Player),
		createdAt: time.Now(),
		logger:    log.With().Str("component", "room").Uint32("room", id).Logger(),
	}
}

// ID returns the room id.
func (r *Room) ID() uint32 { return r.id }

// CreatedAt returns when the room was created.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// SetObserver registers a callback receiving every broadcast snapshot.
func (r *Room) SetObserver(fn func(Snapshot)) {
	r.mu.Lock()
	r.observer = fn
	r.mu.Unlock()
}

// Status returns the lifecycle phase.
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Finished reports whether the room can be retired: its game ended, it
// faulted, or every player left after it started.
func (r *Room) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished || (r.started && len(r.players) == 0)
}

// PlayerIDs returns the member ids in ascending order.
func (r *Room) PlayerIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedIDsLocked()
}

// PlayerCount returns the number of members.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// AddPlayer places p on the board with a three-cell body facing Right.
// It is only valid while the room is Waiting and not yet started.
func (r *Room) AddPlayer(p *Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != RoomWaiting || r.started {
		return ErrRoomNotWaiting
	}
	if _, ok := r.players[p.ID]; ok {
		return ErrPlayerInRoom
	}
	if r.cfg.Capacity > 0 && len(r.players) >= r.cfg.Capacity {
		return ErrRoomFull
	}

	head := r.findSpawnLocked()
	segments := make([]Pos, initialSegment)
	for i := range segments {
		segments[i] = Pos{head.X - i, head.Y}
	}

	p.Segments = segments
	p.Direction = Right
	p.PendingDirection = Right
	p.Alive = true
	p.Score = 0
	p.setInGame(r.id)

	r.players[p.ID] = p
	return nil
}

// findSpawnLocked picks a random head position whose initial body overlaps no
// existing segment. After spawnAttempts tries it settles for the candidate
// with the fewest overlaps.
func (r *Room) findSpawnLocked() Pos {
	occupied := r.occupancyLocked()

	var best Pos
	bestOverlap := -1
	for attempt := 0; attempt <= spawnAttempts; attempt++ {
		head := Pos{
			X: spawnMargin + r.rng.IntN(max(1, r.cfg.Width-2*spawnMargin)),
			Y: spawnMargin + r.rng.IntN(max(1, r.cfg.Height-2*spawnMargin)),
		}

		overlap := 0
		for i := 0; i < initialSegment; i++ {
			if _, ok := occupied[Pos{head.X - i, head.Y}]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			return head
		}
		if bestOverlap < 0 || overlap < bestOverlap {
			best, bestOverlap = head, overlap
		}
	}
	return best
}

// StartGame moves the room to Playing and broadcasts the first snapshot.
func (r *Room) StartGame() error {
	snap, members, observer, err := r.start()
	if err != nil {
		return err
	}
	r.logger.Info().Int("players", len(members)).Msg("game started")
	r.broadcast(snap, members, observer)
	return nil
}

func (r *Room) start() (Snapshot, []*Player, func(Snapshot), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != RoomWaiting || r.started {
		return Snapshot{}, nil, nil, ErrRoomNotWaiting
	}
	if len(r.players) == 0 {
		return Snapshot{}, nil, nil, fmt.Errorf("cannot start room %d without players", r.id)
	}

	r.status = RoomPlaying
	r.started = true
	r.ensureFoodLocked()
	return r.snapshotLocked(), r.membersLocked(), r.observer, nil
}

// HandleMove records a requested direction. A reversal of the current
// direction is ignored.
func (r *Room) HandleMove(playerID uint32, dir Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[playerID]
	if !ok || !p.Alive {
		return
	}
	if !Opposite(p.Direction, dir) {
		p.PendingDirection = dir
	}
}

// RemovePlayer drops a member, for example after a disconnect.
func (r *Room) RemovePlayer(playerID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[playerID]; !ok {
		return false
	}
	delete(r.players, playerID)
	return true
}

// Tick advances the simulation one step and broadcasts the result. It does
// nothing unless the room is Playing and reports whether a step happened.
func (r *Room) Tick() (Snapshot, bool) {
	snap, members, observer, ok := r.step()
	if !ok {
		return Snapshot{}, false
	}
	r.broadcast(snap, members, observer)
	return snap, true
}

// step resolves one tick inside a single critical section.
func (r *Room) step() (Snapshot, []*Player, func(Snapshot), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != RoomPlaying {
		return Snapshot{}, nil, nil, false
	}

	r.tick++
	r.advanceLocked()
	r.evaluateEndLocked()

	return r.snapshotLocked(), r.membersLocked(), r.observer, true
}

// advanceLocked moves every alive player one cell, in ascending id order.
func (r *Room) advanceLocked() {
	r.ensureFoodLocked()

	occupied := make(map[Pos]struct{})
	alive := make([]*Player, 0, len(r.players))
	for _, id := range r.sortedIDsLocked() {
		p := r.players[id]
		if !p.Alive || len(p.Segments) == 0 {
			continue
		}
		alive = append(alive, p)
		for _, seg := range p.Segments {
			occupied[seg] = struct{}{}
		}
	}

	for _, p := range alive {
		tail := p.Segments[len(p.Segments)-1]
		delete(occupied, tail)

		if !Opposite(p.Direction, p.PendingDirection) {
			p.Direction = p.PendingDirection
		}

		next := p.Segments[0].Step(p.Direction)
		_, hitBody := occupied[next]
		if !r.inBounds(next) || hitBody {
			p.Alive = false
			p.Segments = nil
			r.logger.Debug().Uint32("player", p.ID).Int("x", next.X).Int("y", next.Y).Msg("player died")
			continue
		}

		ate := r.eatLocked(next)
		if ate {
			p.Score++
			p.Segments = append([]Pos{next}, p.Segments...)
		} else {
			copy(p.Segments[1:], p.Segments[:len(p.Segments)-1])
			p.Segments[0] = next
		}
		occupied[next] = struct{}{}
	}

	r.ensureFoodLocked()
}

// evaluateEndLocked ends the game when at most one player is alive.
func (r *Room) evaluateEndLocked() {
	var last *Player
	alive := 0
	for _, p := range r.players {
		if p.Alive {
			alive++
			last = p
		}
	}

	switch alive {
	case 0:
		r.status = RoomWaiting
		r.finished = true
		r.logger.Info().Uint64("tick", r.tick).Msg("all players dead, game over")
	case 1:
		id := last.ID
		r.winner = &id
		r.status = RoomWaiting
		r.finished = true
		r.logger.Info().
			Uint32("winner", last.ID).
			Str("name", last.Name).
			Int("score", last.Score).
			Msg("game won")
	}
}

func (r *Room) inBounds(p Pos) bool {
	return p.X >= 0 && p.X < r.cfg.Width && p.Y >= 0 && p.Y < r.cfg.Height
}

func (r *Room) eatLocked(p Pos) bool {
	for i, f := range r.foods {
		if f == p {
			r.foods = append(r.foods[:i], r.foods[i+1:]...)
			return true
		}
	}
	return false
}

// ensureFoodLocked tops food up to the target on free cells. It gives up
// when the board has no free cell after a bounded number of tries.
func (r *Room) ensureFoodLocked() {
	if len(r.foods) >= r.cfg.FoodTarget {
		return
	}

	blocked := r.occupancyLocked()
	for _, f := range r.foods {
		blocked[f] = struct{}{}
	}

	tries := 4 * r.cfg.Width * r.cfg.Height
	for len(r.foods) < r.cfg.FoodTarget && tries > 0 {
		tries--
		c := Pos{r.rng.IntN(r.cfg.Width), r.rng.IntN(r.cfg.Height)}
		if _, ok := blocked[c]; ok {
			continue
		}
		r.foods = append(r.foods, c)
		blocked[c] = struct{}{}
	}
}

func (r *Room) occupancyLocked() map[Pos]struct{} {
	occupied := make(map[Pos]struct{})
	for _, p := range r.players {
		for _, seg := range p.Segments {
			occupied[seg] = struct{}{}
		}
	}
	return occupied
}

func (r *Room) sortedIDsLocked() []uint32 {
	ids := make([]uint32, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Room) membersLocked() []*Player {
	members := make([]*Player, 0, len(r.players))
	for _, id := range r.sortedIDsLocked() {
		members = append(members, r.players[id])
	}
	return members
}

// broadcast pushes snap to every member outside the room lock. Members whose
// send fails leave the room; the others still receive the snapshot.
func (r *Room) broadcast(snap Snapshot, members []*Player, observer func(Snapshot)) {
	var failed []uint32
	for _, p := range members {
		conn := p.Conn()
		if conn == nil {
			continue
		}
		if err := conn.Push(StateRoute, snap); err != nil {
			r.logger.Warn().Err(err).Uint32("player", p.ID).Msg("failed to push state, removing player")
			failed = append(failed, p.ID)
		}
	}

	if len(failed) > 0 {
		r.mu.Lock()
		for _, id := range failed {
			delete(r.players, id)
		}
		r.mu.Unlock()
	}

	if observer != nil {
		observer(snap)
	}
}

// Run ticks the room every TickInterval until the game ends or ctx is
// cancelled. A panic inside the simulation is contained here: it is logged
// and the room is marked finished.
func (r *Room) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.safeTick() || r.Finished() {
				return
			}
		}
	}
}

func (r *Room) safeTick() (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("room tick panicked, retiring room")
			r.mu.Lock()
			r.status = RoomWaiting
			r.finished = true
			r.mu.Unlock()
			ok = false
		}
	}()
	r.Tick()
	return true
}
