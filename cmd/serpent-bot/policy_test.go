package main

import (
	"testing"

	"github.com/serpent-project/serpent/internal/game"
)

func snapshotWith(head game.Pos, dir game.Direction, foods ...game.Pos) game.Snapshot {
	tail := head.Step(oppositeOf(dir))
	return game.Snapshot{
		Width:  10,
		Height: 10,
		Foods:  foods,
		Players: []game.PlayerState{
			{ID: 1, Alive: true, Direction: dir, Segments: []game.Pos{head, tail}},
		},
	}
}

func oppositeOf(d game.Direction) game.Direction {
	for _, o := range allDirections {
		if game.Opposite(d, o) {
			return o
		}
	}
	return d
}

func TestChooseMovesTowardFood(t *testing.T) {
	snap := snapshotWith(game.Pos{X: 5, Y: 5}, game.Right, game.Pos{X: 5, Y: 1})
	dir, ok := choose(snap, 1)
	if !ok || dir != game.Up {
		t.Errorf("choose() = %v, %v; want Up", dir, ok)
	}
}

func TestChooseAvoidsWall(t *testing.T) {
	snap := snapshotWith(game.Pos{X: 9, Y: 0}, game.Right)
	dir, ok := choose(snap, 1)
	if !ok || dir != game.Down {
		t.Errorf("choose() = %v, %v; want Down", dir, ok)
	}
}

func TestChooseNeverReverses(t *testing.T) {
	// Food directly behind the head.
	snap := snapshotWith(game.Pos{X: 5, Y: 5}, game.Right, game.Pos{X: 2, Y: 5})
	dir, _ := choose(snap, 1)
	if dir == game.Left {
		t.Error("choose() reversed into its own body")
	}
}

func TestChooseAvoidsOtherSnakes(t *testing.T) {
	snap := snapshotWith(game.Pos{X: 5, Y: 5}, game.Right, game.Pos{X: 8, Y: 5})
	snap.Players = append(snap.Players, game.PlayerState{
		ID: 2, Alive: true, Segments: []game.Pos{{X: 6, Y: 5}, {X: 6, Y: 6}},
	})
	dir, ok := choose(snap, 1)
	if !ok || dir == game.Right {
		t.Errorf("choose() = %v, %v; should not move into another snake", dir, ok)
	}
}

func TestChooseDeadPlayer(t *testing.T) {
	snap := snapshotWith(game.Pos{X: 5, Y: 5}, game.Right)
	snap.Players[0].Alive = false
	if _, ok := choose(snap, 1); ok {
		t.Error("choose() should report false for a dead player")
	}
	if _, ok := choose(snap, 2); ok {
		t.Error("choose() should report false for an absent player")
	}
}
