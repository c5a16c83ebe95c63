package main

import "github.com/serpent-project/serpent/internal/game"

var allDirections = []game.Direction{game.Up, game.Down, game.Left, game.Right}

// choose picks a direction for player self: the safe move that gets closest
// to the nearest food, or any safe move. It reports false when self is not
// alive in snap.
func choose(snap game.Snapshot, self uint32) (game.Direction, bool) {
	var me *game.PlayerState
	occupied := make(map[game.Pos]bool)
	for i := range snap.Players {
		p := &snap.Players[i]
		if !p.Alive {
			continue
		}
		if p.ID == self {
			me = p
		}
		for _, seg := range p.Segments {
			occupied[seg] = true
		}
	}
	if me == nil || len(me.Segments) == 0 {
		return 0, false
	}
	head := me.Segments[0]

	target, haveTarget := nearest(head, snap.Foods)

	best, bestDist, found := me.Direction, 0, false
	for _, d := range allDirections {
		if game.Opposite(d, me.Direction) {
			continue
		}
		next := head.Step(d)
		if next.X < 0 || next.Y < 0 || next.X >= snap.Width || next.Y >= snap.Height || occupied[next] {
			continue
		}
		dist := 0
		if haveTarget {
			dist = manhattan(next, target)
		}
		if !found || dist < bestDist || (dist == bestDist && d == me.Direction) {
			best, bestDist, found = d, dist, true
		}
	}
	return best, true
}

func nearest(from game.Pos, foods []game.Pos) (game.Pos, bool) {
	if len(foods) == 0 {
		return game.Pos{}, false
	}
	best := foods[0]
	for _, f := range foods[1:] {
		if manhattan(from, f) < manhattan(from, best) {
			best = f
		}
	}
	return best, true
}

func manhattan(a, b game.Pos) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
