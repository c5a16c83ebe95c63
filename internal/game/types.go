// Package game implements the snake matchmaking queue and the tick-driven
// room simulation.
package game

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Direction is a movement direction on the grid. Y grows downwards.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionNames = map[Direction]string{
	Up:    "Up",
	Down:  "Down",
	Left:  "Left",
	Right: "Right",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection parses a direction name case-insensitively.
func ParseDirection(s string) (Direction, bool) {
	for d, name := range directionNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return d, true
		}
	}
	return 0, false
}

// Opposite reports whether a and b point in opposite directions.
func Opposite(a, b Direction) bool {
	switch a {
	case Up:
		return b == Down
	case Down:
		return b == Up
	case Left:
		return b == Right
	case Right:
		return b == Left
	}
	return false
}

// MarshalJSON encodes the direction as its name.
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a direction name or its numeric value.
func (d *Direction) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, ok := ParseDirection(name)
		if !ok {
			return fmt.Errorf("unknown direction %q", name)
		}
		*d = parsed
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid direction %s", data)
	}
	if _, ok := directionNames[Direction(n)]; !ok {
		return fmt.Errorf("unknown direction %d", n)
	}
	*d = Direction(n)
	return nil
}

// Pos is a grid cell.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Step returns the neighbouring cell in direction d.
func (p Pos) Step(d Direction) Pos {
	switch d {
	case Up:
		return Pos{p.X, p.Y - 1}
	case Down:
		return Pos{p.X, p.Y + 1}
	case Left:
		return Pos{p.X - 1, p.Y}
	case Right:
		return Pos{p.X + 1, p.Y}
	}
	return p
}

// PlayerStatus tracks where a player is in the matchmaking lifecycle.
type PlayerStatus int

const (
	StatusMatching PlayerStatus = iota
	StatusInGame
)

func (s PlayerStatus) String() string {
	if s == StatusInGame {
		return "in_game"
	}
	return "matching"
}

// MarshalJSON encodes the status as a string.
func (s PlayerStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// RoomStatus is the lifecycle phase of a room.
type RoomStatus int

const (
	RoomWaiting RoomStatus = iota
	RoomPlaying
)

func (s RoomStatus) String() string {
	if s == RoomPlaying {
		return "playing"
	}
	return "waiting"
}

// MarshalJSON encodes the status as a string.
func (s RoomStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the names produced by MarshalJSON.
func (s *RoomStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "waiting":
		*s = RoomWaiting
	case "playing":
		*s = RoomPlaying
	default:
		return fmt.Errorf("unknown room status %q", name)
	}
	return nil
}
