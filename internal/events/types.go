// Package events defines the lifecycle notifications published by the lobby.
// The bus is a side channel for observers such as telemetry; protocol
// dispatch never goes through it.
package events

import "time"

// EventType names a lifecycle notification.
type EventType string

const (
	// Player events
	EventPlayerConnected    EventType = "player_connected"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventPlayerKicked       EventType = "player_kicked"

	// Room events
	EventRoomStarted  EventType = "room_started"
	EventRoomFinished EventType = "room_finished"

	// System events
	EventHeartbeat EventType = "heartbeat"
	EventShutdown  EventType = "shutdown"
)

// AllEventTypes lists every lifecycle event in a stable order.
var AllEventTypes = []EventType{
	EventPlayerConnected,
	EventPlayerDisconnected,
	EventPlayerKicked,
	EventRoomStarted,
	EventRoomFinished,
	EventHeartbeat,
	EventShutdown,
}

// Event is a single notification.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// PlayerPayload describes a player joining, leaving or being kicked.
type PlayerPayload struct {
	PlayerID uint32 `json:"player_id"`
	Name     string `json:"name"`
	Remote   string `json:"remote,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// RoomPayload describes a room starting or being retired.
type RoomPayload struct {
	RoomID  uint32   `json:"room_id"`
	Players []uint32 `json:"players"`
	Tick    uint64   `json:"tick"`
	Winner  *uint32  `json:"winner,omitempty"`
}

// ShutdownPayload carries the reason the server is stopping.
type ShutdownPayload struct {
	Reason string `json:"reason"`
}

// HeartbeatPayload is the periodic status summary.
type HeartbeatPayload struct {
	Players       int     `json:"players"`
	Queued        int     `json:"queued"`
	Rooms         int     `json:"rooms"`
	Spectators    int     `json:"spectators"`
	Connections   int     `json:"connections"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}
