package session

import "fmt"

// State is the lifecycle phase of a session. Transitions only move forward.
type State int32

const (
	StateInited State = iota
	StateWaitAck
	StateWorking
	StateClosed
)

var stateNames = map[State]string{
	StateInited:  "inited",
	StateWaitAck: "wait_ack",
	StateWorking: "working",
	StateClosed:  "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Role selects which side of the handshake a session plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// stateSet is a bitmask of states.
type stateSet uint8

func states(ss ...State) stateSet {
	var set stateSet
	for _, s := range ss {
		set |= 1 << uint(s)
	}
	return set
}

func (set stateSet) has(s State) bool {
	return set&(1<<uint(s)) != 0
}
