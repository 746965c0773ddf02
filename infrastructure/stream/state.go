package stream

import (
	"fmt"
	"time"
)

// State is the connection state of a session
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
	Closed       State = "closed"
)

// transitions lists the states reachable from each state. Closed is terminal.
var transitions = map[State][]State{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Reconnecting, Closed},
	Connected:    {Reconnecting, Closed},
	Reconnecting: {Connecting, Closed},
	Closed:       {},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateChange is published to state handlers on every transition
type StateChange struct {
	From State
	To   State
	// Attempt is the reconnect attempt that produced the change, zero once stable
	Attempt int
	// Delay is the wait before the next dial when To is Reconnecting
	Delay time.Duration
	Err   error
}

func (c StateChange) String() string {
	return fmt.Sprintf("%s -> %s", c.From, c.To)
}
