package ledger

// state.go defines the lifecycle states a tracked resource moves through and
// the legal transitions between them. Anything not present in the transition
// table is rejected by 'MarkState', so an illegal move (say, re-activating a
// destroyed droplet) surfaces as an error at the call site instead of a
// silently corrupted record.

import "slices"

type State string

const (
	StateRequested    State = "requested"
	StateProvisioning State = "provisioning"
	StateActive       State = "active"
	StateInUse        State = "in-use"
	StateDestroying   State = "destroying"
	StateDestroyed    State = "destroyed"
	StateFailed       State = "failed"
)

// transitions holds, per state, the states a record may move to next.
// Terminal states have no entry.
//
// Requested may move straight to Destroying because a teardown pass can catch
// a record whose create call is still in flight.
var transitions = map[State][]State{
	StateRequested:    {StateProvisioning, StateDestroying, StateFailed},
	StateProvisioning: {StateActive, StateDestroying, StateFailed},
	StateActive:       {StateInUse, StateDestroying},
	StateInUse:        {StateDestroying},
	StateDestroying:   {StateDestroyed, StateFailed},
}

// Terminal reports whether no further transitions are possible from 's'.
func (s State) Terminal() bool {
	return s == StateDestroyed || s == StateFailed
}

// CanTransition reports whether moving from 's' to 'next' is legal.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}
