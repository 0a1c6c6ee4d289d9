package ofnr

import "fmt"

// State is a pipeline position. Runs move strictly forward.
type State string

const (
	StateRaw           State = "Raw"
	StateSanitized     State = "Sanitized"
	StateClassified    State = "Classified"
	StateNeedValidated State = "NeedValidated"
	StateRequestScored State = "RequestScored"
	StateAssembled     State = "Assembled"
	StateRejected      State = "Rejected"
)

var stateOrder = map[State]int{
	StateRaw:           0,
	StateSanitized:     1,
	StateClassified:    2,
	StateNeedValidated: 3,
	StateRequestScored: 4,
	StateAssembled:     5,
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateAssembled || s == StateRejected
}

// Next validates a transition and returns the new state. Any non-terminal
// state may move to Rejected; otherwise only the immediate successor is legal.
func (s State) Next(to State) (State, error) {
	if s.Terminal() {
		return s, fmt.Errorf("transition %s -> %s: %s is terminal", s, to, s)
	}
	if to == StateRejected {
		return to, nil
	}
	from, ok := stateOrder[s]
	if !ok {
		return s, fmt.Errorf("unknown state %q", s)
	}
	next, ok := stateOrder[to]
	if !ok {
		return s, fmt.Errorf("unknown state %q", to)
	}
	if next != from+1 {
		return s, fmt.Errorf("illegal transition %s -> %s", s, to)
	}
	return to, nil
}
