package attendance

import "fmt"

// State is the registration state. Exactly one value holds at any instant
// and only the Machine changes it.
type State int

const (
	AwaitingConditions State = iota
	Debouncing
	Submitting
	Registered
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingConditions:
		return "awaiting_conditions"
	case Debouncing:
		return "debouncing"
	case Submitting:
		return "submitting"
	case Registered:
		return "registered"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State render by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists every legal edge. Reset is handled separately and may
// leave any state except Submitting.
var transitions = map[State][]State{
	AwaitingConditions: {Debouncing},
	Debouncing:         {AwaitingConditions, Submitting},
	Submitting:         {Registered, Failed},
	Registered:         {},
	Failed:             {AwaitingConditions},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition describes a state change for observers.
type Transition struct {
	From   State
	To     State
	Reason string
}
