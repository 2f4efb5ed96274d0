package orders

type State string

const (
	StateActive            State = "ACTIVE"
	StatePaid              State = "PAID"
	StateExpired           State = "EXPIRED"
	StateManuallyFinalized State = "MANUALLY_FINALIZED"
)

// CREATED and ACTIVE are one state; every other state is terminal.
var validNext = map[State]map[State]bool{
	StateActive:            {StatePaid: true, StateExpired: true, StateManuallyFinalized: true},
	StatePaid:              {},
	StateExpired:           {},
	StateManuallyFinalized: {},
}

func CanTransition(from, to State) bool {
	return validNext[from][to]
}

func (s State) Terminal() bool {
	return len(validNext[s]) == 0
}
