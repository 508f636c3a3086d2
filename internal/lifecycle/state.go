package lifecycle

import "fmt"

// State is a unit's position in the execution state machine.
type State string

const (
	Planned           State = "Planned"
	Submitted         State = "Submitted"
	Running           State = "Running"
	Succeeded         State = "Succeeded"
	Escalating        State = "Escalating"
	PermanentlyFailed State = "PermanentlyFailed"
)

// Terminal reports whether the state is final for the run.
func (s State) Terminal() bool {
	return s == Succeeded || s == PermanentlyFailed
}

// ExitOOM is the sentinel exit code reserved to mean "killed for exceeding
// memory" (128 + SIGKILL), the conventional code batch schedulers report for
// OOM kills.
const ExitOOM = 137

// allowed is the validated transition table.
var allowed = map[State][]State{
	Planned:    {Submitted},
	Submitted:  {Running},
	Running:    {Succeeded, Escalating, PermanentlyFailed},
	Escalating: {Submitted},
}

func allowedTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition mutates a record if and only if the transition is valid.
func (r *record) transition(unit string, to State) error {
	if !allowedTransition(r.state, to) {
		return fmt.Errorf("unit %q: disallowed transition %s -> %s", unit, r.state, to)
	}
	r.state = to
	return nil
}
