package lifecycle

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Policy is the bounded memory-escalation retry policy. On an OOM sentinel
// the requested memory is multiplied by Factor, clamped to CeilingBytes; once
// the sentinel recurs at the ceiling the unit fails permanently.
type Policy struct {
	Factor       float64
	CeilingBytes int64
}

func (p Policy) validate() error {
	if p.Factor <= 1 {
		return fmt.Errorf("escalation factor must be greater than 1, got %g", p.Factor)
	}
	if p.CeilingBytes <= 0 {
		return fmt.Errorf("escalation ceiling must be positive, got %d", p.CeilingBytes)
	}
	return nil
}

// next returns the escalated memory request, clamped to the ceiling.
func (p Policy) next(current int64) int64 {
	escalated := int64(float64(current) * p.Factor)
	if escalated > p.CeilingBytes || escalated <= current {
		return p.CeilingBytes
	}
	return escalated
}

// ResourceExhaustedError reports that a unit hit the OOM sentinel at the
// escalation ceiling and will not be retried.
type ResourceExhaustedError struct {
	Unit        string
	MemoryBytes int64
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("unit %q: out of memory at escalation ceiling %s", e.Unit, humanize.IBytes(uint64(e.MemoryBytes)))
}

// Outcome is the tracker's decision for one observed terminal result.
type Outcome struct {
	Unit  string
	State State

	// Retry is true exactly once per OOM observation below the ceiling; the
	// caller must then rebuild and resubmit the unit's task. Re-observing the
	// same attempt returns Retry=false.
	Retry bool

	// NextMemory is the escalated request when Retry is true.
	NextMemory int64

	ExitCode int
	Err      error
}

type record struct {
	state  State
	memory int64
	// seen maps attempt ids to their recorded outcome so repeated
	// observations of the same terminal result are no-ops.
	seen map[string]Outcome
}

// Tracker holds per-unit state for one run. It is not safe for concurrent
// use; the engine drives it from a single sequential loop.
type Tracker struct {
	policy Policy
	units  map[string]*record
}

// NewTracker validates the policy and returns an empty tracker.
func NewTracker(policy Policy) (*Tracker, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &Tracker{policy: policy, units: make(map[string]*record)}, nil
}

// Add registers a unit in Planned state. Unit identifiers are unique within
// a run; re-adding is an error.
func (t *Tracker) Add(unit string, initialMemory int64) error {
	if _, exists := t.units[unit]; exists {
		return fmt.Errorf("unit %q already tracked", unit)
	}
	if initialMemory <= 0 {
		return fmt.Errorf("unit %q: initial memory must be positive, got %d", unit, initialMemory)
	}
	if initialMemory > t.policy.CeilingBytes {
		return fmt.Errorf("unit %q: initial memory %d exceeds ceiling %d", unit, initialMemory, t.policy.CeilingBytes)
	}
	t.units[unit] = &record{
		state:  Planned,
		memory: initialMemory,
		seen:   make(map[string]Outcome),
	}
	return nil
}

// MarkSubmitted records that the unit's current task was handed to the
// execution framework (from Planned initially, or from Escalating on retry).
func (t *Tracker) MarkSubmitted(unit string) error {
	r, err := t.get(unit)
	if err != nil {
		return err
	}
	return r.transition(unit, Submitted)
}

// MarkRunning records a running status reported by the framework.
func (t *Tracker) MarkRunning(unit string) error {
	r, err := t.get(unit)
	if err != nil {
		return err
	}
	return r.transition(unit, Running)
}

// MarkFailed forces a unit into PermanentlyFailed regardless of its current
// state. Used when the run is cancelled or the framework loses the task.
func (t *Tracker) MarkFailed(unit string) {
	if r, ok := t.units[unit]; ok {
		r.state = PermanentlyFailed
	}
}

// Observe applies one terminal result for the given attempt and decides the
// unit's next state. Observing the same attempt twice returns the recorded
// outcome with Retry forced off, so escalation happens at most once per
// terminal observation.
func (t *Tracker) Observe(unit, attempt string, exitCode int) (Outcome, error) {
	r, err := t.get(unit)
	if err != nil {
		return Outcome{}, err
	}

	if prev, ok := r.seen[attempt]; ok {
		prev.Retry = false
		return prev, nil
	}

	// Tolerate frameworks that report termination without an intermediate
	// running status.
	if r.state == Submitted {
		if err := r.transition(unit, Running); err != nil {
			return Outcome{}, err
		}
	}

	outcome := Outcome{Unit: unit, ExitCode: exitCode}
	switch {
	case exitCode == 0:
		outcome.State = Succeeded

	case exitCode == ExitOOM && r.memory < t.policy.CeilingBytes:
		outcome.State = Escalating
		outcome.Retry = true
		outcome.NextMemory = t.policy.next(r.memory)

	case exitCode == ExitOOM:
		outcome.State = PermanentlyFailed
		outcome.Err = &ResourceExhaustedError{Unit: unit, MemoryBytes: r.memory}

	default:
		outcome.State = PermanentlyFailed
		outcome.Err = fmt.Errorf("unit %q: task exited with code %d", unit, exitCode)
	}

	if err := r.transition(unit, outcome.State); err != nil {
		return Outcome{}, err
	}
	if outcome.Retry {
		r.memory = outcome.NextMemory
	}
	r.seen[attempt] = outcome
	return outcome, nil
}

// State returns the unit's current state.
func (t *Tracker) State(unit string) (State, error) {
	r, err := t.get(unit)
	if err != nil {
		return "", err
	}
	return r.state, nil
}

// Memory returns the unit's current memory request.
func (t *Tracker) Memory(unit string) (int64, error) {
	r, err := t.get(unit)
	if err != nil {
		return 0, err
	}
	return r.memory, nil
}

// AllTerminal reports whether every tracked unit reached a terminal state.
func (t *Tracker) AllTerminal() bool {
	for _, r := range t.units {
		if !r.state.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns the number of units per state.
func (t *Tracker) Counts() map[State]int {
	counts := make(map[State]int)
	for _, r := range t.units {
		counts[r.state]++
	}
	return counts
}

func (t *Tracker) get(unit string) (*record, error) {
	r, ok := t.units[unit]
	if !ok {
		return nil, fmt.Errorf("unknown unit %q", unit)
	}
	return r, nil
}
