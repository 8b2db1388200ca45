package install

import "fmt"

// State is a step of the install lifecycle.
type State string

const (
	StateResolved     State = "resolved"
	StateFetched      State = "fetched"
	StateVerified     State = "verified"
	StateInstalled    State = "installed"
	StateCaveatsShown State = "caveats_shown"
	StateFailed       State = "failed"
)

var nextState = map[State]State{
	StateResolved:  StateFetched,
	StateFetched:   StateVerified,
	StateVerified:  StateInstalled,
	StateInstalled: StateCaveatsShown,
}

// CanTransition reports whether to may follow s. Failed is reachable from
// every non-terminal state; CaveatsShown and Failed are terminal.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return nextState[s] == to
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCaveatsShown || s == StateFailed
}

// machine tracks one formula's progress and reports transitions.
type machine struct {
	name     string
	state    State
	notifier Notifier
}

func newMachine(name string, n Notifier) *machine {
	m := &machine{name: name, state: StateResolved, notifier: n}
	n.StateChanged(name, "", StateResolved)
	return m
}

func (m *machine) advance(to State) error {
	if !m.state.CanTransition(to) {
		return fmt.Errorf("invalid install transition %s -> %s", m.state, to)
	}
	from := m.state
	m.state = to
	m.notifier.StateChanged(m.name, from, to)
	return nil
}

// fail moves to Failed and returns the state that was reached before.
func (m *machine) fail() State {
	reached := m.state
	if m.state.CanTransition(StateFailed) {
		_ = m.advance(StateFailed)
	}
	return reached
}
