package ovpn

import "fmt"

// fsmCallback runs the side effect associated with a state transition.
type fsmCallback func(args []interface{})

// fsmTransition describes one edge of the state table: from a state, on
// any of events, call cb and move to to.
type fsmTransition struct {
	from, to string
	events   []string
	cb       fsmCallback
}

// fsm is a small table-driven state machine, shared by the control
// channel and the protocol orchestrator rather than each hand-rolling a
// switch statement.
type fsm struct {
	current string
	table   []fsmTransition
}

func (f *fsm) handleEvent(e string, args ...interface{}) error {
	for _, t := range f.table {
		if f.current != t.from {
			continue
		}
		for _, event := range t.events {
			if e == event {
				f.current = t.to
				if t.cb != nil {
					t.cb(args)
				}
				return nil
			}
		}
	}
	return fmt.Errorf("no transition defined for event %q in state %q", e, f.current)
}
