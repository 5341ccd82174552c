package pipeline

import "fmt"

// State of a verification session
type State string

const (
	StateCreated         State = "created"
	StateClaimsExtracted State = "claims_extracted"
	StateVerifying       State = "verifying"
	StateScored          State = "scored"
	StateResolved        State = "resolved"
	StateSettled         State = "settled"
)

// transitions lists the legal successors of each state. created -> resolved
// is the extraction-failure exit; claims_extracted -> resolved the no-claims
// exit.
var transitions = map[State][]State{
	StateCreated:         {StateClaimsExtracted, StateResolved},
	StateClaimsExtracted: {StateVerifying, StateResolved},
	StateVerifying:       {StateScored},
	StateScored:          {StateVerifying, StateResolved},
	StateResolved:        {StateSettled},
}

// machine tracks the state of one run
type machine struct {
	state State
}

func newMachine() *machine {
	return &machine{state: StateCreated}
}

func (m *machine) to(next State) error {
	for _, s := range transitions[m.state] {
		if s == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", m.state, next)
}
