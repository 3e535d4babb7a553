// Package lifecycle persists fiscal documents and advances them through the
// emission state machine with compare-and-swap on the current state.
package lifecycle

import "github.com/rezonia/nfse-issuer/internal/model"

// transitions is the complete set of permitted moves
var transitions = map[model.State][]model.State{
	model.StateDraft:       {model.StateBuilt},
	model.StateBuilt:       {model.StateSigned},
	model.StateSigned:      {model.StateTransmitted},
	model.StateTransmitted: {model.StateAuthorized, model.StateRejected},
	model.StateAuthorized:  {model.StateCancelled},
	model.StateRejected:    {model.StateBuilt},
}

// Allowed reports whether from -> to is a permitted transition
func Allowed(from, to model.State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
