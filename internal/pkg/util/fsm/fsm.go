// Package fsm adapts error-returning functions to looplab/fsm callbacks.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// Handler is a state callback that can fail the transition that triggered it.
type Handler func(ctx context.Context, event *fsm.Event) error

// WrapEvent turns fn into a callback. An error from fn is returned by
// (*fsm.FSM).Event; the state has already changed by then.
func WrapEvent(fn Handler) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// OnEnter builds the callbacks run when each state is entered.
func OnEnter(handlers map[string]Handler) fsm.Callbacks {
	callbacks := make(fsm.Callbacks, len(handlers))
	for state, fn := range handlers {
		callbacks["enter_"+state] = WrapEvent(fn)
	}
	return callbacks
}
