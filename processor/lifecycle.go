// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package processor

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// State is a lifecycle state of a processor.
type State string

// The lifecycle states.  Stopped is terminal.
const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateSyncing      State = "syncing"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// String returns the name of the state.
func (s State) String() string {
	return string(s)
}

// Lifecycle events.
const (
	eventConnect    = "connect"
	eventSync       = "sync"
	eventSynced     = "synced"
	eventFail       = "fail"
	eventDisconnect = "disconnect"
	eventStop       = "stop"
)

// newLifecycle creates the state machine driving a processor:
//
//	idle -> connecting -> syncing -> active <-> reconnecting
//
// A failed start falls back from connecting or syncing to idle.  Every state
// may be stopped.
func newLifecycle() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{
				Name: eventConnect,
				Src:  []string{StateIdle.String()},
				Dst:  StateConnecting.String(),
			},
			{
				Name: eventSync,
				Src:  []string{StateConnecting.String()},
				Dst:  StateSyncing.String(),
			},
			{
				Name: eventSynced,
				Src: []string{
					StateSyncing.String(),
					StateReconnecting.String(),
				},
				Dst: StateActive.String(),
			},
			{
				Name: eventFail,
				Src: []string{
					StateConnecting.String(),
					StateSyncing.String(),
				},
				Dst: StateIdle.String(),
			},
			{
				Name: eventDisconnect,
				Src:  []string{StateActive.String()},
				Dst:  StateReconnecting.String(),
			},
			{
				Name: eventStop,
				Src: []string{
					StateIdle.String(),
					StateConnecting.String(),
					StateSyncing.String(),
					StateActive.String(),
					StateReconnecting.String(),
				},
				Dst: StateStopped.String(),
			},
		},
		fsm.Callbacks{},
	)
}

// transition fires a lifecycle event.  Firing an event that would not change
// the state is not an error.
func (p *Processor) transition(event string) error {
	err := p.lifecycle.Event(context.Background(), event)

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Debugf("Processor state is now %s", p.lifecycle.Current())

	return nil
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	return State(p.lifecycle.Current())
}
