package fsm

import (
	"errors"
	"fmt"
	"sync"
)

// State describes where a voice recording is in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// ErrInvalidTransition is returned when an event is not allowed from the
// current state.
var ErrInvalidTransition = errors.New("invalid recorder transition")

// Event names a recorder transition.
type Event string

const (
	EventStart  Event = "start"
	EventPause  Event = "pause"
	EventResume Event = "resume"
	EventStop   Event = "stop"
	EventReset  Event = "reset"
)

// transitions maps each event to the states it may fire from and the
// state it leads to. Reset is allowed from anywhere.
var transitions = map[Event]struct {
	from []State
	to   State
}{
	EventStart:  {from: []State{StateIdle, StateStopped}, to: StateRecording},
	EventPause:  {from: []State{StateRecording}, to: StatePaused},
	EventResume: {from: []State{StatePaused}, to: StateRecording},
	EventStop:   {from: []State{StateRecording, StatePaused}, to: StateStopped},
}

// Machine is a lightweight deterministic recorder state machine.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// New creates a machine in the idle state.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Start begins a recording.
func (m *Machine) Start() error { return m.Fire(EventStart) }

// Pause suspends capture.
func (m *Machine) Pause() error { return m.Fire(EventPause) }

// Resume continues a paused recording.
func (m *Machine) Resume() error { return m.Fire(EventResume) }

// Stop ends the recording.
func (m *Machine) Stop() error { return m.Fire(EventStop) }

// Reset returns to idle from any state.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
}

// Fire applies event and returns ErrInvalidTransition when the current
// state does not allow it.
func (m *Machine) Fire(event Event) error {
	if event == EventReset {
		m.Reset()
		return nil
	}
	t, ok := transitions[event]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, from := range t.from {
		if m.state == from {
			m.state = t.to
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, m.state)
}

// Active reports whether audio should be captured.
func (m *Machine) Active() bool {
	return m.State() == StateRecording
}
